// Package errors defines the single normalized error type returned by the
// request layer. Transport, server, client and application failures are all
// mapped to *Error before they reach calling code.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies where a failure originated.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindServer      Kind = "server"
	KindClient      Kind = "client"
	KindApplication Kind = "application"
	KindCanceled    Kind = "canceled"
)

// Error is the normalized failure shape surfaced to callers.
// Message, Code and Details form the wire-facing part; the remaining fields
// carry request context for logging and decisions.
type Error struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Details any    `json:"details,omitempty"`

	Kind      Kind   `json:"kind"`
	Status    int    `json:"status,omitempty"`
	Method    string `json:"-"`
	URL       string `json:"-"`
	Attempts  int    `json:"-"`
	Retryable bool   `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("[%s] %s (method=%s, url=%s, code=%d, attempts=%d)",
			e.Kind, e.Message, e.Method, e.URL, e.Code, e.Attempts)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Kind, e.Message, e.Code)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithRequest records the request that produced the error.
func (e *Error) WithRequest(method, url string, attempts int) *Error {
	e.Method = method
	e.URL = url
	e.Attempts = attempts
	return e
}

// Fixed and default messages.
const (
	MsgConnectionFailed = "connection failed, check network"
	MsgCanceled         = "request canceled"
	MsgUnauthorized     = "unauthorized, please re-authenticate"
	MsgForbidden        = "forbidden"
	MsgNotFound         = "resource not found"
	MsgValidation       = "validation failed"
	MsgBadRequest       = "bad request"
	MsgConflict         = "conflict"
	MsgTooManyRequests  = "too many requests"
	MsgInternal         = "internal server error"
	MsgBadGateway       = "bad gateway"
	MsgUnavailable      = "service unavailable"
	MsgGatewayTimeout   = "gateway timeout"
	MsgApplication      = "request failed"
	MsgInvalidPayload   = "invalid response payload"
)

// Classify reports whether a failed attempt may be retried.
// A failure is retryable iff no response was received (pure network or
// timeout failure) or the status is in [500,600). Cancellation never is.
func Classify(status int, transportErr error) bool {
	if status == 0 {
		if transportErr == nil {
			return false
		}
		return !stderrors.Is(transportErr, context.Canceled)
	}
	return status >= 500 && status < 600
}

// FromStatus builds the terminal error for an HTTP failure status.
// serverMessage is the message the server supplied, possibly empty.
func FromStatus(status int, serverMessage string, details any) *Error {
	e := &Error{
		Code:      status,
		Status:    status,
		Details:   details,
		Kind:      KindClient,
		Retryable: Classify(status, nil),
	}
	if status >= 500 {
		e.Kind = KindServer
	}

	switch status {
	case http.StatusUnauthorized:
		e.Message = MsgUnauthorized
	case http.StatusForbidden:
		e.Message = orDefault(serverMessage, MsgForbidden)
	case http.StatusNotFound:
		e.Message = orDefault(serverMessage, MsgNotFound)
	case http.StatusUnprocessableEntity:
		e.Message = orDefault(serverMessage, MsgValidation)
	case http.StatusBadRequest:
		e.Message = orDefault(serverMessage, MsgBadRequest)
	case http.StatusConflict:
		e.Message = orDefault(serverMessage, MsgConflict)
	case http.StatusTooManyRequests:
		e.Message = orDefault(serverMessage, MsgTooManyRequests)
	case http.StatusInternalServerError:
		e.Message = MsgInternal
	case http.StatusBadGateway:
		e.Message = MsgBadGateway
	case http.StatusServiceUnavailable:
		e.Message = MsgUnavailable
	case http.StatusGatewayTimeout:
		e.Message = MsgGatewayTimeout
	default:
		e.Message = orDefault(serverMessage, fmt.Sprintf("request failed with status %d", status))
	}
	return e
}

// Transport builds the error for an attempt that received no response.
func Transport(cause error) *Error {
	return &Error{
		Message:   MsgConnectionFailed,
		Code:      0,
		Kind:      KindTransport,
		Retryable: true,
		cause:     cause,
	}
}

// Canceled builds the error for a call abandoned through its context.
func Canceled(cause error) *Error {
	return &Error{
		Message: MsgCanceled,
		Code:    0,
		Kind:    KindCanceled,
		cause:   cause,
	}
}

// Application builds the error for a 2xx response whose envelope reports
// success=false. The message is taken verbatim from the envelope.
func Application(status int, message, errField string, code *int, details any) *Error {
	msg := message
	if msg == "" {
		msg = errField
	}
	if msg == "" {
		msg = MsgApplication
	}
	c := status
	if code != nil {
		c = *code
	}
	return &Error{
		Message: msg,
		Code:    c,
		Status:  status,
		Details: details,
		Kind:    KindApplication,
	}
}

// Decode builds the error for a successful response whose payload could not
// be decoded into the caller's value.
func Decode(status int, cause error) *Error {
	return &Error{
		Message: MsgInvalidPayload,
		Code:    status,
		Status:  status,
		Kind:    KindClient,
		cause:   cause,
	}
}

// Rejected builds the error for a call aborted before it was sent, such as
// by a failing request interceptor or an invalid request.
func Rejected(cause error) *Error {
	return &Error{
		Message: cause.Error(),
		Kind:    KindClient,
		cause:   cause,
	}
}

// Wrap converts an arbitrary error to *Error. Values that already are *Error
// are returned unchanged; context errors become canceled errors; everything
// else is treated as a transport failure.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	if stderrors.Is(err, context.Canceled) {
		return Canceled(err)
	}
	return Transport(err)
}

// As extracts *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsStatus reports whether err is an *Error carrying the given HTTP status.
func IsStatus(err error, status int) bool {
	e, ok := As(err)
	return ok && e.Status == status
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
