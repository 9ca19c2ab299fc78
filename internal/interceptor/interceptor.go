// Package interceptor implements the ordered request and response stages
// every call passes through. Request stages rewrite the outgoing attempt;
// response stages turn the raw attempt result into a decision: resolve,
// retry after a delay, or fail with a normalized error.
package interceptor

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// RequestFunc rewrites an outgoing attempt. Returning an error aborts the
// call without retry.
type RequestFunc func(*http.Request) (*http.Request, error)

// ResponseFunc inspects or rewrites the result of an attempt.
type ResponseFunc func(*Outcome) *Outcome

// Outcome is the result of a single attempt as seen by response stages.
type Outcome struct {
	// Request is the logical call. Its Retry state survives across attempts.
	Request *types.Request
	// HTTPRequest is the attempt that was sent.
	HTTPRequest *http.Request

	// Status is 0 when no response was received.
	Status int
	Header http.Header
	Body   []byte

	// Err is the transport error of the attempt, or the terminal error once
	// a stage has decided the call failed.
	Err error
	// Terminal marks Err as final. Later stages leave it untouched.
	Terminal bool

	// Data is the unwrapped payload of a successful call.
	Data json.RawMessage

	// Retry asks the caller to resubmit Request after Delay.
	Retry bool
	Delay time.Duration
}

// OK reports whether the attempt received a 2xx response.
func (o *Outcome) OK() bool {
	return o.Err == nil && o.Status >= 200 && o.Status < 300
}

// Method returns the request method.
func (o *Outcome) Method() string {
	if o.HTTPRequest != nil {
		return o.HTTPRequest.Method
	}
	if o.Request != nil {
		return o.Request.Method
	}
	return ""
}

// URL returns the request URL without the query string.
func (o *Outcome) URL() string {
	if o.HTTPRequest != nil && o.HTTPRequest.URL != nil {
		u := *o.HTTPRequest.URL
		u.RawQuery = ""
		return u.String()
	}
	if o.Request != nil {
		return o.Request.URL
	}
	return ""
}

// Attempts returns the number of attempts made for the call so far.
func (o *Outcome) Attempts() int {
	if o.Request == nil {
		return 1
	}
	return o.Request.Attempts()
}

// Chain holds the request and response stages in execution order.
type Chain struct {
	Request  []RequestFunc
	Response []ResponseFunc
}

// ApplyRequest runs every request stage in order.
func (c *Chain) ApplyRequest(req *http.Request) (*http.Request, error) {
	for _, fn := range c.Request {
		if fn == nil {
			continue
		}
		next, err := fn(req)
		if err != nil {
			return nil, err
		}
		if next != nil {
			req = next
		}
	}
	return req, nil
}

// ApplyResponse runs every response stage in order. A stage returning nil
// keeps the previous outcome.
func (c *Chain) ApplyResponse(o *Outcome) *Outcome {
	for _, fn := range c.Response {
		if fn == nil {
			continue
		}
		if next := fn(o); next != nil {
			o = next
		}
	}
	return o
}
