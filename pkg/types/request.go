package types //nolint:revive // package name is intentional

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one logical call through the client. Retries of the call
// resubmit the same Request; Retry is attached lazily on the first retryable
// failure and shared by every retry.
type Request struct {
	Method string
	// URL is either absolute or a path relative to the client base URL.
	URL    string
	Params url.Values
	// Body is JSON-encoded for every attempt. Ignored when RawBody is set.
	Body any
	// RawBody and ContentType carry pre-encoded payloads such as multipart uploads.
	RawBody     []byte
	ContentType string
	Header      http.Header

	// MaxRetries overrides the client retry limit for this call. Zero disables retries.
	MaxRetries *int
	// IdempotencyKey is sent as the Idempotency-Key header. Mutating requests
	// are only retried automatically when it is set.
	IdempotencyKey string

	// Progress receives transfer ticks for uploads and downloads.
	Progress ProgressFunc

	Retry *RetryState
}

// RetryState tracks retries of a single Request.
type RetryState struct {
	Count      int
	MaxRetries int
	BaseDelay  time.Duration
}

// Exhausted reports whether no retries remain.
func (s *RetryState) Exhausted() bool {
	return s.Count >= s.MaxRetries
}

// Attempts returns the number of attempts made so far for req.
func (r *Request) Attempts() int {
	if r.Retry == nil {
		return 1
	}
	return r.Retry.Count + 1
}

// Progress is a single transfer progress tick. Total is -1 when unknown.
type Progress struct {
	Loaded int64 `json:"loaded"`
	Total  int64 `json:"total"`
}

// ProgressFunc is invoked on each transport progress tick.
type ProgressFunc func(Progress)

// IsMutating reports whether method changes server state and therefore
// carries a CSRF token.
func IsMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// IsSafe reports whether method may be retried without an idempotency key.
func IsSafe(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
