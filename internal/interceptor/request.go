package interceptor

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/reqlayer/internal/csrf"
	"github.com/blueberrycongee/reqlayer/internal/observability"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// DefaultCacheBusterParam is the query parameter carrying the cache-busting timestamp.
const DefaultCacheBusterParam = "_t"

// CSRF attaches the current token to mutating requests. The source is read
// on every attempt and the header is only set when a token is available.
func CSRF(source csrf.Source, header string) RequestFunc {
	if header == "" {
		header = csrf.DefaultHeaderName
	}
	return func(req *http.Request) (*http.Request, error) {
		if source == nil || !types.IsMutating(req.Method) {
			return req, nil
		}
		if token := source.Token(); token != "" {
			req.Header.Set(header, token)
		}
		return req, nil
	}
}

// CacheBuster appends a millisecond timestamp to GET requests. Values are
// strictly increasing across the process so two GETs never share a URL.
func CacheBuster(param string) RequestFunc {
	if param == "" {
		param = DefaultCacheBusterParam
	}
	var last atomic.Int64
	next := func() int64 {
		for {
			prev := last.Load()
			now := time.Now().UnixMilli()
			if now <= prev {
				now = prev + 1
			}
			if last.CompareAndSwap(prev, now) {
				return now
			}
		}
	}
	return func(req *http.Request) (*http.Request, error) {
		if req.Method != http.MethodGet {
			return req, nil
		}
		q := req.URL.Query()
		q.Set(param, strconv.FormatInt(next(), 10))
		req.URL.RawQuery = q.Encode()
		return req, nil
	}
}

// RequestID sets X-Request-ID from the request context, generating one when
// the context carries none. Every attempt of a call shares the ID.
func RequestID() RequestFunc {
	return func(req *http.Request) (*http.Request, error) {
		if req.Header.Get(observability.RequestIDHeader) != "" {
			return req, nil
		}
		ctx, id := observability.GetOrCreateRequestID(req.Context())
		req = req.WithContext(ctx)
		req.Header.Set(observability.RequestIDHeader, id)
		return req, nil
	}
}

// TracePropagation injects the trace context of the request into its headers.
func TracePropagation() RequestFunc {
	return func(req *http.Request) (*http.Request, error) {
		observability.InjectHeaders(req.Context(), req.Header)
		return req, nil
	}
}
