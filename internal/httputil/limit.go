// Package httputil holds the body helpers the client uses around a single
// HTTP exchange: bounded reads, progress reporting and attachment names.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxBodyBytes is the buffered response limit when none is configured.
const DefaultMaxBodyBytes int64 = 10 << 20

// ErrBodyTooLarge means the response exceeded the configured limit.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// ReadBody buffers r, failing once more than limit bytes arrive. A limit of
// 0 or less reads everything. On overflow the first limit bytes are returned
// with the error.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return b, err
	}
	if int64(len(b)) > limit {
		return b[:limit], ErrBodyTooLarge
	}
	return b, nil
}
