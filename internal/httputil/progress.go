package httputil

import (
	"io"
	"mime"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// ProgressReader reports the bytes read so far after every Read.
// Total is -1 when the size is unknown.
type ProgressReader struct {
	r      io.Reader
	total  int64
	loaded atomic.Int64
	fn     types.ProgressFunc
}

// NewProgressReader wraps r. A nil fn makes it a plain pass-through.
func NewProgressReader(r io.Reader, total int64, fn types.ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		loaded := p.loaded.Add(int64(n))
		if p.fn != nil {
			p.fn(types.Progress{Loaded: loaded, Total: p.total})
		}
	}
	return n, err
}

// Loaded returns the bytes read so far.
func (p *ProgressReader) Loaded() int64 { return p.loaded.Load() }

// ProgressWriter reports the bytes written so far after every Write.
type ProgressWriter struct {
	w      io.Writer
	total  int64
	loaded int64
	fn     types.ProgressFunc
}

// NewProgressWriter wraps w.
func NewProgressWriter(w io.Writer, total int64, fn types.ProgressFunc) *ProgressWriter {
	return &ProgressWriter{w: w, total: total, fn: fn}
}

func (p *ProgressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.loaded += int64(n)
		if p.fn != nil {
			p.fn(types.Progress{Loaded: p.loaded, Total: p.total})
		}
	}
	return n, err
}

// Written returns the bytes written so far.
func (p *ProgressWriter) Written() int64 { return p.loaded }

// FilenameFromDisposition extracts a safe base file name from a
// Content-Disposition header value. It returns "" when none is present.
func FilenameFromDisposition(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	// Strip any directory component the server may have sent.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
