package reqlayer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/blueberrycongee/reqlayer/internal/httputil"
	"github.com/blueberrycongee/reqlayer/pkg/errors"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// UploadFile is one file part of a multipart upload.
type UploadFile struct {
	// Field is the form field name. Defaults to "file".
	Field    string
	Filename string
	Content  io.Reader
}

// UploadRequest describes a multipart/form-data upload.
type UploadRequest struct {
	Fields map[string]string
	Files  []UploadFile
}

// DownloadInfo describes a completed download.
type DownloadInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Upload posts req as multipart/form-data and decodes the unwrapped payload
// into out. progress, when set, receives upload ticks.
func (c *Client) Upload(ctx context.Context, path string, req UploadRequest, out any, progress types.ProgressFunc, opts ...CallOption) error {
	payload, contentType, err := encodeMultipart(req)
	if err != nil {
		return errors.Rejected(err).WithRequest(http.MethodPost, path, 1)
	}
	r := &types.Request{
		Method:      http.MethodPost,
		URL:         path,
		RawBody:     payload,
		ContentType: contentType,
		Progress:    progress,
	}
	for _, opt := range opts {
		opt(r)
	}
	return c.Do(ctx, r, out)
}

func encodeMultipart(req UploadRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range req.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, f := range req.Files {
		if f.Content == nil {
			return nil, "", fmt.Errorf("file %q has no content", f.Filename)
		}
		field := f.Field
		if field == "" {
			field = "file"
		}
		part, err := mw.CreateFormFile(field, filepath.Base(f.Filename))
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", f.Filename, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("copy %s: %w", f.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// Download streams a GET response body into w. Error statuses are handled
// like any other call; a failure after bytes were written is not retried.
// A JSON response carrying success=false fails the call and leaves w untouched.
func (c *Client) Download(ctx context.Context, path string, params url.Values, w io.Writer, progress types.ProgressFunc, opts ...CallOption) (*DownloadInfo, error) {
	r := &types.Request{
		Method:   http.MethodGet,
		URL:      path,
		Params:   params,
		Progress: progress,
	}
	for _, opt := range opts {
		opt(r)
	}

	cw := &countingWriter{w: w}
	o, err := c.roundTrip(ctx, r, cw)
	if err != nil {
		return nil, err
	}

	info := &DownloadInfo{Size: cw.n}
	if o.Header != nil {
		info.Filename = httputil.FilenameFromDisposition(o.Header.Get("Content-Disposition"))
		info.ContentType = o.Header.Get("Content-Type")
	}
	return info, nil
}

// DownloadFile downloads into dir, naming the file after the
// Content-Disposition header or, failing that, a timestamped default.
// It returns the path of the written file.
func (c *Client) DownloadFile(ctx context.Context, path string, params url.Values, dir string, progress types.ProgressFunc, opts ...CallOption) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Rejected(fmt.Errorf("create download dir: %w", err))
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", errors.Rejected(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	info, err := c.Download(ctx, path, params, tmp, progress, opts...)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = errors.Rejected(fmt.Errorf("close temp file: %w", closeErr))
	}
	if err != nil {
		return "", err
	}

	name := info.Filename
	if name == "" {
		name = "download_" + strconv.FormatInt(time.Now().Unix(), 10)
	}
	dest := filepath.Join(dir, name)
	if err := os.Rename(tmpName, dest); err != nil {
		return "", errors.Rejected(fmt.Errorf("save download: %w", err))
	}
	c.logger.Info("download saved", "path", dest, "bytes", info.Size)
	return dest, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
