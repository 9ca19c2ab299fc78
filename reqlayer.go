// Package reqlayer is the resilient request layer of an admin frontend: a
// single HTTP client façade with CSRF injection, cache-busting, envelope
// unwrapping, retry with exponential backoff, and error normalization.
//
// Basic usage:
//
//	client, err := reqlayer.New(reqlayer.WithBaseURL("https://admin.example.com"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	var kb []KnowledgeBase
//	if err := client.Get(ctx, "/api/kb", nil, &kb); err != nil {
//	    if e, ok := reqlayer.AsError(err); ok {
//	        log.Printf("%s (code %d)", e.Message, e.Code)
//	    }
//	}
package reqlayer

import (
	"github.com/blueberrycongee/reqlayer/pkg/errors"
	"github.com/blueberrycongee/reqlayer/pkg/types"
)

// Version is the current version of reqlayer.
const Version = "0.1.0"

// Re-export core types for convenience.
type (
	// Request describes one logical call.
	Request = types.Request

	// Envelope is the uniform response wire shape.
	Envelope = types.Envelope

	// Progress is a single transfer progress tick.
	Progress = types.Progress

	// ProgressFunc receives transfer ticks.
	ProgressFunc = types.ProgressFunc

	// User is the authenticated identity.
	User = types.User

	// Credentials are submitted to the login endpoint.
	Credentials = types.Credentials

	// Error is the normalized failure returned by every call.
	Error = errors.Error

	// ErrorKind classifies where a failure originated.
	ErrorKind = errors.Kind
)

// Error kinds.
const (
	KindTransport   = errors.KindTransport
	KindServer      = errors.KindServer
	KindClient      = errors.KindClient
	KindApplication = errors.KindApplication
	KindCanceled    = errors.KindCanceled
)

// AsError extracts the normalized error from err.
func AsError(err error) (*Error, bool) {
	return errors.As(err)
}
