// Package storage persists the small set of session keys that must survive a
// restart. Values are opaque bytes; callers serialize them.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/blueberrycongee/reqlayer/internal/metrics"
)

// ErrInvalidKey is returned for empty keys or keys with control characters.
var ErrInvalidKey = errors.New("storage: invalid key")

// Storage is a durable key/value store. A missing key is reported by
// ok=false, never by an error.
type Storage interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidKey
		}
	}
	return nil
}

// Instrument records every call made to s under the backend label.
func Instrument(s Storage, backend string, c *metrics.Collector) Storage {
	if c == nil {
		return s
	}
	return &instrumented{Storage: s, backend: backend, metrics: c}
}

type instrumented struct {
	Storage
	backend string
	metrics *metrics.Collector
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := i.Storage.Get(ctx, key)
	i.metrics.RecordStorage(i.backend, "get", err)
	return v, ok, err
}

func (i *instrumented) Set(ctx context.Context, key string, value []byte) error {
	err := i.Storage.Set(ctx, key, value)
	i.metrics.RecordStorage(i.backend, "set", err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	err := i.Storage.Delete(ctx, key)
	i.metrics.RecordStorage(i.backend, "delete", err)
	return err
}
