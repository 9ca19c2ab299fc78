package storage

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// Memory keeps values in process memory. Nothing survives a restart; it is
// meant for tests and short-lived tools.
type Memory struct {
	cache *cache.Cache
}

// NewMemory creates an empty in-memory store. Entries never expire.
func NewMemory() *Memory {
	return &Memory{cache: cache.New(cache.NoExpiration, 0)}
}

// Get implements Storage.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), true, nil
}

// Set implements Storage.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.cache.Set(key, append([]byte(nil), value...), cache.NoExpiration)
	return nil
}

// Delete implements Storage.
func (m *Memory) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.cache.Delete(key)
	return nil
}

// Close implements Storage.
func (m *Memory) Close() error {
	m.cache.Flush()
	return nil
}
