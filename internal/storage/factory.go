package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/blueberrycongee/reqlayer/internal/config"
	"github.com/blueberrycongee/reqlayer/internal/metrics"
)

// Open builds the backend selected by cfg.Type, instrumented with c and
// namespaced by cfg.Prefix.
func Open(ctx context.Context, cfg config.StorageConfig, c *metrics.Collector) (Storage, error) {
	backend := strings.ToLower(cfg.Type)
	var (
		s   Storage
		err error
	)
	switch backend {
	case "", "memory":
		backend = "memory"
		s = NewMemory()
	case "file":
		s, err = NewFile(cfg.File.Dir)
	case "redis":
		s, err = NewRedis(ctx, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
	case "postgres":
		s, err = NewPostgres(ctx, PostgresConfig{
			DSN:          cfg.Postgres.DSN,
			Table:        cfg.Postgres.Table,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
		})
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return WithPrefix(Instrument(s, backend, c), cfg.Prefix), nil
}

// WithPrefix namespaces every key of s. An empty prefix returns s unchanged.
func WithPrefix(s Storage, prefix string) Storage {
	if prefix == "" {
		return s
	}
	return &prefixed{Storage: s, prefix: prefix}
}

type prefixed struct {
	Storage
	prefix string
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	return p.Storage.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return p.Storage.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return p.Storage.Delete(ctx, p.prefix+key)
}
