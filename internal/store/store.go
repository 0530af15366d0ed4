// Package store is the durable key-value service the clients persist their
// snapshots to.
//
// Values are opaque byte blobs. Two backends exist: an in-process map, and
// Redis for snapshots that outlive the process. Both can enforce a maximum
// value size, which stands in for a device storage quota.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("key not found")
	// ErrCapacityExceeded is returned by Set when a value does not fit.
	ErrCapacityExceeded = errors.New("storage capacity exceeded")
)

// Store is an opaque get/set/remove service.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Options selects and configures a backend.
type Options struct {
	Backend       string // "memory" (default) or "redis"
	RedisURL      string
	KeyPrefix     string
	MaxValueBytes int  // 0 means unlimited
	Compress      bool // zstd-compress values before storing
}

// Open builds the backend named in opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	s, err := open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Compress {
		return NewCompressedStore(s), nil
	}
	return s, nil
}

func open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(opts.MaxValueBytes), nil
	case "redis":
		s, err := NewRedisStoreFromURL(opts.RedisURL, opts.KeyPrefix, opts.MaxValueBytes)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}

func checkSize(value []byte, max int) error {
	if max > 0 && len(value) > max {
		return fmt.Errorf("%w: %d bytes > %d", ErrCapacityExceeded, len(value), max)
	}
	return nil
}
