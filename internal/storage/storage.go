// Package storage is the terminal's durable key/value store. It backs the
// offline order queue and the device identifier, the state a browser would
// keep in local storage.
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("key not found")
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)

// KV is a small durable key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
