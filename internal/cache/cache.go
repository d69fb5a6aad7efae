// Package cache provides the string-keyed cache collaborator used by the
// settings store, backed by Redis in production or an in-process LRU for
// tests and cache-less deployments.
package cache

import (
	"context"
	"errors"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Cache stores serialized values under namespaced string keys. Values
// are opaque bytes; callers own serialization.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}
