package cache

import (
	"context"
	"errors"
)

var ErrKeyNotFound = errors.New("key not found")

// Store is the key-value interface that registry and session state are persisted through.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, val string) error
	Delete(ctx context.Context, key ...string) error

	// Scan returns every key with the given prefix and its value.
	Scan(ctx context.Context, prefix string) (map[string]string, error)
}
