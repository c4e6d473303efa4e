// Package backend provides blob storage abstractions for the player cache.
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("not found")

// Backend defines the interface for storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key.
	// If the key already exists, it is overwritten.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	// The prefix uses "/" as the path separator.
	List(ctx context.Context, prefix string) ([]string, error)
}

// SizeAwareBackend extends Backend with size information.
type SizeAwareBackend interface {
	Backend

	// Size returns the size in bytes of the data at the given key.
	// Returns ErrNotFound if the key does not exist.
	Size(ctx context.Context, key string) (int64, error)

	// Usage returns the total bytes stored under prefix.
	// A prefix with no keys has zero usage.
	Usage(ctx context.Context, prefix string) (int64, error)
}

// PrefixDeleter removes every key under a prefix in one call.
type PrefixDeleter interface {
	// DeletePrefix removes all keys under prefix.
	// Returns nil if nothing exists under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// DeletePrefix removes all keys under prefix, using the backend's
// PrefixDeleter when available and falling back to List + Delete.
func DeletePrefix(ctx context.Context, b Backend, prefix string) error {
	if pd, ok := b.(PrefixDeleter); ok {
		return pd.DeletePrefix(ctx, prefix)
	}
	keys, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
