// Package store provides the per-category media store that backs the
// cache size coordinator.
package store

import (
	"context"
	"errors"
	"io"
	"time"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/backend"
)

// ErrBackend marks failures of the cache storage backend.
var ErrBackend = errors.New("cache backend")

// ErrNotFound is returned when no entry exists for a source.
var ErrNotFound = backend.ErrNotFound

// Backend is the storage surface the cache size coordinator depends on.
// Implementations must be safe for concurrent use.
type Backend interface {
	// CacheSize returns the bytes currently used by a category.
	CacheSize(ctx context.Context, category playercache.Category) (int64, error)

	// ClearCache evicts every entry in a category.
	ClearCache(ctx context.Context, category playercache.Category) error
}

// PutResult contains information about a Put operation.
type PutResult struct {
	Category playercache.Category
	Hash     playercache.Hash
	Key      string
	// Size is the number of bytes stored, after framing and compression.
	Size int64
	// ContentLength is the decoded body length.
	ContentLength int64
}

// Object is a cached entry opened for reading.
type Object struct {
	Header   *backend.EntryHeader
	Body     io.ReadCloser
	CachedAt time.Time
}
