package metadb

import (
	"context"
	"errors"

	playercache "github.com/wolfeidau/player-cache"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("metadb: not found")

// MetaDB indexes cached entries per category and stores the settings document.
type MetaDB interface {
	// Lifecycle
	Open(path string) error
	Close() error

	// Entry index
	PutEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, category playercache.Category, hash string) (*Entry, error)
	DeleteEntry(ctx context.Context, category playercache.Category, hash string) error
	TouchEntry(ctx context.Context, category playercache.Category, hash string) error
	TotalSize(ctx context.Context, category playercache.Category) (int64, error)
	EntryCount(ctx context.Context, category playercache.Category) (int, error)
	ClearCategory(ctx context.Context, category playercache.Category) (int, error)
	OldestEntries(ctx context.Context, category playercache.Category, limit int) ([]Entry, error)

	// Settings document
	LoadSettings(ctx context.Context) ([]byte, error)
	SaveSettings(ctx context.Context, doc []byte) error
}

// New creates a new MetaDB backed by bbolt.
func New() MetaDB {
	return NewBoltDB()
}
