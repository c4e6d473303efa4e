package metadb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	playercache "github.com/wolfeidau/player-cache"
)

// BoltDB implements MetaDB using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltDBOption configures a BoltDB instance.
type BoltDBOption func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltDBOption {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltDBOption {
	return func(b *BoltDB) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltDBOption {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...BoltDBOption) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return err
	}

	b.logger.Debug("opened metadb", "path", path, "noSync", b.noSync)
	return nil
}

func (b *BoltDB) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketAccess} {
			parent, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
			for _, c := range playercache.Categories() {
				if _, err := parent.CreateBucketIfNotExists(categoryKey(c)); err != nil {
					return fmt.Errorf("creating bucket %s/%s: %w", name, c, err)
				}
			}
		}
		for _, name := range [][]byte{bucketSizes, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing metadb")
	err := b.db.Close()
	b.db = nil
	return err
}

// DB returns the underlying bbolt database.
func (b *BoltDB) DB() *bbolt.DB {
	return b.db
}

// categoryBuckets resolves the nested entry and access buckets for a category.
func categoryBuckets(tx *bbolt.Tx, c playercache.Category) (entries, access *bbolt.Bucket, err error) {
	if !c.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", playercache.ErrUnknownCategory, string(c))
	}
	entries = tx.Bucket(bucketEntries).Bucket(categoryKey(c))
	access = tx.Bucket(bucketAccess).Bucket(categoryKey(c))
	if entries == nil || access == nil {
		return nil, nil, fmt.Errorf("buckets for %s not found", c)
	}
	return entries, access, nil
}

func getEntryInTx(bucket *bbolt.Bucket, hash string) (*Entry, error) {
	val := bucket.Get([]byte(hash))
	if val == nil {
		return nil, ErrNotFound
	}
	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, fmt.Errorf("unmarshaling entry: %w", err)
	}
	return &entry, nil
}

func addSizeInTx(tx *bbolt.Tx, c playercache.Category, delta int64) error {
	sizes := tx.Bucket(bucketSizes)
	total := decodeSize(sizes.Get(categoryKey(c))) + delta
	if total < 0 {
		total = 0
	}
	return sizes.Put(categoryKey(c), encodeSize(total))
}

// PutEntry stores an entry, replacing any previous entry with the same hash.
// CachedAt and LastAccess default to now when zero.
func (b *BoltDB) PutEntry(_ context.Context, entry *Entry) error {
	if entry.Hash == "" {
		return errors.New("entry hash is required")
	}
	now := b.now()
	if entry.CachedAt.IsZero() {
		entry.CachedAt = now
	}
	if entry.LastAccess.IsZero() {
		entry.LastAccess = now
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		entries, access, err := categoryBuckets(tx, entry.Category)
		if err != nil {
			return err
		}

		delta := entry.Size
		if old, err := getEntryInTx(entries, entry.Hash); err == nil {
			delta -= old.Size
			if err := access.Delete(makeAccessKey(old.LastAccess, old.Hash)); err != nil {
				return fmt.Errorf("deleting old access index: %w", err)
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		if err := entries.Put([]byte(entry.Hash), data); err != nil {
			return fmt.Errorf("putting entry: %w", err)
		}
		if err := access.Put(makeAccessKey(entry.LastAccess, entry.Hash), []byte(entry.Hash)); err != nil {
			return fmt.Errorf("putting access index: %w", err)
		}
		return addSizeInTx(tx, entry.Category, delta)
	})
}

// GetEntry retrieves an entry by category and hash.
func (b *BoltDB) GetEntry(_ context.Context, category playercache.Category, hash string) (*Entry, error) {
	var entry *Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		entries, _, err := categoryBuckets(tx, category)
		if err != nil {
			return err
		}
		entry, err = getEntryInTx(entries, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteEntry removes an entry. Deleting a missing entry is not an error.
func (b *BoltDB) DeleteEntry(_ context.Context, category playercache.Category, hash string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		entries, access, err := categoryBuckets(tx, category)
		if err != nil {
			return err
		}
		old, err := getEntryInTx(entries, hash)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := access.Delete(makeAccessKey(old.LastAccess, old.Hash)); err != nil {
			return fmt.Errorf("deleting access index: %w", err)
		}
		if err := entries.Delete([]byte(hash)); err != nil {
			return fmt.Errorf("deleting entry: %w", err)
		}
		return addSizeInTx(tx, category, -old.Size)
	})
}

// TouchEntry moves an entry to the most recently used position.
func (b *BoltDB) TouchEntry(_ context.Context, category playercache.Category, hash string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		entries, access, err := categoryBuckets(tx, category)
		if err != nil {
			return err
		}
		entry, err := getEntryInTx(entries, hash)
		if err != nil {
			return err
		}
		if err := access.Delete(makeAccessKey(entry.LastAccess, hash)); err != nil {
			return fmt.Errorf("deleting access index: %w", err)
		}
		entry.LastAccess = b.now()
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		if err := entries.Put([]byte(hash), data); err != nil {
			return fmt.Errorf("putting entry: %w", err)
		}
		return access.Put(makeAccessKey(entry.LastAccess, hash), []byte(hash))
	})
}

// TotalSize returns the sum of entry sizes in a category.
func (b *BoltDB) TotalSize(_ context.Context, category playercache.Category) (int64, error) {
	if !category.Valid() {
		return 0, fmt.Errorf("%w: %q", playercache.ErrUnknownCategory, string(category))
	}
	var total int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		total = decodeSize(tx.Bucket(bucketSizes).Get(categoryKey(category)))
		return nil
	})
	return total, err
}

// EntryCount returns the number of entries in a category.
func (b *BoltDB) EntryCount(_ context.Context, category playercache.Category) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		entries, _, err := categoryBuckets(tx, category)
		if err != nil {
			return err
		}
		n = entries.Stats().KeyN
		return nil
	})
	return n, err
}

// ClearCategory removes every entry in a category and resets its total.
// Returns the number of entries removed.
func (b *BoltDB) ClearCategory(_ context.Context, category playercache.Category) (int, error) {
	var removed int
	err := b.db.Update(func(tx *bbolt.Tx) error {
		entries, _, err := categoryBuckets(tx, category)
		if err != nil {
			return err
		}
		removed = entries.Stats().KeyN

		for _, name := range [][]byte{bucketEntries, bucketAccess} {
			parent := tx.Bucket(name)
			if err := parent.DeleteBucket(categoryKey(category)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("deleting bucket %s/%s: %w", name, category, err)
			}
			if _, err := parent.CreateBucket(categoryKey(category)); err != nil {
				return fmt.Errorf("recreating bucket %s/%s: %w", name, category, err)
			}
		}
		return tx.Bucket(bucketSizes).Put(categoryKey(category), encodeSize(0))
	})
	if err != nil {
		return 0, err
	}
	b.logger.Debug("cleared category index", "category", category, "entries", removed)
	return removed, nil
}

// OldestEntries returns up to limit entries ordered by least recent access.
func (b *BoltDB) OldestEntries(_ context.Context, category playercache.Category, limit int) ([]Entry, error) {
	var result []Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		entries, access, err := categoryBuckets(tx, category)
		if err != nil {
			return err
		}
		cursor := access.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			if limit > 0 && len(result) >= limit {
				break
			}
			_, hash := parseAccessKey(k)
			entry, err := getEntryInTx(entries, hash)
			if errors.Is(err, ErrNotFound) {
				// stale access key, skipped
				continue
			}
			if err != nil {
				return err
			}
			result = append(result, *entry)
		}
		return nil
	})
	return result, err
}

// LoadSettings returns the stored settings document.
// Returns ErrNotFound if no document has been saved.
func (b *BoltDB) LoadSettings(_ context.Context) ([]byte, error) {
	var doc []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSettings).Get(settingsDocumentKey)
		if val == nil {
			return ErrNotFound
		}
		doc = make([]byte, len(val))
		copy(doc, val)
		return nil
	})
	return doc, err
}

// SaveSettings replaces the stored settings document.
func (b *BoltDB) SaveSettings(_ context.Context, doc []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSettings).Put(settingsDocumentKey, doc); err != nil {
			return fmt.Errorf("putting settings: %w", err)
		}
		return nil
	})
}

// Compile-time interface check
var _ MetaDB = (*BoltDB)(nil)
