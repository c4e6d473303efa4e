package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/backend"
	"github.com/wolfeidau/player-cache/store/metadb"
)

// MaxCompressedEntrySize bounds entries that are compressed in memory.
const MaxCompressedEntrySize = 8 << 20

// ErrEntryTooLarge is returned when a compressed category entry exceeds MaxCompressedEntrySize.
var ErrEntryTooLarge = errors.New("entry too large")

// MediaStore stores framed cache entries in a backend.Backend and keeps a
// per-category size and access index in metadb.
// Lyric entries are compressed with zstd.
type MediaStore struct {
	backend backend.Backend
	index   metadb.MetaDB
	logger  *slog.Logger
	now     func() time.Time

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// MediaOption configures a MediaStore instance.
type MediaOption func(*MediaStore)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) MediaOption {
	return func(m *MediaStore) {
		m.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) MediaOption {
	return func(m *MediaStore) {
		m.now = now
	}
}

// NewMediaStore creates a media store over a blob backend and an entry index.
func NewMediaStore(b backend.Backend, index metadb.MetaDB, opts ...MediaOption) (*MediaStore, error) {
	m := &MediaStore{
		backend: b,
		index:   index,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "store")

	var err error
	m.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	m.decoder, err = zstd.NewReader(nil)
	if err != nil {
		_ = m.encoder.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return m, nil
}

// Close releases the compression resources.
func (m *MediaStore) Close() error {
	m.decoder.Close()
	return m.encoder.Close()
}

func compressed(c playercache.Category) bool {
	return c == playercache.CategoryLyric
}

func checkCategory(c playercache.Category) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", playercache.ErrUnknownCategory, string(c))
	}
	return nil
}

// Put stores the content read from r as the entry for source in category,
// replacing any previous entry for the same source.
func (m *MediaStore) Put(ctx context.Context, category playercache.Category, source, contentType string, r io.Reader) (*PutResult, error) {
	if err := checkCategory(category); err != nil {
		return nil, err
	}

	hash := playercache.HashSource(source)
	key := playercache.EntryKey(category, hash)
	hr := playercache.NewHashingReader(r)

	var body io.Reader
	header := &backend.EntryHeader{
		ContentType: contentType,
		Source:      source,
		CachedAt:    m.now().UTC().Format(time.RFC3339Nano),
	}

	if compressed(category) {
		data, err := io.ReadAll(io.LimitReader(hr, MaxCompressedEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("reading content: %w", err)
		}
		if len(data) > MaxCompressedEntrySize {
			return nil, ErrEntryTooLarge
		}
		body = bytes.NewReader(m.encoder.EncodeAll(data, nil))
		header.Encoding = backend.EncodingZstd
	} else {
		// Spool to a temp file so large tracks never sit in memory
		tmpFile, err := os.CreateTemp("", "player-cache-upload-*")
		if err != nil {
			return nil, fmt.Errorf("creating temp file: %w", err)
		}
		defer func() { _ = os.Remove(tmpFile.Name()) }()
		defer func() { _ = tmpFile.Close() }()

		if _, err := io.Copy(tmpFile, hr); err != nil {
			return nil, fmt.Errorf("reading content: %w", err)
		}
		if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking temp file: %w", err)
		}
		body = tmpFile
	}
	header.ContentLength = hr.BytesRead()
	header.ContentHash = hr.Sum().String()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(backend.WriteFramed(pw, header, body))
	}()

	counter := &countingReader{r: pr}
	err := m.backend.Write(ctx, key, counter)
	_ = pr.CloseWithError(err)
	if err != nil {
		return nil, fmt.Errorf("%w: writing %s: %w", ErrBackend, key, err)
	}

	entry := &metadb.Entry{
		Category:    category,
		Hash:        hash.String(),
		Source:      source,
		Key:         key,
		ContentType: contentType,
		Size:        counter.n,
	}
	if err := m.index.PutEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("indexing %s: %w", key, err)
	}

	m.logger.Debug("stored entry",
		"category", category,
		"hash", hash.ShortString(),
		"size", counter.n,
		"content_length", header.ContentLength)

	return &PutResult{
		Category:      category,
		Hash:          hash,
		Key:           key,
		Size:          counter.n,
		ContentLength: header.ContentLength,
	}, nil
}

// Get opens the entry for source in category. The caller must close Body.
// Returns ErrNotFound if there is no entry.
func (m *MediaStore) Get(ctx context.Context, category playercache.Category, source string) (*Object, error) {
	if err := checkCategory(category); err != nil {
		return nil, err
	}
	hash := playercache.HashSource(source)
	key := playercache.EntryKey(category, hash)

	rc, err := m.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrBackend, key, err)
	}

	header, body, err := backend.ReadFramed(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("reading entry %s: %w", key, err)
	}

	obj := &Object{Header: header}
	if t, err := time.Parse(time.RFC3339Nano, header.CachedAt); err == nil {
		obj.CachedAt = t
	}

	switch header.Encoding {
	case "":
		obj.Body = struct {
			io.Reader
			io.Closer
		}{body, rc}
	case backend.EncodingZstd:
		data, err := io.ReadAll(body)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading entry %s: %w", key, err)
		}
		decoded, err := m.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing entry %s: %w", key, err)
		}
		obj.Body = io.NopCloser(bytes.NewReader(decoded))
	default:
		_ = rc.Close()
		return nil, fmt.Errorf("entry %s: unsupported encoding %q", key, header.Encoding)
	}

	// Touch is best effort; a stale access time only affects eviction order
	if err := m.index.TouchEntry(ctx, category, hash.String()); err != nil && !errors.Is(err, metadb.ErrNotFound) {
		m.logger.Warn("touching entry failed", "category", category, "hash", hash.ShortString(), "error", err)
	}

	return obj, nil
}

// Has reports whether an entry for source exists in category.
func (m *MediaStore) Has(ctx context.Context, category playercache.Category, source string) (bool, error) {
	if err := checkCategory(category); err != nil {
		return false, err
	}
	_, err := m.index.GetEntry(ctx, category, playercache.HashSource(source).String())
	if errors.Is(err, metadb.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the entry for source in category.
// Returns nil if the entry does not exist (idempotent).
func (m *MediaStore) Delete(ctx context.Context, category playercache.Category, source string) error {
	if err := checkCategory(category); err != nil {
		return err
	}
	hash := playercache.HashSource(source)
	return m.remove(ctx, category, hash.String(), playercache.EntryKey(category, hash))
}

// Evict removes an indexed entry, typically one returned by Oldest.
func (m *MediaStore) Evict(ctx context.Context, entry metadb.Entry) error {
	return m.remove(ctx, entry.Category, entry.Hash, entry.Key)
}

func (m *MediaStore) remove(ctx context.Context, category playercache.Category, hash, key string) error {
	if err := m.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: deleting %s: %w", ErrBackend, key, err)
	}
	if err := m.index.DeleteEntry(ctx, category, hash); err != nil {
		return fmt.Errorf("unindexing %s: %w", key, err)
	}
	return nil
}

// Touch marks the entry for source as recently used.
func (m *MediaStore) Touch(ctx context.Context, category playercache.Category, source string) error {
	if err := checkCategory(category); err != nil {
		return err
	}
	err := m.index.TouchEntry(ctx, category, playercache.HashSource(source).String())
	if errors.Is(err, metadb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// CacheSize returns the indexed bytes stored for a category.
func (m *MediaStore) CacheSize(ctx context.Context, category playercache.Category) (int64, error) {
	if err := checkCategory(category); err != nil {
		return 0, err
	}
	size, err := m.index.TotalSize(ctx, category)
	if err != nil {
		return 0, fmt.Errorf("%w: sizing %s: %w", ErrBackend, category, err)
	}
	return size, nil
}

// DiskUsage returns the bytes the backend reports under the category prefix.
// It walks storage, so it is slower than CacheSize.
func (m *MediaStore) DiskUsage(ctx context.Context, category playercache.Category) (int64, error) {
	if err := checkCategory(category); err != nil {
		return 0, err
	}
	sb, ok := m.backend.(backend.SizeAwareBackend)
	if !ok {
		return m.CacheSize(ctx, category)
	}
	size, err := sb.Usage(ctx, playercache.CategoryPrefix(category))
	if err != nil {
		return 0, fmt.Errorf("%w: measuring %s: %w", ErrBackend, category, err)
	}
	return size, nil
}

// ClearCache removes every entry in a category. Blobs are removed first;
// the index is only cleared once blob removal succeeds.
func (m *MediaStore) ClearCache(ctx context.Context, category playercache.Category) error {
	if err := checkCategory(category); err != nil {
		return err
	}
	if err := backend.DeletePrefix(ctx, m.backend, playercache.CategoryPrefix(category)); err != nil {
		return fmt.Errorf("%w: clearing %s: %w", ErrBackend, category, err)
	}
	removed, err := m.index.ClearCategory(ctx, category)
	if err != nil {
		return fmt.Errorf("%w: clearing %s index: %w", ErrBackend, category, err)
	}
	m.logger.Info("cleared cache", "category", category, "entries", removed)
	return nil
}

// Oldest returns up to limit entries of a category, least recently used first.
func (m *MediaStore) Oldest(ctx context.Context, category playercache.Category, limit int) ([]metadb.Entry, error) {
	if err := checkCategory(category); err != nil {
		return nil, err
	}
	return m.index.OldestEntries(ctx, category, limit)
}

// Reindex adds index records for stored entries of a category that are
// missing from the index, e.g. after the index file was lost.
// Returns the number of entries added.
func (m *MediaStore) Reindex(ctx context.Context, category playercache.Category) (int, error) {
	if err := checkCategory(category); err != nil {
		return 0, err
	}
	keys, err := m.backend.List(ctx, playercache.CategoryPrefix(category))
	if err != nil {
		return 0, fmt.Errorf("%w: listing %s: %w", ErrBackend, category, err)
	}

	added := 0
	for _, key := range keys {
		c, hash, err := playercache.ParseEntryKey(key)
		if err != nil || c != category {
			// Skip keys that are not entries
			continue
		}
		if _, err := m.index.GetEntry(ctx, category, hash.String()); err == nil {
			continue
		} else if !errors.Is(err, metadb.ErrNotFound) {
			return added, err
		}

		entry, err := m.readIndexEntry(ctx, category, hash, key)
		if err != nil {
			m.logger.Warn("skipping unreadable entry", "key", key, "error", err)
			continue
		}
		if err := m.index.PutEntry(ctx, entry); err != nil {
			return added, fmt.Errorf("indexing %s: %w", key, err)
		}
		added++
	}
	return added, nil
}

func (m *MediaStore) readIndexEntry(ctx context.Context, category playercache.Category, hash playercache.Hash, key string) (*metadb.Entry, error) {
	rc, err := m.backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	header, body, err := backend.ReadFramed(rc)
	if err != nil {
		return nil, err
	}
	bodySize, err := io.Copy(io.Discard, body)
	if err != nil {
		return nil, err
	}
	headerSize, err := framedOverhead(header)
	if err != nil {
		return nil, err
	}

	entry := &metadb.Entry{
		Category:    category,
		Hash:        hash.String(),
		Source:      header.Source,
		Key:         key,
		ContentType: header.ContentType,
		Size:        headerSize + bodySize,
	}
	if t, err := time.Parse(time.RFC3339Nano, header.CachedAt); err == nil {
		entry.CachedAt = t
	}
	return entry, nil
}

// framedOverhead returns the framing bytes written ahead of the body.
func framedOverhead(header *backend.EntryHeader) (int64, error) {
	var buf bytes.Buffer
	if err := backend.WriteFramed(&buf, header, bytes.NewReader(nil)); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

// countingReader wraps a reader and counts bytes read.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// Compile-time interface check
var _ Backend = (*MediaStore)(nil)
