package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/backend"
	"github.com/wolfeidau/player-cache/store/metadb"
)

type testEnv struct {
	fs    *backend.Filesystem
	index *metadb.BoltDB
	store *MediaStore
}

func newTestStore(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	fs, err := backend.NewFilesystem(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	index := metadb.NewBoltDB(metadb.WithNoSync(true))
	require.NoError(t, index.Open(filepath.Join(dir, "index.db")))
	t.Cleanup(func() { _ = index.Close() })

	m, err := NewMediaStore(fs, index)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return &testEnv{fs: fs, index: index, store: m}
}

func readObject(t *testing.T, obj *Object) string {
	t.Helper()
	defer func() { _ = obj.Body.Close() }()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	return string(data)
}

func TestMediaStore_PutGet(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	src := "https://music.example.com/track/1.mp3"
	res, err := env.store.Put(ctx, playercache.CategoryMusic, src, "audio/mpeg", strings.NewReader("ID3 audio bytes"))
	require.NoError(t, err)
	assert.Equal(t, playercache.EntryKey(playercache.CategoryMusic, playercache.HashSource(src)), res.Key)
	assert.Equal(t, int64(len("ID3 audio bytes")), res.ContentLength)
	assert.Greater(t, res.Size, res.ContentLength)

	obj, err := env.store.Get(ctx, playercache.CategoryMusic, src)
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", obj.Header.ContentType)
	assert.Equal(t, src, obj.Header.Source)
	assert.Empty(t, obj.Header.Encoding)
	assert.False(t, obj.CachedAt.IsZero())
	assert.Equal(t, "ID3 audio bytes", readObject(t, obj))
}

func TestMediaStore_LyricIsCompressed(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	lyric := strings.Repeat("[00:12.00] la la la\n", 200)
	res, err := env.store.Put(ctx, playercache.CategoryLyric, "lyric-42", "text/plain", strings.NewReader(lyric))
	require.NoError(t, err)
	assert.Less(t, res.Size, int64(len(lyric)))

	obj, err := env.store.Get(ctx, playercache.CategoryLyric, "lyric-42")
	require.NoError(t, err)
	assert.Equal(t, backend.EncodingZstd, obj.Header.Encoding)
	assert.Equal(t, lyric, readObject(t, obj))
}

func TestMediaStore_GetNotFound(t *testing.T) {
	env := newTestStore(t)

	_, err := env.store.Get(context.Background(), playercache.CategoryImage, "missing.jpg")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMediaStore_UnknownCategory(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	_, err := env.store.Put(ctx, "video", "x", "", strings.NewReader("x"))
	require.ErrorIs(t, err, playercache.ErrUnknownCategory)

	_, err = env.store.CacheSize(ctx, "video")
	require.ErrorIs(t, err, playercache.ErrUnknownCategory)

	require.ErrorIs(t, env.store.ClearCache(ctx, "video"), playercache.ErrUnknownCategory)
}

func TestMediaStore_CacheSizeTracksPutsAndDeletes(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	a, err := env.store.Put(ctx, playercache.CategoryImage, "a.jpg", "image/jpeg", strings.NewReader("aaaa"))
	require.NoError(t, err)
	b, err := env.store.Put(ctx, playercache.CategoryImage, "b.jpg", "image/jpeg", strings.NewReader("bbbbbbbb"))
	require.NoError(t, err)

	size, err := env.store.CacheSize(ctx, playercache.CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, a.Size+b.Size, size)

	usage, err := env.store.DiskUsage(ctx, playercache.CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, size, usage)

	require.NoError(t, env.store.Delete(ctx, playercache.CategoryImage, "a.jpg"))
	require.NoError(t, env.store.Delete(ctx, playercache.CategoryImage, "a.jpg"))

	size, err = env.store.CacheSize(ctx, playercache.CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, b.Size, size)

	ok, err := env.store.Has(ctx, playercache.CategoryImage, "a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = env.store.Has(ctx, playercache.CategoryImage, "b.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMediaStore_ClearCache(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	for _, src := range []string{"1.mp3", "2.mp3"} {
		_, err := env.store.Put(ctx, playercache.CategoryMusic, src, "audio/mpeg", strings.NewReader(src))
		require.NoError(t, err)
	}
	_, err := env.store.Put(ctx, playercache.CategoryImage, "cover.jpg", "image/jpeg", strings.NewReader("jpeg"))
	require.NoError(t, err)

	require.NoError(t, env.store.ClearCache(ctx, playercache.CategoryMusic))

	size, err := env.store.CacheSize(ctx, playercache.CategoryMusic)
	require.NoError(t, err)
	assert.Zero(t, size)

	keys, err := env.fs.List(ctx, "music/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	size, err = env.store.CacheSize(ctx, playercache.CategoryImage)
	require.NoError(t, err)
	assert.NotZero(t, size)
}

// failingDeleter is a backend whose prefix deletes always fail.
type failingDeleter struct {
	backend.Backend
}

func (failingDeleter) DeletePrefix(context.Context, string) error {
	return errors.New("disk unplugged")
}

func TestMediaStore_ClearCacheFailureKeepsIndex(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	m, err := NewMediaStore(failingDeleter{env.fs}, env.index)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	res, err := m.Put(ctx, playercache.CategoryMusic, "keep.mp3", "audio/mpeg", strings.NewReader("keep"))
	require.NoError(t, err)

	err = m.ClearCache(ctx, playercache.CategoryMusic)
	require.ErrorIs(t, err, ErrBackend)

	size, err := m.CacheSize(ctx, playercache.CategoryMusic)
	require.NoError(t, err)
	assert.Equal(t, res.Size, size)
}

func TestMediaStore_OldestAndEvict(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	for _, src := range []string{"old.mp3", "mid.mp3", "new.mp3"} {
		_, err := env.store.Put(ctx, playercache.CategoryMusic, src, "audio/mpeg", strings.NewReader(src))
		require.NoError(t, err)
	}

	oldest, err := env.store.Oldest(ctx, playercache.CategoryMusic, 3)
	require.NoError(t, err)
	require.Len(t, oldest, 3)

	require.NoError(t, env.store.Evict(ctx, oldest[0]))

	ok, err := env.store.Has(ctx, playercache.CategoryMusic, oldest[0].Source)
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := env.fs.Exists(ctx, oldest[0].Key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMediaStore_Reindex(t *testing.T) {
	env := newTestStore(t)
	ctx := context.Background()

	res, err := env.store.Put(ctx, playercache.CategoryLyric, "lyric-1", "text/plain", strings.NewReader("words"))
	require.NoError(t, err)

	// Lose the index, keep the blobs
	_, err = env.index.ClearCategory(ctx, playercache.CategoryLyric)
	require.NoError(t, err)

	added, err := env.store.Reindex(ctx, playercache.CategoryLyric)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	size, err := env.store.CacheSize(ctx, playercache.CategoryLyric)
	require.NoError(t, err)
	assert.Equal(t, res.Size, size)

	added, err = env.store.Reindex(ctx, playercache.CategoryLyric)
	require.NoError(t, err)
	assert.Zero(t, added)
}
