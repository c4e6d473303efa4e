package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.Equal(t, root, fs.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestFilesystemWriteRead(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("hello, world!")

	require.NoError(t, fs.Write(ctx, "music/ab/abcd", bytes.NewReader(data)))

	rc, err := fs.Read(ctx, "music/ab/abcd")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFilesystemReadNotFound(t *testing.T) {
	fs := newTestFilesystem(t)

	_, err := fs.Read(context.Background(), "nonexistent/key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemExistsDelete(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "lyric/00/0000"

	exists, err := fs.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("data"))))
	exists, err = fs.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, fs.Delete(ctx, key))
	exists, err = fs.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	// Delete nonexistent should not error (idempotent)
	require.NoError(t, fs.Delete(ctx, "nonexistent"))
}

func TestFilesystemSize(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("test data for size check")

	require.NoError(t, fs.Write(ctx, "size/test.txt", bytes.NewReader(data)))

	size, err := fs.Size(ctx, "size/test.txt")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)

	_, err = fs.Size(ctx, "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemList(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	keys := []string{
		"music/aa/1",
		"music/aa/2",
		"music/bb/3",
		"image/cc/4",
	}
	for _, key := range keys {
		require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("data"))))
	}

	all, err := fs.List(ctx, "")
	require.NoError(t, err)
	sort.Strings(all)
	sort.Strings(keys)
	require.Equal(t, keys, all)

	music, err := fs.List(ctx, "music/")
	require.NoError(t, err)
	sort.Strings(music)
	require.Equal(t, []string{"music/aa/1", "music/aa/2", "music/bb/3"}, music)

	none, err := fs.List(ctx, "lyric/")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFilesystemUsage(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "music/aa/1", bytes.NewReader(make([]byte, 100))))
	require.NoError(t, fs.Write(ctx, "music/bb/2", bytes.NewReader(make([]byte, 50))))
	require.NoError(t, fs.Write(ctx, "image/cc/3", bytes.NewReader(make([]byte, 7))))

	// A leftover temp file from an interrupted write is not counted.
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), "music", "aa", tmpPrefix+"x"), make([]byte, 1000), 0o644))

	music, err := fs.Usage(ctx, "music/")
	require.NoError(t, err)
	require.Equal(t, int64(150), music)

	image, err := fs.Usage(ctx, "image/")
	require.NoError(t, err)
	require.Equal(t, int64(7), image)

	lyric, err := fs.Usage(ctx, "lyric/")
	require.NoError(t, err)
	require.Zero(t, lyric)
}

func TestFilesystemDeletePrefix(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "music/aa/1", bytes.NewReader([]byte("a"))))
	require.NoError(t, fs.Write(ctx, "image/bb/2", bytes.NewReader([]byte("b"))))

	require.NoError(t, fs.DeletePrefix(ctx, "music/"))

	music, err := fs.List(ctx, "music/")
	require.NoError(t, err)
	require.Empty(t, music)

	exists, err := fs.Exists(ctx, "image/bb/2")
	require.NoError(t, err)
	require.True(t, exists)

	// Missing prefix is not an error.
	require.NoError(t, fs.DeletePrefix(ctx, "lyric/"))

	// The root itself is never removed.
	require.Error(t, fs.DeletePrefix(ctx, ""))
}

func TestFilesystemOverwrite(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "overwrite/test.txt"

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("initial"))))
	newData := []byte("new content that is longer")
	require.NoError(t, fs.Write(ctx, key, bytes.NewReader(newData)))

	rc, err := fs.Read(ctx, key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, _ := io.ReadAll(rc)
	require.Equal(t, newData, got)
}

type listOnlyBackend struct {
	Backend
}

func TestDeletePrefixFallback(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "lyric/aa/1", bytes.NewReader([]byte("a"))))
	require.NoError(t, fs.Write(ctx, "lyric/bb/2", bytes.NewReader([]byte("b"))))

	// Hide the PrefixDeleter implementation to force List + Delete.
	require.NoError(t, DeletePrefix(ctx, listOnlyBackend{fs}, "lyric/"))

	keys, err := fs.List(ctx, "lyric/")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return fs
}
