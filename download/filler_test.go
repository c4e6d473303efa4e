package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/backend"
	"github.com/wolfeidau/player-cache/store"
	"github.com/wolfeidau/player-cache/store/metadb"
)

type upstream struct {
	*httptest.Server
	hits  atomic.Int32
	delay time.Duration
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/track.mp3", func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		time.Sleep(u.delay)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = io.WriteString(w, "ID3 track bytes")
	})
	mux.HandleFunc("/song.lrc", func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		_, _ = io.WriteString(w, "[00:01.00] first line\n[00:02.00] second line\n")
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Close)
	return u
}

func newTestMediaStore(t *testing.T) *store.MediaStore {
	t.Helper()
	dir := t.TempDir()
	fs, err := backend.NewFilesystem(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	index := metadb.NewBoltDB(metadb.WithNoSync(true))
	require.NoError(t, index.Open(filepath.Join(dir, "index.db")))
	t.Cleanup(func() { _ = index.Close() })
	m, err := store.NewMediaStore(fs, index)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func readAll(t *testing.T, obj *store.Object) string {
	t.Helper()
	defer func() { _ = obj.Body.Close() }()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	return string(data)
}

func TestFiller_FillStoresEntry(t *testing.T) {
	up := newUpstream(t)
	media := newTestMediaStore(t)
	f := NewFiller(media, FillerConfig{})
	ctx := context.Background()

	src := up.URL + "/track.mp3"
	res, shared, err := f.Fill(ctx, playercache.CategoryMusic, src)
	require.NoError(t, err)
	require.False(t, shared)
	require.False(t, res.Cached)
	require.Equal(t, playercache.EntryKey(playercache.CategoryMusic, playercache.HashSource(src)), res.Key)
	require.Positive(t, res.Size)

	obj, err := media.Get(ctx, playercache.CategoryMusic, src)
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", obj.Header.ContentType)
	assert.Equal(t, "ID3 track bytes", readAll(t, obj))

	size, err := media.CacheSize(ctx, playercache.CategoryMusic)
	require.NoError(t, err)
	require.Equal(t, res.Size, size)
}

func TestFiller_SecondFillIsCached(t *testing.T) {
	up := newUpstream(t)
	f := NewFiller(newTestMediaStore(t), FillerConfig{})
	ctx := context.Background()

	src := up.URL + "/track.mp3"
	_, _, err := f.Fill(ctx, playercache.CategoryMusic, src)
	require.NoError(t, err)

	res, _, err := f.Fill(ctx, playercache.CategoryMusic, src)
	require.NoError(t, err)
	require.True(t, res.Cached)
	require.Equal(t, int32(1), up.hits.Load())
}

func TestFiller_ConcurrentFillsShareFetch(t *testing.T) {
	up := newUpstream(t)
	up.delay = 100 * time.Millisecond
	f := NewFiller(newTestMediaStore(t), FillerConfig{})

	src := up.URL + "/track.mp3"
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = f.Fill(context.Background(), playercache.CategoryMusic, src)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), up.hits.Load())
}

func TestFiller_LyricRoundTrip(t *testing.T) {
	up := newUpstream(t)
	media := newTestMediaStore(t)
	f := NewFiller(media, FillerConfig{})
	ctx := context.Background()

	src := up.URL + "/song.lrc"
	_, _, err := f.Fill(ctx, playercache.CategoryLyric, src)
	require.NoError(t, err)

	obj, err := media.Get(ctx, playercache.CategoryLyric, src)
	require.NoError(t, err)
	assert.Equal(t, backend.EncodingZstd, obj.Header.Encoding)
	assert.Contains(t, readAll(t, obj), "second line")
}

func TestFiller_Errors(t *testing.T) {
	up := newUpstream(t)
	media := newTestMediaStore(t)
	f := NewFiller(media, FillerConfig{})
	ctx := context.Background()

	tests := []struct {
		name     string
		category playercache.Category
		source   string
		want     error
	}{
		{"not found", playercache.CategoryMusic, up.URL + "/missing.mp3", ErrSourceNotFound},
		{"server error", playercache.CategoryMusic, up.URL + "/broken", ErrUpstream},
		{"relative source", playercache.CategoryMusic, "track.mp3", ErrInvalidSource},
		{"empty source", playercache.CategoryImage, "", ErrInvalidSource},
		{"unknown category", playercache.Category("video"), up.URL + "/track.mp3", playercache.ErrUnknownCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.Fill(ctx, tt.category, tt.source)
			require.ErrorIs(t, err, tt.want)
		})
	}

	for _, c := range playercache.Categories() {
		size, err := media.CacheSize(ctx, c)
		require.NoError(t, err)
		require.Zero(t, size)
	}
}

func TestFiller_RetriesAfterError(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "cover")
	}))
	t.Cleanup(srv.Close)

	f := NewFiller(newTestMediaStore(t), FillerConfig{})
	ctx := context.Background()

	_, _, err := f.Fill(ctx, playercache.CategoryImage, srv.URL+"/cover.jpg")
	require.ErrorIs(t, err, ErrUpstream)

	fail.Store(false)
	res, _, err := f.Fill(ctx, playercache.CategoryImage, srv.URL+"/cover.jpg")
	require.NoError(t, err)
	require.False(t, res.Cached)
}

func TestFiller_Timeout(t *testing.T) {
	up := newUpstream(t)
	up.delay = 200 * time.Millisecond
	f := NewFiller(newTestMediaStore(t), FillerConfig{Timeout: 20 * time.Millisecond})

	_, _, err := f.Fill(context.Background(), playercache.CategoryMusic, up.URL+"/track.mp3")
	require.ErrorIs(t, err, ErrUpstream)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServeEntry(t *testing.T) {
	up := newUpstream(t)
	media := newTestMediaStore(t)
	f := NewFiller(media, FillerConfig{})
	ctx := context.Background()

	src := up.URL + "/track.mp3"
	_, _, err := f.Fill(ctx, playercache.CategoryMusic, src)
	require.NoError(t, err)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			obj, err := media.Get(ctx, playercache.CategoryMusic, src)
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			ServeEntry(rec, httptest.NewRequest(method, "/cache/music/entries", nil), obj, slog.Default())

			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
			require.Equal(t, fmt.Sprint(len("ID3 track bytes")), rec.Header().Get("Content-Length"))
			require.NotEmpty(t, rec.Header().Get("ETag"))
			require.NotEmpty(t, rec.Header().Get("Last-Modified"))
			if method == http.MethodHead {
				require.Empty(t, rec.Body.String())
			} else {
				require.Equal(t, "ID3 track bytes", rec.Body.String())
			}
		})
	}
}

func TestHandleFillError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: bad", ErrInvalidSource), http.StatusBadRequest},
		{fmt.Errorf("%w: video", playercache.ErrUnknownCategory), http.StatusBadRequest},
		{fmt.Errorf("%w: x", ErrSourceNotFound), http.StatusNotFound},
		{fmt.Errorf("storing: %w", store.ErrEntryTooLarge), http.StatusRequestEntityTooLarge},
		{errors.New("connection reset"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		HandleFillError(rec, slog.Default(), tt.err)
		require.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}
