package download

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	playercache "github.com/wolfeidau/player-cache"
)

func trackResult(source string) (string, *Result) {
	h := playercache.HashSource(source)
	key := playercache.EntryKey(playercache.CategoryMusic, h)
	return key, &Result{Category: playercache.CategoryMusic, Hash: h, Key: key, Size: int64(len(source))}
}

func TestDo_SingleCall(t *testing.T) {
	d := New()
	key, want := trackResult("https://media.example.com/a.mp3")

	got, shared, err := d.Do(context.Background(), key, func(ctx context.Context) (*Result, error) {
		return want, nil
	})
	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, want, got)
}

func TestDo_ConcurrentFillsShareOneFetch(t *testing.T) {
	d := New()
	key, want := trackResult("https://media.example.com/shared.mp3")

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]*Result, 10)
	errs := make([]error, 10)
	for i := range 10 {
		wg.Go(func() {
			results[i], _, errs[i] = d.Do(context.Background(), key, func(ctx context.Context) (*Result, error) {
				calls.Add(1)
				time.Sleep(50 * time.Millisecond)
				return want, nil
			})
		})
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i := range 10 {
		require.NoError(t, errs[i])
		require.Equal(t, want.Hash, results[i].Hash)
	}
}

func TestDo_DistinctEntriesFetchSeparately(t *testing.T) {
	d := New()

	var calls atomic.Int32
	var wg sync.WaitGroup
	for _, cat := range playercache.Categories() {
		wg.Go(func() {
			h := playercache.HashSource("https://media.example.com/same")
			_, _, err := d.Do(context.Background(), playercache.EntryKey(cat, h), func(ctx context.Context) (*Result, error) {
				calls.Add(1)
				return &Result{Category: cat, Hash: h}, nil
			})
			if err != nil {
				t.Error(err)
			}
		})
	}
	wg.Wait()

	require.Equal(t, int32(len(playercache.Categories())), calls.Load())
}

// A caller whose context ends early must not cancel the fetch other callers
// are waiting on.
func TestDo_CallerTimeoutDoesNotCancelFetch(t *testing.T) {
	d := New()
	key, want := trackResult("https://media.example.com/slow.mp3")

	shortCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var completed atomic.Bool
	started := make(chan struct{})
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := d.Do(shortCtx, key, func(ctx context.Context) (*Result, error) {
			close(started)
			if d.InFlight() != 1 {
				t.Errorf("in flight = %d, want 1", d.InFlight())
			}
			time.Sleep(200 * time.Millisecond)
			completed.Store(ctx.Err() == nil)
			return want, nil
		})
		firstErr <- err
	}()
	<-started

	got, shared, err := d.Do(context.Background(), key, func(ctx context.Context) (*Result, error) {
		t.Error("fetch already in flight")
		return nil, nil
	})
	require.NoError(t, err)
	require.True(t, shared)
	require.Equal(t, want.Hash, got.Hash)
	require.True(t, completed.Load())
	require.ErrorIs(t, <-firstErr, context.DeadlineExceeded)
	require.Zero(t, d.InFlight())
}

func TestDo_ErrorReachesEveryCaller(t *testing.T) {
	d := New()
	key, _ := trackResult("https://media.example.com/broken.mp3")
	upstreamErr := errors.New("upstream unavailable")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range 5 {
		wg.Go(func() {
			_, _, errs[i] = d.Do(context.Background(), key, func(ctx context.Context) (*Result, error) {
				time.Sleep(20 * time.Millisecond)
				return nil, upstreamErr
			})
		})
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, upstreamErr)
	}
}

func TestForgetOnDownloadError(t *testing.T) {
	t.Run("context errors keep the in-flight fetch", func(t *testing.T) {
		d := New()
		key, want := trackResult("https://media.example.com/keep.mp3")

		var calls atomic.Int32
		started := make(chan struct{})
		go func() {
			_, _, _ = d.Do(context.Background(), key, func(ctx context.Context) (*Result, error) {
				calls.Add(1)
				close(started)
				time.Sleep(200 * time.Millisecond)
				return want, nil
			})
		}()
		<-started

		ForgetOnDownloadError(d, key, context.DeadlineExceeded)

		got, shared, err := d.Do(context.Background(), key, func(ctx context.Context) (*Result, error) {
			calls.Add(1)
			return want, nil
		})
		require.NoError(t, err)
		require.True(t, shared)
		require.Equal(t, want.Hash, got.Hash)
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("fetch errors allow a retry", func(t *testing.T) {
		d := New()
		key, want := trackResult("https://media.example.com/retry.mp3")
		upstreamErr := errors.New("502 from upstream")

		var calls atomic.Int32
		_, _, err := d.Do(context.Background(), key, func(ctx context.Context) (*Result, error) {
			calls.Add(1)
			return nil, upstreamErr
		})
		require.ErrorIs(t, err, upstreamErr)

		ForgetOnDownloadError(d, key, upstreamErr)

		got, shared, err := d.Do(context.Background(), key, func(ctx context.Context) (*Result, error) {
			calls.Add(1)
			return want, nil
		})
		require.NoError(t, err)
		require.False(t, shared)
		require.Equal(t, want.Hash, got.Hash)
		require.Equal(t, int32(2), calls.Load())
	})

	t.Run("nil error is a no-op", func(t *testing.T) {
		d := New()
		ForgetOnDownloadError(d, "music/none", nil)
	})
}
