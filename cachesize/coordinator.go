// Package cachesize keeps the per-category cache size snapshot shown on the
// settings screen and coordinates clearing a category.
package cachesize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/notify"
	"github.com/wolfeidau/player-cache/store"
	"github.com/wolfeidau/player-cache/telemetry"
)

// ErrNegativeSize is returned when the backend reports a size below zero.
var ErrNegativeSize = errors.New("negative cache size")

// Coordinator owns the cache size snapshot. Refreshes query every category
// concurrently and replace the snapshot only when all queries succeed.
type Coordinator struct {
	backend  store.Backend
	notifier notify.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	snapshot Snapshot
	subs     map[uint64]func(Snapshot)
	nextID   uint64

	// started numbers refreshes as they begin; applied is the number of the
	// refresh that produced the current snapshot.
	started uint64
	applied uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for the coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a coordinator with an all-zero snapshot.
func New(backend store.Backend, notifier notify.Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:  backend,
		notifier: notifier,
		logger:   slog.Default(),
		subs:     make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "cachesize")
	return c
}

// Snapshot returns the current snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Subscribe registers fn to receive every snapshot a refresh produces.
func (c *Coordinator) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Mount runs the initial refresh.
func (c *Coordinator) Mount(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial cache size refresh failed", "error", err)
		return err
	}
	return nil
}

// Unmount discards the snapshot.
func (c *Coordinator) Unmount() {
	c.mu.Lock()
	c.snapshot = Snapshot{}
	c.mu.Unlock()
}

// Refresh queries the size of every category concurrently. On success the
// snapshot is replaced in one step; if any query fails the previous
// snapshot is kept and the first error is returned.
// A refresh that completes after a later-started one has already been
// applied is dropped, so overlapping refreshes converge on the newest reads.
func (c *Coordinator) Refresh(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	c.started++
	seq := c.started
	c.mu.Unlock()

	categories := playercache.Categories()
	sizes := make([]int64, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range categories {
		g.Go(func() error {
			n, err := c.backend.CacheSize(gctx, category)
			if err != nil {
				return fmt.Errorf("sizing %s cache: %w", category, err)
			}
			if n < 0 {
				return fmt.Errorf("sizing %s cache: %w: %d", category, ErrNegativeSize, n)
			}
			sizes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordRefresh(ctx, telemetry.OutcomeError, time.Since(start))
		return err
	}

	var next Snapshot
	for i, category := range categories {
		next.set(category, sizes[i])
	}

	c.mu.Lock()
	if seq < c.applied {
		c.mu.Unlock()
		telemetry.RecordRefresh(ctx, "superseded", time.Since(start))
		c.logger.Debug("dropping superseded cache size refresh", "seq", seq, "applied", c.applied)
		return nil
	}
	c.applied = seq
	c.snapshot = next
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for i, category := range categories {
		telemetry.UpdateCacheSize(ctx, string(category), sizes[i])
	}
	telemetry.RecordRefresh(ctx, telemetry.OutcomeSuccess, time.Since(start))
	c.logger.Debug("refreshed cache sizes",
		"music", next.Music,
		"lyric", next.Lyric,
		"image", next.Image,
		"duration", time.Since(start))

	for _, fn := range subs {
		fn(next)
	}
	return nil
}

// ClearCategory evicts one category. Only after the backend confirms the
// eviction does it send the success notification and refresh. If eviction
// fails the error is returned with no notification and no refresh.
func (c *Coordinator) ClearCategory(ctx context.Context, category playercache.Category) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", playercache.ErrUnknownCategory, string(category))
	}

	if err := c.backend.ClearCache(ctx, category); err != nil {
		telemetry.RecordClear(ctx, string(category), telemetry.OutcomeError)
		c.logger.Warn("clearing cache failed", "category", category, "error", err)
		return fmt.Errorf("clearing %s cache: %w", category, err)
	}
	telemetry.RecordClear(ctx, string(category), telemetry.OutcomeSuccess)

	c.notifier.Success(ctx, ClearedMessage(category))

	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing after clearing %s: %w", category, err)
	}
	return nil
}

// ClearedMessage is the notification text for a cleared category.
func ClearedMessage(category playercache.Category) string {
	return fmt.Sprintf("Cleared %s cache", category)
}
