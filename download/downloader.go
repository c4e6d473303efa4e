// Package download fills the media cache from upstream sources. Concurrent
// fills of the same entry share a single upstream fetch.
package download

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	playercache "github.com/wolfeidau/player-cache"
)

// Result holds the outcome of a fill.
type Result struct {
	Category playercache.Category
	Hash     playercache.Hash
	Key      string
	// Size is the number of bytes the entry occupies in the cache.
	Size int64
	// Cached is true when the entry was already present and nothing was fetched.
	Cached bool
}

// FetchFunc fetches one entry and stores it. Its context is detached from
// the callers, so a caller giving up does not abort the fetch for the rest.
type FetchFunc func(ctx context.Context) (*Result, error)

// Downloader shares one in-flight fetch between all callers asking for the
// same entry key.
type Downloader struct {
	group    singleflight.Group
	inFlight atomic.Int64
	logger   *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithLogger sets the logger for the downloader.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// New creates a new Downloader.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Do runs fn once per key among concurrent callers and reports whether the
// result was shared. A caller whose ctx ends first gets ctx.Err() while the
// fetch carries on for the others.
func (d *Downloader) Do(ctx context.Context, key string, fn FetchFunc) (*Result, bool, error) {
	ch := d.group.DoChan(key, func() (any, error) {
		d.inFlight.Add(1)
		defer d.inFlight.Add(-1)
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*Result), res.Shared, nil
	case <-ctx.Done():
		d.logger.Debug("caller left in-flight fill", "key", key, "error", ctx.Err())
		return nil, false, ctx.Err()
	}
}

// InFlight is the number of fetches currently running.
func (d *Downloader) InFlight() int64 {
	return d.inFlight.Load()
}

// Forget drops key so the next Do starts a fresh fetch.
func (d *Downloader) Forget(key string) {
	d.group.Forget(key)
}
