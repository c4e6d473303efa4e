package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/store"
	"github.com/wolfeidau/player-cache/telemetry"
)

var (
	// ErrInvalidSource is returned when a source is not an absolute http(s) URL.
	ErrInvalidSource = errors.New("invalid source")
	// ErrSourceNotFound is returned when the source responds 404.
	ErrSourceNotFound = errors.New("source not found")
	// ErrUpstream marks a failed fetch or an unexpected response status.
	ErrUpstream = errors.New("upstream fetch failed")
)

// Store is the media store a Filler writes into.
type Store interface {
	Has(ctx context.Context, category playercache.Category, source string) (bool, error)
	Put(ctx context.Context, category playercache.Category, source, contentType string, r io.Reader) (*store.PutResult, error)
}

// FillerConfig configures a Filler.
type FillerConfig struct {
	// Client fetches sources. Its transport is wrapped for metrics.
	Client *http.Client

	// Timeout bounds a single upstream fetch. Zero means no limit.
	Timeout time.Duration

	// Authorize, when set, decorates each upstream request before it is sent.
	Authorize func(*http.Request)

	Logger *slog.Logger
}

// Filler fetches music, lyric and image sources into the media store.
type Filler struct {
	downloader *Downloader
	store      Store
	client     *http.Client
	timeout    time.Duration
	authorize  func(*http.Request)
	logger     *slog.Logger
}

// NewFiller creates a Filler writing into s.
func NewFiller(s Store, cfg FillerConfig) *Filler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := &http.Client{}
	if cfg.Client != nil {
		c := *cfg.Client
		client = &c
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = telemetry.NewInstrumentedTransport(base)

	logger := cfg.Logger.With("component", "download")
	return &Filler{
		downloader: New(WithLogger(logger)),
		store:      s,
		client:     client,
		timeout:    cfg.Timeout,
		authorize:  cfg.Authorize,
		logger:     logger,
	}
}

// Fill ensures the entry for source is cached in category, fetching it when
// missing. Concurrent fills of the same entry share one fetch; shared reports
// whether this caller joined a fetch started by another.
func (f *Filler) Fill(ctx context.Context, category playercache.Category, source string) (*Result, bool, error) {
	if !category.Valid() {
		return nil, false, fmt.Errorf("%w: %q", playercache.ErrUnknownCategory, string(category))
	}
	if err := validation.Validate(source, validation.Required, is.RequestURL); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	key := playercache.EntryKey(category, playercache.HashSource(source))
	result, shared, err := f.downloader.Do(ctx, key, func(ctx context.Context) (*Result, error) {
		return f.fetch(ctx, category, source)
	})
	if err != nil {
		ForgetOnDownloadError(f.downloader, key, err)
		outcome := telemetry.OutcomeError
		if errors.Is(err, ErrSourceNotFound) {
			outcome = telemetry.OutcomeNotFound
		}
		telemetry.RecordFill(ctx, string(category), outcome, shared)
		return nil, shared, err
	}

	outcome := telemetry.OutcomeSuccess
	if result.Cached {
		outcome = telemetry.OutcomeHit
	}
	telemetry.RecordFill(ctx, string(category), outcome, shared)
	return result, shared, nil
}

func (f *Filler) fetch(ctx context.Context, category playercache.Category, source string) (*Result, error) {
	hash := playercache.HashSource(source)
	ok, err := f.store.Has(ctx, category, source)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Result{Category: category, Hash: hash, Key: playercache.EntryKey(category, hash), Cached: true}, nil
	}

	ctx = telemetry.WithCategoryContext(ctx, string(category))
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	if f.authorize != nil {
		f.authorize(req)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, source, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	put, err := f.store.Put(ctx, category, source, contentType, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", source, err)
	}

	f.logger.Debug("filled entry",
		"category", category,
		"hash", put.Hash.ShortString(),
		"size", put.Size,
	)
	return &Result{Category: category, Hash: put.Hash, Key: put.Key, Size: put.Size}, nil
}
