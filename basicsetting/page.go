// Package basicsetting is the view-model behind the basic settings screen:
// playback switches, the download limit, the music cache limit and the
// per-category cache clear actions.
package basicsetting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/cachesize"
	"github.com/wolfeidau/player-cache/dialog"
	"github.com/wolfeidau/player-cache/notify"
	"github.com/wolfeidau/player-cache/settings"
)

// Cache limit bounds, in megabytes.
const (
	MinCacheLimitMB = 100
	MaxCacheLimitMB = 8192
)

// MaxDownloadOptions are the choices offered for concurrent downloads.
var MaxDownloadOptions = []int{1, 3, 5, 7}

const (
	cacheLimitSaved       = "Cache limit saved"
	cacheLimitPlaceholder = "Cache limit in MB, 100M-8192M"
)

// Page binds the settings store, the dialog presenter, the cache size
// coordinator and the notifier for one settings screen.
type Page struct {
	settings    *settings.Store
	presenter   dialog.Presenter
	coordinator *cachesize.Coordinator
	notifier    notify.Notifier
	logger      *slog.Logger

	mu          sync.Mutex
	basic       settings.Basic
	unsubscribe func()
}

// Option configures a Page.
type Option func(*Page)

// WithLogger sets the logger for the page.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Page) {
		p.logger = logger
	}
}

// New creates a page. It does nothing until Mount is called.
func New(store *settings.Store, presenter dialog.Presenter, coordinator *cachesize.Coordinator, notifier notify.Notifier, opts ...Option) *Page {
	p := &Page{
		settings:    store,
		presenter:   presenter,
		coordinator: coordinator,
		notifier:    notifier,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "basicsetting")
	return p
}

// Mount subscribes to the basic settings and runs the initial cache size
// refresh. A refresh failure is returned but the page stays mounted.
func (p *Page) Mount(ctx context.Context) error {
	unsubscribe := p.settings.Subscribe(settings.PathBasic, func(v settings.Value) {
		basic, err := settings.DecodeBasic(v)
		if err != nil {
			p.logger.Warn("ignoring malformed basic settings", "error", err)
			return
		}
		p.mu.Lock()
		p.basic = basic
		p.mu.Unlock()
	})

	p.mu.Lock()
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	return p.coordinator.Mount(ctx)
}

// Unmount drops the settings subscription and the size snapshot.
func (p *Page) Unmount() {
	p.mu.Lock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.mu.Unlock()
	p.coordinator.Unmount()
}

// Basic returns the basic settings as last delivered by the subscription.
func (p *Page) Basic() settings.Basic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.basic
}

// Toggle flips a switch.
func (p *Page) Toggle(ctx context.Context, sw Switch) error {
	path, ok := switchPaths[sw]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSwitch, string(sw))
	}
	return p.settings.Set(ctx, path, !p.settings.Get(path).Bool())
}

func (p *Page) ToggleNotInterrupt(ctx context.Context) error {
	return p.Toggle(ctx, SwitchNotInterrupt)
}

func (p *Page) ToggleAutoStopWhenError(ctx context.Context) error {
	return p.Toggle(ctx, SwitchAutoStopWhenError)
}

func (p *Page) ToggleErrorLog(ctx context.Context) error {
	return p.Toggle(ctx, SwitchErrorLog)
}

func (p *Page) ToggleTraceLog(ctx context.Context) error {
	return p.Toggle(ctx, SwitchTraceLog)
}

// PromptMaxDownload shows the concurrent download radio dialog.
func (p *Page) PromptMaxDownload(ctx context.Context) (dialog.ID, error) {
	options := make([]any, len(MaxDownloadOptions))
	for i, o := range MaxDownloadOptions {
		options[i] = o
	}
	return p.presenter.ShowDialog(ctx, dialog.Radio{
		Title:    "Max concurrent downloads",
		Options:  options,
		Selected: maxDownload(p.Basic()),
		OnOk: func(ctx context.Context, choice any) error {
			return p.settings.Set(ctx, settings.PathMaxDownload, choice)
		},
	})
}

// PromptCacheLimit shows the music cache limit input panel.
func (p *Page) PromptCacheLimit(ctx context.Context) (dialog.ID, error) {
	return p.presenter.ShowPanel(ctx, dialog.SimpleInput{
		Title:       "Music cache limit",
		Placeholder: cacheLimitPlaceholder,
		OnOk: func(ctx context.Context, text string, closePanel func()) error {
			_, err := p.SetCacheSizeLimit(ctx, text, closePanel)
			return err
		},
	})
}

// SetCacheSizeLimit parses text as megabytes and commits the limit in bytes.
// Values above MaxCacheLimitMB are clamped. Input that is not a number, or
// is below MinCacheLimitMB, is rejected silently and leaves both the store
// and the panel untouched. err is only set when the store fails.
func (p *Page) SetCacheSizeLimit(ctx context.Context, text string, closePanel func()) (committed bool, err error) {
	mb, ok := parseLeadingInt(text)
	if !ok {
		p.logger.Debug("rejected cache limit", "input", text, "reason", "not a number")
		return false, nil
	}
	if mb > MaxCacheLimitMB {
		mb = MaxCacheLimitMB
	}
	if err := validation.Validate(mb,
		validation.Min(int64(MinCacheLimitMB)),
		validation.Max(int64(MaxCacheLimitMB)),
	); err != nil {
		p.logger.Debug("rejected cache limit", "input", text, "reason", err)
		return false, nil
	}

	if err := p.settings.Set(ctx, settings.PathMaxCacheSize, mb*1024*1024); err != nil {
		return false, fmt.Errorf("saving cache limit: %w", err)
	}
	if closePanel != nil {
		closePanel()
	}
	p.notifier.Success(ctx, cacheLimitSaved)
	return true, nil
}

// PromptClear shows the confirmation dialog for clearing a category. The
// dialog's ok action runs the clear and surfaces its error.
func (p *Page) PromptClear(ctx context.Context, category playercache.Category) (dialog.ID, error) {
	if !category.Valid() {
		return "", fmt.Errorf("%w: %q", playercache.ErrUnknownCategory, string(category))
	}
	return p.presenter.ShowDialog(ctx, dialog.Simple{
		Title:   fmt.Sprintf("Clear %s cache", category),
		Content: fmt.Sprintf("Clear the %s cache?", category),
		OnOk: func(ctx context.Context) error {
			return p.coordinator.ClearCategory(ctx, category)
		},
	})
}

func maxDownload(b settings.Basic) int {
	if b.MaxDownload == 0 {
		return settings.DefaultMaxDownload
	}
	return b.MaxDownload
}
