// Package expiry keeps the music cache within the user's configured limit
// by evicting least recently used entries.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/settings"
	"github.com/wolfeidau/player-cache/store/metadb"
	"github.com/wolfeidau/player-cache/telemetry"
)

// Evictor is the storage the manager trims.
type Evictor interface {
	CacheSize(ctx context.Context, category playercache.Category) (int64, error)
	Oldest(ctx context.Context, category playercache.Category, limit int) ([]metadb.Entry, error)
	Evict(ctx context.Context, entry metadb.Entry) error
}

// LimitSource publishes the configured cache limit.
type LimitSource interface {
	Subscribe(prefix string, fn func(settings.Value)) (unsubscribe func())
}

// Config holds eviction configuration.
type Config struct {
	// Category is the cache partition governed by the limit.
	// Default is music.
	Category playercache.Category

	// TTL evicts entries not accessed within this duration regardless of size.
	// Zero disables age based eviction.
	TTL time.Duration

	// CheckInterval is how often to run eviction checks.
	// Default is 10 minutes.
	CheckInterval time.Duration

	// BatchSize is how many index entries are read per eviction round.
	BatchSize int

	// OnEvicted is called after a run that removed at least one entry.
	OnEvicted func(ctx context.Context, result *Result)

	// Logger for eviction events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Category:      playercache.CategoryMusic,
		CheckInterval: 10 * time.Minute,
		BatchSize:     64,
		Logger:        slog.Default(),
	}
}

// Result describes one eviction run.
type Result struct {
	Evicted    int
	TTLExpired int
	BytesFreed int64
	Errors     int
	Limit      int64
	Remaining  int64
	Duration   time.Duration
}

// Manager evicts entries once the governed category grows past the limit.
type Manager struct {
	config  Config
	store   Evictor
	limits  LimitSource
	logger  *slog.Logger
	now     func() time.Time
	limit   atomic.Int64
	runMu   sync.Mutex
	kick    chan struct{}
	unwatch func()

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a manager for store. The limit is read from
// settings.PathMaxCacheSize on limits and followed as it changes.
func NewManager(store Evictor, limits LimitSource, cfg Config) *Manager {
	if cfg.Category == "" {
		cfg.Category = playercache.CategoryMusic
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		config: cfg,
		store:  store,
		limits: limits,
		logger: cfg.Logger.With("component", "expiry", "category", cfg.Category),
		now:    time.Now,
		kick:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	m.limit.Store(settings.DefaultMaxCacheSize)
	m.unwatch = limits.Subscribe(settings.PathMaxCacheSize, m.setLimit)
	return m
}

func (m *Manager) setLimit(v settings.Value) {
	limit := int64(settings.DefaultMaxCacheSize)
	if v.Exists() {
		limit = v.Int()
	}
	if m.limit.Swap(limit) == limit {
		return
	}
	m.logger.Debug("cache limit changed", "limit", limit)
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Limit returns the limit currently enforced.
func (m *Manager) Limit() int64 {
	return m.limit.Load()
}

// Start begins background eviction checks.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop stops background checks and the limit subscription.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	running := m.running
	m.mu.Unlock()

	m.unwatch()
	close(m.stopCh)
	if running {
		<-m.doneCh
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		case <-m.kick:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single eviction pass: expired entries first, then
// least recently used entries until the category is within the limit.
// A limit of zero or less disables size based eviction.
func (m *Manager) RunOnce(ctx context.Context) *Result {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	start := m.now()
	result := &Result{Limit: m.limit.Load()}

	if m.config.TTL > 0 {
		m.expireByTTL(ctx, result)
	}

	size, err := m.store.CacheSize(ctx, m.config.Category)
	if err != nil {
		m.logger.Warn("failed to read cache size", "error", err)
		result.Errors++
		result.Duration = m.now().Sub(start)
		return result
	}
	if result.Limit > 0 && size > result.Limit {
		size = m.evictByLRU(ctx, size, result)
	}
	result.Remaining = size
	result.Duration = m.now().Sub(start)

	removed := result.Evicted + result.TTLExpired
	telemetry.RecordEviction(ctx, string(m.config.Category), removed, result.BytesFreed)
	telemetry.UpdateCacheSize(ctx, string(m.config.Category), size)

	if removed > 0 || result.Errors > 0 {
		m.logger.Info("eviction complete",
			"evicted", result.Evicted,
			"ttl_expired", result.TTLExpired,
			"bytes_freed", result.BytesFreed,
			"remaining", size,
			"limit", result.Limit,
			"errors", result.Errors,
			"duration", result.Duration,
		)
	} else {
		m.logger.Debug("eviction check complete", "size", size, "limit", result.Limit)
	}

	if removed > 0 && m.config.OnEvicted != nil {
		m.config.OnEvicted(ctx, result)
	}
	return result
}

func (m *Manager) expireByTTL(ctx context.Context, result *Result) {
	cutoff := m.now().Add(-m.config.TTL)
	for {
		batch, err := m.store.Oldest(ctx, m.config.Category, m.config.BatchSize)
		if err != nil {
			m.logger.Warn("failed to list entries", "error", err)
			result.Errors++
			return
		}
		progressed := false
		for _, entry := range batch {
			if !entry.LastAccess.Before(cutoff) {
				return
			}
			if err := m.store.Evict(ctx, entry); err != nil {
				m.logger.Warn("failed to expire entry", "key", entry.Key, "error", err)
				result.Errors++
				continue
			}
			progressed = true
			result.TTLExpired++
			result.BytesFreed += entry.Size
			m.logger.Debug("expired entry",
				"key", entry.Key,
				"last_access", entry.LastAccess,
				"age", m.now().Sub(entry.LastAccess),
			)
		}
		if len(batch) < m.config.BatchSize || !progressed {
			return
		}
	}
}

func (m *Manager) evictByLRU(ctx context.Context, size int64, result *Result) int64 {
	for size > result.Limit {
		batch, err := m.store.Oldest(ctx, m.config.Category, m.config.BatchSize)
		if err != nil {
			m.logger.Warn("failed to list entries", "error", err)
			result.Errors++
			return size
		}
		if len(batch) == 0 {
			return size
		}
		progressed := false
		for _, entry := range batch {
			if size <= result.Limit {
				break
			}
			if err := m.store.Evict(ctx, entry); err != nil {
				m.logger.Warn("failed to evict entry", "key", entry.Key, "error", err)
				result.Errors++
				continue
			}
			progressed = true
			result.Evicted++
			result.BytesFreed += entry.Size
			size -= entry.Size
			m.logger.Debug("evicted entry",
				"key", entry.Key,
				"last_access", entry.LastAccess,
				"size", entry.Size,
			)
		}
		// Every entry in the batch failed; retrying would loop forever.
		if !progressed {
			return size
		}
	}
	return size
}
