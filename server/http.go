// Package server provides the HTTP surface of the player cache: cache
// sizes, entries, the basic settings page and its dialogs.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/wolfeidau/player-cache/backend"
	"github.com/wolfeidau/player-cache/basicsetting"
	"github.com/wolfeidau/player-cache/cachesize"
	"github.com/wolfeidau/player-cache/credentials"
	"github.com/wolfeidau/player-cache/dialog"
	"github.com/wolfeidau/player-cache/download"
	"github.com/wolfeidau/player-cache/expiry"
	"github.com/wolfeidau/player-cache/notify"
	"github.com/wolfeidau/player-cache/settings"
	"github.com/wolfeidau/player-cache/store"
	"github.com/wolfeidau/player-cache/store/metadb"
	"github.com/wolfeidau/player-cache/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// DataDir holds the entry blobs and the index database.
	DataDir string

	// AuthToken enables bearer token authentication when set.
	AuthToken string

	// Credentials authenticate upstream fills. Its auth_token is used when
	// AuthToken is empty.
	Credentials *credentials.Credentials

	// FillTimeout bounds a single upstream fetch. Zero means no limit.
	FillTimeout time.Duration

	// EvictionInterval is how often the music cache limit is enforced
	// in addition to every limit change. Default is 10 minutes.
	EvictionInterval time.Duration

	// CacheTTL evicts music not played within this duration.
	// Zero disables age based eviction.
	CacheTTL time.Duration

	// NotificationHistory is how many notifications GET /notifications keeps.
	NotificationHistory int

	// Logger for the server
	Logger *slog.Logger
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Address, validation.Required),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.FillTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.NotificationHistory, validation.Min(0)),
	)
}

// Server is the HTTP server for the player cache.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	// Components
	index         *metadb.BoltDB
	media         *store.MediaStore
	settings      *settings.Store
	coordinator   *cachesize.Coordinator
	dialogs       *dialog.Queue
	page          *basicsetting.Page
	filler        *download.Filler
	notifications *notify.Recorder
	evictor       *expiry.Manager

	closeOnce sync.Once
	closeErr  error
}

// New opens the data directory and wires the cache components. The settings
// page is mounted, which runs the first cache size refresh; a failed refresh
// is logged and does not prevent startup.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./player-cache"
	}
	if cfg.EvictionInterval == 0 {
		cfg.EvictionInterval = 10 * time.Minute
	}
	if cfg.NotificationHistory == 0 {
		cfg.NotificationHistory = notify.DefaultRecorderSize
	}
	if cfg.AuthToken == "" && cfg.Credentials != nil {
		cfg.AuthToken = cfg.Credentials.AuthToken
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	logger := cfg.Logger

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	fsBackend, err := backend.NewFilesystem(filepath.Join(cfg.DataDir, "entries"))
	if err != nil {
		return nil, fmt.Errorf("creating filesystem backend: %w", err)
	}

	index := metadb.NewBoltDB(metadb.WithLogger(logger.With("component", "metadb")))
	if err := index.Open(filepath.Join(cfg.DataDir, "index.db")); err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	s := &Server{config: cfg, logger: logger, index: index}
	if err := s.wire(ctx, fsBackend); err != nil {
		_ = index.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(s.authMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for large track uploads
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) wire(ctx context.Context, fsBackend *backend.Filesystem) error {
	cfg := s.config
	logger := s.logger

	media, err := store.NewMediaStore(
		backend.NewInstrumentedBackend(fsBackend, "filesystem"),
		s.index,
		store.WithLogger(logger.With("component", "store")),
	)
	if err != nil {
		return fmt.Errorf("creating media store: %w", err)
	}

	st, err := settings.New(ctx,
		settings.WithPersister(s.index),
		settings.WithLogger(logger.With("component", "settings")),
	)
	if err != nil {
		_ = media.Close()
		return fmt.Errorf("loading settings: %w", err)
	}

	s.notifications = notify.NewRecorder(cfg.NotificationHistory)
	notifier := notify.Multi{notify.NewLog(logger), s.notifications}

	s.media = media
	s.settings = st
	s.coordinator = cachesize.New(media, notifier, cachesize.WithLogger(logger))
	s.dialogs = dialog.NewQueue(dialog.WithLogger(logger.With("component", "dialog")))
	s.page = basicsetting.New(st, s.dialogs, s.coordinator, notifier, basicsetting.WithLogger(logger))
	s.filler = download.NewFiller(media, download.FillerConfig{
		Timeout:   cfg.FillTimeout,
		Authorize: cfg.Credentials.Authorize,
		Logger:    logger,
	})
	s.evictor = expiry.NewManager(media, st, expiry.Config{
		TTL:           cfg.CacheTTL,
		CheckInterval: cfg.EvictionInterval,
		Logger:        logger,
		OnEvicted: func(ctx context.Context, _ *expiry.Result) {
			if err := s.coordinator.Refresh(ctx); err != nil {
				logger.Warn("refresh after eviction failed", "error", err)
			}
		},
	})

	// A failed first refresh leaves the zero snapshot; clients can retry.
	_ = s.page.Mount(ctx)
	return nil
}

// Start starts the eviction manager and the HTTP listener.
func (s *Server) Start() error {
	s.logger.Info("starting eviction manager",
		"limit", s.evictor.Limit(),
		"ttl", s.config.CacheTTL,
		"check_interval", s.config.EvictionInterval,
	)
	if err := s.evictor.Start(context.Background()); err != nil {
		return fmt.Errorf("starting eviction manager: %w", err)
	}

	s.logger.Info("starting server", "address", s.config.Address)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and releases the data directory.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.Close())
}

// Close stops background work and closes the store without touching the
// listener. It is safe to call after Shutdown.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.evictor.Stop()
		s.page.Unmount()
		s.closeErr = errors.Join(s.media.Close(), s.index.Close())
	})
	return s.closeErr
}

// Handler returns the server's HTTP handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// Media returns the media store.
func (s *Server) Media() *store.MediaStore { return s.media }

// Settings returns the settings store.
func (s *Server) Settings() *settings.Store { return s.settings }

// Coordinator returns the cache size coordinator.
func (s *Server) Coordinator() *cachesize.Coordinator { return s.coordinator }

// Dialogs returns the dialog queue.
func (s *Server) Dialogs() *dialog.Queue { return s.dialogs }

// Page returns the basic settings page.
func (s *Server) Page() *basicsetting.Page { return s.page }

// Evictor returns the music cache limit manager.
func (s *Server) Evictor() *expiry.Manager { return s.evictor }

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set endpoint and category.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.Category != "" {
			attrs = append(attrs, "category", tags.Category)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
