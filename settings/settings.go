// Package settings is the user configuration store: a hierarchical JSON
// document addressed by dotted paths, with change subscriptions.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wolfeidau/player-cache/store/metadb"
)

// Well known paths.
const (
	PathBasic             = "setting.basic"
	PathMaxDownload       = PathBasic + ".maxDownload"
	PathMaxCacheSize      = PathBasic + ".maxCacheSize"
	PathNotInterrupt      = PathBasic + ".notInterrupt"
	PathAutoStopWhenError = PathBasic + ".autoStopWhenError"
	PathErrorLog          = PathBasic + ".debug.errorLog"
	PathTraceLog          = PathBasic + ".debug.traceLog"
)

const (
	DefaultMaxDownload  = 3
	DefaultMaxCacheSize = 512 * 1024 * 1024
)

// ErrInvalidPath is returned for paths that are not dotted identifiers.
var ErrInvalidPath = errors.New("invalid settings path")

var pathPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// defaults are applied to any leaf missing from the loaded document.
var defaults = []struct {
	path  string
	value any
}{
	{PathMaxDownload, DefaultMaxDownload},
	{PathMaxCacheSize, DefaultMaxCacheSize},
	{PathNotInterrupt, false},
	{PathAutoStopWhenError, false},
	{PathErrorLog, false},
	{PathTraceLog, false},
}

// Persister loads and saves the settings document.
type Persister interface {
	LoadSettings(ctx context.Context) ([]byte, error)
	SaveSettings(ctx context.Context, doc []byte) error
}

type subscription struct {
	prefix string
	fn     func(Value)
}

// Store holds the settings document. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	doc       []byte
	persister Persister
	logger    *slog.Logger

	subMu  sync.Mutex
	subs   map[uint64]subscription
	nextID uint64
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets where the document is loaded from and saved to.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store, loading the persisted document if there is one and
// filling in defaults for missing settings.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{
		doc:    []byte(`{}`),
		logger: slog.Default(),
		subs:   make(map[uint64]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "settings")

	if s.persister != nil {
		doc, err := s.persister.LoadSettings(ctx)
		switch {
		case errors.Is(err, metadb.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("loading settings: %w", err)
		case !gjson.ValidBytes(doc):
			s.logger.Warn("stored settings are not valid JSON, using defaults")
		default:
			s.doc = doc
		}
	}

	for _, d := range defaults {
		if gjson.GetBytes(s.doc, d.path).Exists() {
			continue
		}
		doc, err := sjson.SetBytes(s.doc, d.path, d.value)
		if err != nil {
			return nil, fmt.Errorf("applying default %s: %w", d.path, err)
		}
		s.doc = doc
	}
	return s, nil
}

// ValidatePath checks that path is a dotted identifier such as
// "setting.basic.maxCacheSize".
func ValidatePath(path string) error {
	err := validation.Validate(path,
		validation.Required,
		validation.Match(pathPattern),
	)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidPath, path, err)
	}
	return nil
}

// Get returns the value at path. A missing path yields a Value whose
// Exists reports false.
func (s *Store) Get(path string) Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Value{r: gjson.GetBytes(s.doc, path)}
}

// Document returns a copy of the whole settings document.
func (s *Store) Document() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.doc...)
}

// Set writes value at path, persists the document and notifies matching
// subscribers. The document is unchanged if persisting fails.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.update(ctx, path, func(doc []byte) ([]byte, error) {
		return sjson.SetBytes(doc, path, value)
	})
}

// SetRaw writes the JSON text raw at path.
func (s *Store) SetRaw(ctx context.Context, path, raw string) error {
	if !gjson.Valid(raw) {
		return fmt.Errorf("setting %s: value is not valid JSON", path)
	}
	return s.update(ctx, path, func(doc []byte) ([]byte, error) {
		return sjson.SetRawBytes(doc, path, []byte(raw))
	})
}

func (s *Store) update(ctx context.Context, path string, fn func([]byte) ([]byte, error)) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	next, err := fn(append([]byte(nil), s.doc...))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("setting %s: %w", path, err)
	}
	if s.persister != nil {
		if err := s.persister.SaveSettings(ctx, next); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("saving settings: %w", err)
		}
	}
	s.doc = next
	s.mu.Unlock()

	s.logger.Debug("setting changed", "path", path)
	s.notify(path)
	return nil
}

// notify calls every subscriber whose prefix contains path or lies under it.
func (s *Store) notify(path string) {
	s.subMu.Lock()
	var matched []subscription
	for _, sub := range s.subs {
		if related(sub.prefix, path) {
			matched = append(matched, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range matched {
		sub.fn(s.Get(sub.prefix))
	}
}

func related(prefix, path string) bool {
	return prefix == "" ||
		prefix == path ||
		strings.HasPrefix(path, prefix+".") ||
		strings.HasPrefix(prefix, path+".")
}

// Subscribe calls fn with the current value at prefix and again after every
// change at or below prefix. The returned function unsubscribes.
func (s *Store) Subscribe(prefix string, fn func(Value)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = subscription{prefix: prefix, fn: fn}
	s.subMu.Unlock()

	fn(s.Get(prefix))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}
