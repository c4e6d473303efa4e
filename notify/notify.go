// Package notify delivers fire-and-forget toast messages to the user.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/player-cache/telemetry"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier sends toast messages. Sending never fails from the caller's view.
type Notifier interface {
	Success(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
}

// Notification is one delivered message.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a notifier that logs each message.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Success(ctx context.Context, msg string) {
	telemetry.RecordNotification(ctx, string(LevelSuccess))
	l.logger.InfoContext(ctx, msg, "toast", LevelSuccess)
}

func (l *Log) Error(ctx context.Context, msg string) {
	telemetry.RecordNotification(ctx, string(LevelError))
	l.logger.ErrorContext(ctx, msg, "toast", LevelError)
}

// DefaultRecorderSize is the number of notifications a Recorder keeps by default.
const DefaultRecorderSize = 100

// Recorder keeps the most recent notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	size  int
	now   func() time.Time
}

// NewRecorder creates a recorder holding up to size notifications.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{size: size, now: time.Now}
}

func (r *Recorder) Success(_ context.Context, msg string) { r.add(LevelSuccess, msg) }

func (r *Recorder) Error(_ context.Context, msg string) { r.add(LevelError, msg) }

func (r *Recorder) add(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Level: level, Message: msg, At: r.now()})
	if over := len(r.items) - r.size; over > 0 {
		r.items = append([]Notification(nil), r.items[over:]...)
	}
}

// List returns the recorded notifications, oldest first.
func (r *Recorder) List() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Count returns how many recorded notifications have the given level.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Level == level {
			n++
		}
	}
	return n
}

// Multi fans each notification out to several notifiers.
type Multi []Notifier

func (m Multi) Success(ctx context.Context, msg string) {
	for _, n := range m {
		n.Success(ctx, msg)
	}
}

func (m Multi) Error(ctx context.Context, msg string) {
	for _, n := range m {
		n.Error(ctx, msg)
	}
}

// Compile-time interface checks
var (
	_ Notifier = (*Log)(nil)
	_ Notifier = (*Recorder)(nil)
	_ Notifier = Multi(nil)
)
