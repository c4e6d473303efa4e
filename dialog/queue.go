package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

var (
	// ErrNotMounted is returned for ids that are not currently mounted.
	ErrNotMounted = errors.New("dialog not mounted")

	// ErrBusy is returned when a confirm is already running for the dialog.
	ErrBusy = errors.New("dialog confirm in progress")

	// ErrNoAction is returned when confirming a dialog without an ok action.
	ErrNoAction = errors.New("dialog has no ok action")

	// ErrInvalidChoice is returned when a radio response is not one of its options.
	ErrInvalidChoice = errors.New("invalid choice")
)

// ID identifies a mounted dialog or panel.
type ID string

// Response carries the user's answer to a dialog or panel.
type Response struct {
	Choice any    `json:"choice,omitempty"`
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Mounted describes a mounted dialog or panel.
type Mounted struct {
	ID        ID        `json:"id"`
	View      View      `json:"view"`
	MountedAt time.Time `json:"mounted_at"`
}

type item struct {
	id        ID
	dialog    Dialog
	panel     Panel
	view      View
	mountedAt time.Time
	busy      bool
}

// Queue is an in-process Presenter that keeps mounted modals until they are
// confirmed or cancelled.
type Queue struct {
	mu     sync.Mutex
	items  map[ID]*item
	order  []ID
	logger *slog.Logger
	now    func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLogger sets the logger for the queue.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

// NewQueue creates an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		items:  make(map[ID]*item),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "dialog")
	return q
}

// ShowDialog validates, renders and mounts a dialog.
func (q *Queue) ShowDialog(_ context.Context, d Dialog) (ID, error) {
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid %s dialog: %w", d.Kind(), err)
	}
	view, err := Render(d)
	if err != nil {
		return "", err
	}
	return q.mount(&item{dialog: d, view: view}), nil
}

// ShowPanel validates, renders and mounts a panel.
func (q *Queue) ShowPanel(_ context.Context, p Panel) (ID, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid %s panel: %w", p.Kind(), err)
	}
	view, err := Render(p)
	if err != nil {
		return "", err
	}
	return q.mount(&item{panel: p, view: view}), nil
}

func (q *Queue) mount(it *item) ID {
	it.id = ID(uuid.NewString())
	it.mountedAt = q.now()

	q.mu.Lock()
	q.items[it.id] = it
	q.order = append(q.order, it.id)
	q.mu.Unlock()

	q.logger.Debug("mounted", "id", it.id, "kind", it.view.Kind)
	return it.id
}

func (q *Queue) unmount(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[id]; !ok {
		return false
	}
	delete(q.items, id)
	for i, o := range q.order {
		if o == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns the mounted dialogs and panels in mount order.
func (q *Queue) List() []Mounted {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Mounted, 0, len(q.order))
	for _, id := range q.order {
		it := q.items[id]
		out = append(out, Mounted{ID: id, View: it.view, MountedAt: it.mountedAt})
	}
	return out
}

// Get returns one mounted dialog or panel.
func (q *Queue) Get(id ID) (Mounted, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return Mounted{}, fmt.Errorf("%w: %s", ErrNotMounted, id)
	}
	return Mounted{ID: id, View: it.view, MountedAt: it.mountedAt}, nil
}

// Cancel unmounts without running the ok handler.
func (q *Queue) Cancel(id ID) error {
	if !q.unmount(id) {
		return fmt.Errorf("%w: %s", ErrNotMounted, id)
	}
	q.logger.Debug("cancelled", "id", id)
	return nil
}

// SetProgress updates a mounted Download dialog.
func (q *Queue) SetProgress(id ID, done, total int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMounted, id)
	}
	d, ok := it.dialog.(Download)
	if !ok {
		return fmt.Errorf("dialog %s is %s, not %s", id, it.view.Kind, KindDownload)
	}
	d.Done, d.Total = done, total
	if err := d.Validate(); err != nil {
		return err
	}
	view, err := Render(d)
	if err != nil {
		return err
	}
	it.dialog, it.view = d, view
	return nil
}

// Confirm runs the ok handler of a mounted dialog or panel.
// A dialog unmounts when its handler succeeds and stays mounted when it
// fails. A panel unmounts only when its handler calls close.
func (q *Queue) Confirm(ctx context.Context, id ID, resp Response) error {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotMounted, id)
	}
	if it.busy {
		q.mu.Unlock()
		return ErrBusy
	}
	it.busy = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		it.busy = false
		q.mu.Unlock()
	}()

	if it.panel != nil {
		return q.confirmPanel(ctx, it, resp)
	}

	if err := runDialog(ctx, it.dialog, resp); err != nil {
		q.logger.Debug("ok handler failed, dialog stays mounted", "id", id, "error", err)
		return err
	}
	q.unmount(id)
	return nil
}

func (q *Queue) confirmPanel(ctx context.Context, it *item, resp Response) error {
	switch p := it.panel.(type) {
	case SimpleInput:
		var once sync.Once
		closePanel := func() {
			once.Do(func() { q.unmount(it.id) })
		}
		return p.OnOk(ctx, resp.Text, closePanel)
	default:
		return fmt.Errorf("%w: %s", ErrNoAction, it.view.Kind)
	}
}

func runDialog(ctx context.Context, d Dialog, resp Response) error {
	switch d := d.(type) {
	case Simple:
		return d.OnOk(ctx)
	case Radio:
		choice, err := matchOption(d.Options, resp.Choice)
		if err != nil {
			return err
		}
		return d.OnOk(ctx, choice)
	case SubscribePlugin:
		url := resp.URL
		if url == "" {
			url = d.URL
		}
		if err := validation.Validate(url, validation.Required); err != nil {
			return fmt.Errorf("url: %w", err)
		}
		return d.OnOk(ctx, url)
	default:
		return fmt.Errorf("%w: %s", ErrNoAction, d.Kind())
	}
}

// matchOption returns the option whose label equals the choice's label,
// so a JSON number 5 selects the int option 5.
func matchOption(options []any, choice any) (any, error) {
	labels := make([]any, len(options))
	for i, o := range options {
		labels[i] = optionLabel(o)
	}
	label := optionLabel(choice)
	if err := validation.Validate(label, validation.Required, validation.In(labels...)); err != nil || choice == nil {
		return nil, fmt.Errorf("%w %q", ErrInvalidChoice, label)
	}
	for i, l := range labels {
		if l == label {
			return options[i], nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrInvalidChoice, label)
}

// Compile-time interface check
var _ Presenter = (*Queue)(nil)
