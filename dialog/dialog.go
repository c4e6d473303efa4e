// Package dialog models the modal dialogs and panels the settings screen can
// mount, renders them to headless views, and tracks the mounted ones.
package dialog

import (
	"context"
	"errors"
	"reflect"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Kind names a dialog or panel variant.
type Kind string

const (
	KindSimple          Kind = "simple"
	KindRadio           Kind = "radio"
	KindDownload        Kind = "download"
	KindSubscribePlugin Kind = "subscribePlugin"

	KindSimpleInput Kind = "simpleInput"
)

// Dialog is one of Simple, Radio, Download or SubscribePlugin.
type Dialog interface {
	Kind() Kind
	Validate() error
	isDialog()
}

// Panel is a slide-in input surface. SimpleInput is the only variant.
type Panel interface {
	Kind() Kind
	Validate() error
	isPanel()
}

// Simple is a confirmation dialog.
type Simple struct {
	Title   string
	Content string
	OnOk    func(ctx context.Context) error
}

// Radio asks the user to pick one of Options.
type Radio struct {
	Title    string
	Options  []any
	Selected any
	OnOk     func(ctx context.Context, choice any) error
}

// Download reports download progress. It has no confirm action.
type Download struct {
	Title string
	Total int64
	Done  int64
}

// SubscribePlugin asks for a plugin subscription URL.
type SubscribePlugin struct {
	Title string
	URL   string
	OnOk  func(ctx context.Context, url string) error
}

// SimpleInput is a single text field panel. OnOk decides whether the panel
// closes by calling close.
type SimpleInput struct {
	Title       string
	Placeholder string
	OnOk        func(ctx context.Context, text string, close func()) error
}

func (Simple) Kind() Kind          { return KindSimple }
func (Radio) Kind() Kind           { return KindRadio }
func (Download) Kind() Kind        { return KindDownload }
func (SubscribePlugin) Kind() Kind { return KindSubscribePlugin }
func (SimpleInput) Kind() Kind     { return KindSimpleInput }

func (Simple) isDialog()          {}
func (Radio) isDialog()           {}
func (Download) isDialog()        {}
func (SubscribePlugin) isDialog() {}
func (SimpleInput) isPanel()      {}

var errHandlerRequired = errors.New("is required")

// handlerRequired fails for nil funcs, which validation.Required does not catch.
var handlerRequired = validation.By(func(v any) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() == reflect.Func && rv.IsNil()) {
		return errHandlerRequired
	}
	return nil
})

func (d Simple) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.OnOk, handlerRequired),
	)
}

func (d Radio) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.Options, validation.Required),
		validation.Field(&d.OnOk, handlerRequired),
	)
}

func (d Download) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.Total, validation.Min(int64(0))),
		validation.Field(&d.Done, validation.Min(int64(0))),
	)
}

func (d SubscribePlugin) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required),
		validation.Field(&d.OnOk, handlerRequired),
	)
}

func (p SimpleInput) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OnOk, handlerRequired),
	)
}

// Presenter mounts dialogs and panels.
type Presenter interface {
	ShowDialog(ctx context.Context, d Dialog) (ID, error)
	ShowPanel(ctx context.Context, p Panel) (ID, error)
}
