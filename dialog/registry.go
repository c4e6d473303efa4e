package dialog

import (
	"fmt"
)

// Action labels offered by a view.
const (
	ActionOk     = "ok"
	ActionCancel = "cancel"
)

// View is a headless description of a mounted dialog or panel.
type View struct {
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title,omitempty"`
	Body        string    `json:"body,omitempty"`
	Options     []string  `json:"options,omitempty"`
	Selected    string    `json:"selected,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Progress    *Progress `json:"progress,omitempty"`
	Actions     []string  `json:"actions"`
}

// Progress is the state of a Download dialog.
type Progress struct {
	Done    int64   `json:"done"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`
}

// Renderer turns a dialog or panel into a View.
type Renderer func(v any) (View, error)

// Entry is one registered renderer.
type Entry struct {
	Name   Kind
	Render Renderer
}

// registry lists the renderers in presentation order.
var registry = []Entry{
	{KindSimple, renderSimple},
	{KindRadio, renderRadio},
	{KindDownload, renderDownload},
	{KindSubscribePlugin, renderSubscribePlugin},
	{KindSimpleInput, renderSimpleInput},
}

// Entries returns the registered renderers in order.
func Entries() []Entry {
	return append([]Entry(nil), registry...)
}

// Lookup returns the renderer registered for kind.
func Lookup(kind Kind) (Renderer, bool) {
	for _, e := range registry {
		if e.Name == kind {
			return e.Render, true
		}
	}
	return nil, false
}

// Render renders a Dialog or Panel with its registered renderer.
func Render(v interface{ Kind() Kind }) (View, error) {
	render, ok := Lookup(v.Kind())
	if !ok {
		return View{}, fmt.Errorf("no renderer for %q", v.Kind())
	}
	return render(v)
}

func optionLabel(v any) string {
	return fmt.Sprint(v)
}

func unexpected(want Kind, v any) error {
	return fmt.Errorf("%s renderer given %T", want, v)
}

func renderSimple(v any) (View, error) {
	d, ok := v.(Simple)
	if !ok {
		return View{}, unexpected(KindSimple, v)
	}
	return View{
		Kind:    KindSimple,
		Title:   d.Title,
		Body:    d.Content,
		Actions: []string{ActionCancel, ActionOk},
	}, nil
}

func renderRadio(v any) (View, error) {
	d, ok := v.(Radio)
	if !ok {
		return View{}, unexpected(KindRadio, v)
	}
	view := View{
		Kind:    KindRadio,
		Title:   d.Title,
		Actions: []string{ActionCancel, ActionOk},
	}
	for _, o := range d.Options {
		view.Options = append(view.Options, optionLabel(o))
	}
	if d.Selected != nil {
		view.Selected = optionLabel(d.Selected)
	}
	return view, nil
}

func renderDownload(v any) (View, error) {
	d, ok := v.(Download)
	if !ok {
		return View{}, unexpected(KindDownload, v)
	}
	p := &Progress{Done: d.Done, Total: d.Total}
	if d.Total > 0 {
		p.Percent = float64(d.Done) * 100 / float64(d.Total)
	}
	return View{
		Kind:     KindDownload,
		Title:    d.Title,
		Progress: p,
		Actions:  []string{ActionCancel},
	}, nil
}

func renderSubscribePlugin(v any) (View, error) {
	d, ok := v.(SubscribePlugin)
	if !ok {
		return View{}, unexpected(KindSubscribePlugin, v)
	}
	return View{
		Kind:    KindSubscribePlugin,
		Title:   d.Title,
		Body:    d.URL,
		Actions: []string{ActionCancel, ActionOk},
	}, nil
}

func renderSimpleInput(v any) (View, error) {
	p, ok := v.(SimpleInput)
	if !ok {
		return View{}, unexpected(KindSimpleInput, v)
	}
	return View{
		Kind:        KindSimpleInput,
		Title:       p.Title,
		Placeholder: p.Placeholder,
		Actions:     []string{ActionCancel, ActionOk},
	}, nil
}
