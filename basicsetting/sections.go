package basicsetting

import (
	"errors"
	"strconv"

	playercache "github.com/wolfeidau/player-cache"
	"github.com/wolfeidau/player-cache/cachesize"
	"github.com/wolfeidau/player-cache/settings"
)

// ErrUnknownSwitch is returned for switch names the page does not have.
var ErrUnknownSwitch = errors.New("unknown switch")

// Switch names a boolean setting shown as a toggle.
type Switch string

const (
	SwitchNotInterrupt      Switch = "notInterrupt"
	SwitchAutoStopWhenError Switch = "autoStopWhenError"
	SwitchErrorLog          Switch = "errorLog"
	SwitchTraceLog          Switch = "traceLog"
)

var switchPaths = map[Switch]string{
	SwitchNotInterrupt:      settings.PathNotInterrupt,
	SwitchAutoStopWhenError: settings.PathAutoStopWhenError,
	SwitchErrorLog:          settings.PathErrorLog,
	SwitchTraceLog:          settings.PathTraceLog,
}

// ParseSwitch resolves a switch name.
func ParseSwitch(name string) (Switch, bool) {
	sw := Switch(name)
	_, ok := switchPaths[sw]
	return sw, ok
}

// Section is a titled group of items on the page.
type Section struct {
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Item is one row: a title, the value shown on the right and the action a
// press triggers.
type Item struct {
	Title  string `json:"title"`
	Value  string `json:"value"`
	Action string `json:"action,omitempty"`
}

func switchItem(title string, sw Switch, on bool) Item {
	v := "off"
	if on {
		v = "on"
	}
	return Item{Title: title, Value: v, Action: "toggle:" + string(sw)}
}

// Sections lays out the page from the current settings and size snapshot.
func (p *Page) Sections() []Section {
	basic := p.Basic()
	sizes := p.coordinator.Snapshot()

	limit := basic.MaxCacheSize
	if limit == 0 {
		limit = settings.DefaultMaxCacheSize
	}

	cache := []Item{{
		Title:  "Music cache limit",
		Value:  cachesize.FormatBytes(limit),
		Action: "prompt:cacheLimit",
	}}
	for _, c := range playercache.Categories() {
		cache = append(cache, Item{
			Title:  "Clear " + string(c) + " cache",
			Value:  sizes.Human(c),
			Action: "clear:" + string(c),
		})
	}

	return []Section{
		{
			Title: "Playback & Download",
			Items: []Item{
				switchItem("Play alongside other apps", SwitchNotInterrupt, basic.NotInterrupt),
				switchItem("Pause when playback fails", SwitchAutoStopWhenError, basic.AutoStopWhenError),
				{
					Title:  "Max concurrent downloads",
					Value:  strconv.Itoa(maxDownload(basic)),
					Action: "prompt:maxDownload",
				},
			},
		},
		{Title: "Network", Items: []Item{}},
		{Title: "Cache", Items: cache},
		{
			Title: "Error Log",
			Items: []Item{
				switchItem("Record error log", SwitchErrorLog, basic.Debug.ErrorLog),
				switchItem("Record trace log", SwitchTraceLog, basic.Debug.TraceLog),
			},
		},
	}
}
