package cachesize

import (
	"github.com/dustin/go-humanize"

	playercache "github.com/wolfeidau/player-cache"
)

// Snapshot is the last complete set of per-category cache sizes, in bytes.
type Snapshot struct {
	Music int64 `json:"music"`
	Lyric int64 `json:"lyric"`
	Image int64 `json:"image"`
}

// Get returns the size recorded for a category, or 0 for an unknown one.
func (s Snapshot) Get(c playercache.Category) int64 {
	switch c {
	case playercache.CategoryMusic:
		return s.Music
	case playercache.CategoryLyric:
		return s.Lyric
	case playercache.CategoryImage:
		return s.Image
	default:
		return 0
	}
}

// Total is the sum over all categories.
func (s Snapshot) Total() int64 {
	return s.Music + s.Lyric + s.Image
}

// Human formats a category's size for display, e.g. "12 MiB".
func (s Snapshot) Human(c playercache.Category) string {
	return FormatBytes(s.Get(c))
}

// FormatBytes formats a byte count in IEC units.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func (s *Snapshot) set(c playercache.Category, n int64) {
	switch c {
	case playercache.CategoryMusic:
		s.Music = n
	case playercache.CategoryLyric:
		s.Lyric = n
	case playercache.CategoryImage:
		s.Image = n
	}
}
