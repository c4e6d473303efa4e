// Package playercache holds the shared types of the music player cache service:
// cache categories, entry hashes and storage key layout.
package playercache

import (
	"errors"
	"fmt"
)

// ErrUnknownCategory is returned when a category name is not one of the known cache partitions.
var ErrUnknownCategory = errors.New("unknown cache category")

// Category is a cache partition that is sized and cleared independently.
type Category string

const (
	CategoryMusic Category = "music"
	CategoryLyric Category = "lyric"
	CategoryImage Category = "image"
)

// Categories returns every category in display order.
func Categories() []Category {
	return []Category{CategoryMusic, CategoryLyric, CategoryImage}
}

// ParseCategory converts a name into a Category.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryMusic, CategoryLyric, CategoryImage:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, err := ParseCategory(string(c))
	return err == nil
}

func (c Category) String() string {
	return string(c)
}
