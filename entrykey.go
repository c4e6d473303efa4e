package playercache

import (
	"fmt"
	"strings"
)

// Entry storage key layout: {category}/{hex[:2]}/{hex}

// CategoryPrefix returns the backend key prefix holding every entry of a category.
func CategoryPrefix(c Category) string {
	return string(c) + "/"
}

// EntryKey returns the backend storage key for an entry.
func EntryKey(c Category, h Hash) string {
	hex := h.String()
	return string(c) + "/" + hex[:2] + "/" + hex
}

// ParseEntryKey extracts the category and hash from a backend storage key.
func ParseEntryKey(key string) (Category, Hash, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return "", Hash{}, fmt.Errorf("invalid entry key format: %s", key)
	}
	c, err := ParseCategory(parts[0])
	if err != nil {
		return "", Hash{}, fmt.Errorf("invalid entry key %s: %w", key, err)
	}
	h, err := ParseHash(parts[2])
	if err != nil {
		return "", Hash{}, fmt.Errorf("invalid hash in entry key %s: %w", key, err)
	}
	if h.Dir() != parts[1] {
		return "", Hash{}, fmt.Errorf("entry key shard mismatch: %s", key)
	}
	return c, h, nil
}
