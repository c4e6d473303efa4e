// Package metadb provides the bbolt-backed entry index and settings
// persistence for the player cache.
package metadb

import (
	"time"

	playercache "github.com/wolfeidau/player-cache"
)

// Entry describes one cached item in a category.
type Entry struct {
	Category    playercache.Category `json:"category"`
	Hash        string               `json:"hash"`
	Source      string               `json:"source"`
	Key         string               `json:"key"`
	ContentType string               `json:"content_type,omitempty"`
	Size        int64                `json:"size"`
	CachedAt    time.Time            `json:"cached_at"`
	LastAccess  time.Time            `json:"last_access"`
}
