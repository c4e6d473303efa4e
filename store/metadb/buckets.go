package metadb

import (
	"encoding/binary"
	"time"

	playercache "github.com/wolfeidau/player-cache"
)

// Bucket names for bbolt storage.
var (
	// Entry index - nested structure: entries -> category -> hash -> Entry JSON
	bucketEntries = []byte("entries")

	// LRU index - nested structure: access -> category -> timestamp+hash -> hash
	bucketAccess = []byte("access")

	// Running byte totals: sizes -> category -> 8-byte big-endian int64
	bucketSizes = []byte("sizes")

	// Settings document: settings -> "document" -> JSON
	bucketSettings = []byte("settings")

	settingsDocumentKey = []byte("document")
)

// encodeTimestamp converts a time.Time to a fixed-width big-endian byte slice.
// This ensures correct lexicographic ordering for time-based indexes.
// Uses an offset to handle negative nanosecond values (pre-1970 dates).
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	ns := t.UnixNano()
	binary.BigEndian.PutUint64(buf, uint64(ns-(-1<<63))) //nolint:gosec // intentional signed->unsigned shift
	return buf
}

// decodeTimestamp converts a big-endian byte slice back to time.Time.
func decodeTimestamp(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	u := binary.BigEndian.Uint64(b[:8])
	ns := int64(u) + (-1 << 63) //nolint:gosec // intentional unsigned->signed shift
	return time.Unix(0, ns).UTC()
}

// makeAccessKey creates a key for the access index.
// Format: [8-byte timestamp][hash string]
func makeAccessKey(accessTime time.Time, hash string) []byte {
	ts := encodeTimestamp(accessTime)
	key := make([]byte, 8+len(hash))
	copy(key[:8], ts)
	copy(key[8:], hash)
	return key
}

// parseAccessKey extracts the access time and hash from an access index key.
func parseAccessKey(data []byte) (accessTime time.Time, hash string) {
	if len(data) < 8 {
		return time.Time{}, ""
	}
	return decodeTimestamp(data[:8]), string(data[8:])
}

func encodeSize(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n)) //nolint:gosec // sizes are never negative
	return buf
}

func decodeSize(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b[:8])) //nolint:gosec // written by encodeSize
}

func categoryKey(c playercache.Category) []byte {
	return []byte(c)
}
