package settings

import (
	"context"
	"sync"

	"github.com/wolfeidau/player-cache/store/metadb"
)

// MemoryPersister keeps the settings document in memory.
type MemoryPersister struct {
	mu    sync.Mutex
	doc   []byte
	err   error
	saves int
}

func (m *MemoryPersister) LoadSettings(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, metadb.ErrNotFound
	}
	return append([]byte(nil), m.doc...), nil
}

func (m *MemoryPersister) SaveSettings(_ context.Context, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.doc = append([]byte(nil), doc...)
	m.saves++
	return nil
}

// FailSaves makes subsequent saves return err. A nil err restores saving.
func (m *MemoryPersister) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Saves returns the number of successful saves.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var (
	_ Persister = (*MemoryPersister)(nil)
	_ Persister = (*metadb.BoltDB)(nil)
)
