// Package swapstore - in-memory swap record store implementation
package swapstore

import (
	"sync"
	"time"

	"github.com/btcswap/intermediary/pkg/swap"
)

// MemoryStore implements Store with no disk persistence, adapted from the
// teacher's MemoryTxStore (src/chainadapter/storage/memory.go). Suitable
// for tests or a deployment that accepts losing in-flight swaps on crash.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*swap.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*swap.Record)}
}

func (m *MemoryStore) Get(key swap.Key) (*swap.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[keyString(key)]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (m *MemoryStore) Set(key swap.Key, record *swap.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[keyString(key)] = record
	return nil
}

func (m *MemoryStore) Delete(key swap.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, keyString(key))
	return nil
}

func (m *MemoryStore) List() ([]*swap.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*swap.Record, 0, len(m.records))
	for _, r := range m.records {
		result = append(result, r)
	}
	sortByQuotedAtDesc(result)
	return result, nil
}

func (m *MemoryStore) ListByDirection(dir swap.Direction) ([]*swap.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*swap.Record, 0)
	for _, r := range m.records {
		if r.Direction == dir {
			result = append(result, r)
		}
	}
	sortByQuotedAtDesc(result)
	return result, nil
}

func (m *MemoryStore) ListByState(dir swap.Direction, state swap.State) ([]*swap.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*swap.Record, 0)
	for _, r := range m.records {
		if r.Direction == dir && r.State == state {
			result = append(result, r)
		}
	}
	sortByQuotedAtDesc(result)
	return result, nil
}

func (m *MemoryStore) Clean(olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for k, r := range m.records {
		if swap.IsTerminal(r.State) && r.Metadata.QuotedAt.Before(cutoff) {
			delete(m.records, k)
			count++
		}
	}
	return count, nil
}
