// Package swapstore - file-based swap record store implementation
package swapstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/btcswap/intermediary/pkg/swap"
)

// FileStore implements Store using JSON file persistence, one record per
// (paymentHash, sequence) key, adapted from the teacher's FileTxStore
// (src/chainadapter/storage/file.go).
type FileStore struct {
	mu       sync.RWMutex
	filePath string
	records  map[string]*swap.Record
}

// NewFileStore creates a file-backed swap store, loading any existing
// records from filePath.
func NewFileStore(filePath string) (*FileStore, error) {
	s := &FileStore{
		filePath: filePath,
		records:  make(map[string]*swap.Record),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load swap records from file: %w", err)
	}
	return s, nil
}

func (f *FileStore) Get(key swap.Key) (*swap.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.records[keyString(key)]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (f *FileStore) Set(key swap.Key, record *swap.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records[keyString(key)] = record
	return f.persist()
}

func (f *FileStore) Delete(key swap.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.records, keyString(key))
	return f.persist()
}

func (f *FileStore) List() ([]*swap.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]*swap.Record, 0, len(f.records))
	for _, r := range f.records {
		result = append(result, r)
	}
	sortByQuotedAtDesc(result)
	return result, nil
}

func (f *FileStore) ListByDirection(dir swap.Direction) ([]*swap.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]*swap.Record, 0)
	for _, r := range f.records {
		if r.Direction == dir {
			result = append(result, r)
		}
	}
	sortByQuotedAtDesc(result)
	return result, nil
}

func (f *FileStore) ListByState(dir swap.Direction, state swap.State) ([]*swap.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]*swap.Record, 0)
	for _, r := range f.records {
		if r.Direction == dir && r.State == state {
			result = append(result, r)
		}
	}
	sortByQuotedAtDesc(result)
	return result, nil
}

func (f *FileStore) Clean(olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for k, r := range f.records {
		if swap.IsTerminal(r.State) && r.Metadata.QuotedAt.Before(cutoff) {
			delete(f.records, k)
			count++
		}
	}
	if err := f.persist(); err != nil {
		return count, err
	}
	return count, nil
}

func (f *FileStore) load() error {
	if _, err := os.Stat(f.filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var records map[string]*swap.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	f.records = records
	return nil
}

// persist saves records to disk via a temp-file-then-rename, so a crash
// mid-write never leaves a corrupt store file (must hold the write lock).
func (f *FileStore) persist() error {
	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(f.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func sortByQuotedAtDesc(records []*swap.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Metadata.QuotedAt.After(records[j].Metadata.QuotedAt)
	})
}
