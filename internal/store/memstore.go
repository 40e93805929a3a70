// Package store implements the content-addressed transaction store: an
// append-only byte sink (block_content) plus a hash-to-pointer index, in
// two flavors — a pure in-memory one for tests and embedding, and a
// Postgres-backed one for durable operation.
package store

import (
	"errors"
	"sync"

	"github.com/keato/btc-core/internal/hash"
	"github.com/keato/btc-core/internal/metrics"
)

// ErrPointerOutOfRange is returned by Read when given a pointer this store
// never issued.
var ErrPointerOutOfRange = errors.New("store: pointer out of range")

// MemStore is a pure in-memory implementation of the tx.Store contract. A
// single RWMutex guards both block_content and index: InsertIfAbsent takes
// the write lock for its whole check-then-append-then-index critical
// section, so the "index insert published only after content append is
// durable" ordering falls out of the critical section itself rather than
// needing two separate locks.
type MemStore struct {
	mu      sync.RWMutex
	content [][]byte
	index   map[hash.Hash32]uint64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		index: make(map[hash.Hash32]uint64),
	}
}

// Lookup returns the pointer stored under h, if any. Safe for concurrent
// use with other readers and with InsertIfAbsent.
func (s *MemStore) Lookup(h hash.Hash32) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ptr, ok := s.index[h]
	return ptr, ok
}

// Read returns the bytes written at ptr.
func (s *MemStore) Read(ptr uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ptr >= uint64(len(s.content)) {
		metrics.StoreErrors.WithLabelValues("read").Inc()
		return nil, ErrPointerOutOfRange
	}
	return s.content[ptr], nil
}

// InsertIfAbsent atomically inserts raw under h unless it is already
// present.
func (s *MemStore) InsertIfAbsent(h hash.Hash32, raw []byte) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ptr, ok := s.index[h]; ok {
		return ptr, true, nil
	}
	stored := make([]byte, len(raw))
	copy(stored, raw)
	ptr := uint64(len(s.content))
	s.content = append(s.content, stored)
	s.index[h] = ptr
	metrics.StoreSize.Set(float64(len(s.content)))
	return ptr, false, nil
}

// Count returns the number of transactions currently stored.
func (s *MemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.content)
}
