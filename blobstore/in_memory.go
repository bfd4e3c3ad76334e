// Package blobstore holds uploaded and generated files. The in-memory
// implementation backs tests and single-process deployments; durable
// backends (S3 compatible object stores) plug in behind core.BlobStore.
package blobstore

import (
	"context"
	"sync"

	"github.com/jobmesh/jobmesh/core"
)

// InMemoryStore keeps blobs in a process-local map guarded by an RWMutex.
// Data is copied on put and get so callers cannot mutate internal buffers.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewInMemoryStore returns an empty in-memory blob store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

// Put stores (or overwrites) the blob under key. The input slice is copied.
func (s *InMemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return nil
}

// Get returns a copy of the stored blob or core.ErrBlobNotFound.
func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, core.ErrBlobNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete removes the blob if present or returns core.ErrBlobNotFound.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return core.ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len reports the number of stored blobs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
