// Package docstore persists keyed documents: users, chat transcripts and
// resume metadata. The in-memory implementation backs tests and
// single-process deployments behind core.DocumentStore.
package docstore

import (
	"context"
	"sync"

	"github.com/jobmesh/jobmesh/core"
)

// InMemoryStore keeps documents in a process-local map guarded by an
// RWMutex. Documents are copied on put and get.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewInMemoryStore returns an empty in-memory document store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string][]byte)}
}

// Put stores (or overwrites) the document under key.
func (s *InMemoryStore) Put(_ context.Context, key string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(doc))
	copy(cp, doc)
	s.docs[key] = cp
	return nil
}

// Get returns a copy of the stored document or core.ErrDocumentNotFound.
func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	return cp, nil
}

// Delete removes the document if present or returns core.ErrDocumentNotFound.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; !ok {
		return core.ErrDocumentNotFound
	}
	delete(s.docs, key)
	return nil
}
