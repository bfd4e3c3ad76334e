package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrRunNotFound indicates the run id is unknown to the store.
var ErrRunNotFound = errors.New("pipeline: run not found")

// RunStore persists pipeline runs. A suspended run is plain data in the
// store, not a parked goroutine, so a decision arriving arbitrarily late (or
// after a process restart, for durable stores) can still resume it.
type RunStore interface {
	// Save inserts or replaces a run keyed by its ID.
	Save(ctx context.Context, run *Run) error

	// Get returns the live run or ErrRunNotFound.
	Get(ctx context.Context, id string) (*Run, error)

	// Archive moves a terminal run out of the live set, retaining it for
	// history reads.
	Archive(ctx context.Context, id string) error

	// GetArchived returns an archived run or ErrRunNotFound.
	GetArchived(ctx context.Context, id string) (*Run, error)

	// ListSuspendedBefore returns live runs suspended earlier than the
	// cutoff, oldest first. Used to garbage-collect abandoned decisions.
	ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*Run, error)

	// Delete removes a live run outright.
	Delete(ctx context.Context, id string) error
}

// InMemoryRunStore is the default RunStore backed by two keyed maps.
type InMemoryRunStore struct {
	mu       sync.RWMutex
	live     map[string]*Run
	archived map[string]*Run
}

// NewInMemoryRunStore creates an empty store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		live:     make(map[string]*Run),
		archived: make(map[string]*Run),
	}
}

// Save implements RunStore.
func (s *InMemoryRunStore) Save(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[run.ID] = run.Clone()
	return nil
}

// Get implements RunStore.
func (s *InMemoryRunStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.live[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// Archive implements RunStore.
func (s *InMemoryRunStore) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.live[id]
	if !ok {
		return ErrRunNotFound
	}
	delete(s.live, id)
	s.archived[id] = run
	return nil
}

// GetArchived implements RunStore.
func (s *InMemoryRunStore) GetArchived(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.archived[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// ListSuspendedBefore implements RunStore.
func (s *InMemoryRunStore) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Run
	for _, run := range s.live {
		if run.Suspended() && run.SuspendedAt.Before(cutoff) {
			out = append(out, run.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuspendedAt.Before(out[j].SuspendedAt) })
	return out, nil
}

// Delete implements RunStore.
func (s *InMemoryRunStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
	return nil
}

var _ RunStore = (*InMemoryRunStore)(nil)
