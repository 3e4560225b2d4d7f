package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/models"
)

// MemoryStore keeps the most recent runs in a bounded ring
type MemoryStore struct {
	mu       sync.RWMutex
	records  []models.RunRecord
	next     int
	full     bool
	capacity int
}

// NewMemoryStore creates a ring of the given capacity (default 1000)
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultConfig().Capacity
	}
	return &MemoryStore{
		records:  make([]models.RunRecord, capacity),
		capacity: capacity,
	}
}

// Record stores a run, evicting the oldest when full
func (s *MemoryStore) Record(_ context.Context, record models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[s.next] = record
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// newestFirst returns the stored records, most recent first. Callers hold the lock.
func (s *MemoryStore) newestFirst() []models.RunRecord {
	n := s.next
	if s.full {
		n = s.capacity
	}
	out := make([]models.RunRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, s.records[(s.next-i+s.capacity)%s.capacity])
	}
	return out
}

// List returns up to limit records, most recent first
func (s *MemoryStore) List(_ context.Context, limit int) ([]models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.newestFirst()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get finds a run by ID
func (s *MemoryStore) Get(_ context.Context, id string) (models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.newestFirst() {
		if r.ID == id {
			return r, nil
		}
	}
	return models.RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Prune drops records started before the cutoff
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.newestFirst()
	kept := make([]models.RunRecord, 0, len(all))
	for _, r := range all {
		if !r.StartedAt.Before(before) {
			kept = append(kept, r)
		}
	}

	s.records = make([]models.RunRecord, s.capacity)
	s.next, s.full = 0, false
	for i := len(kept) - 1; i >= 0; i-- {
		s.records[s.next] = kept[i]
		s.next++
	}
	if s.next == s.capacity {
		s.next, s.full = 0, true
	}
	return len(all) - len(kept), nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
