package repository

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

// BatchStore is the authoritative in-process registry of batches.
type BatchStore interface {
	Add(b *domain.Batch) error
	Get(id string) (*domain.Batch, bool)
	Delete(id string) bool
	List() []*domain.Batch
	Len() int
}

// MemoryBatchStore keeps batches in a map. It guards the map only; callers
// synchronise access to the batches themselves.
type MemoryBatchStore struct {
	mu      sync.RWMutex
	batches map[string]*domain.Batch
}

var _ BatchStore = (*MemoryBatchStore)(nil)

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{batches: make(map[string]*domain.Batch)}
}

func (s *MemoryBatchStore) Add(b *domain.Batch) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[b.ID]; exists {
		return fmt.Errorf("%w: batch %s already registered", domain.ErrConflict, b.ID)
	}
	s.batches[b.ID] = b
	return nil
}

func (s *MemoryBatchStore) Get(id string) (*domain.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	return b, ok
}

func (s *MemoryBatchStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[id]; !ok {
		return false
	}
	delete(s.batches, id)
	return true
}

// List returns the registered batches ordered by creation time.
func (s *MemoryBatchStore) List() []*domain.Batch {
	s.mu.RLock()
	batches := make([]*domain.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		batches = append(batches, b)
	}
	s.mu.RUnlock()

	sort.Slice(batches, func(i, j int) bool {
		if batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
	return batches
}

func (s *MemoryBatchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}
