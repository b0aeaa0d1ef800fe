// Package memory provides in-memory store implementations guarded by
// mutexes. They back tests and the persistence-free single-node mode; the
// postgres package provides the durable equivalents.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/knowton/bondledger/internal/domain"
)

// BondStore is an in-memory domain.BondStore.
type BondStore struct {
	mu    sync.RWMutex
	bonds map[uint64]*domain.Bond
}

// NewBondStore creates an empty BondStore.
func NewBondStore() *BondStore {
	return &BondStore{bonds: make(map[uint64]*domain.Bond)}
}

// Upsert stores a deep copy of the bond snapshot.
func (s *BondStore) Upsert(_ context.Context, bond *domain.Bond) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonds[bond.ID] = bond.Clone()
	return nil
}

// GetByID returns a deep copy of the stored bond, or domain.ErrNotFound.
func (s *BondStore) GetByID(_ context.Context, id uint64) (*domain.Bond, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bond, ok := s.bonds[id]
	if !ok {
		return nil, fmt.Errorf("%w: bond %d", domain.ErrNotFound, id)
	}
	return bond.Clone(), nil
}

// List returns all bonds ordered by id, honoring pagination.
func (s *BondStore) List(_ context.Context, opts domain.ListOpts) ([]*domain.Bond, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(func(*domain.Bond) bool { return true }, opts), nil
}

// ListByStatus returns bonds in the given state ordered by id.
func (s *BondStore) ListByStatus(_ context.Context, status domain.BondStatus, opts domain.ListOpts) ([]*domain.Bond, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(func(b *domain.Bond) bool { return b.Status == status }, opts), nil
}

// MaxID returns the highest stored bond id, or zero when empty.
func (s *BondStore) MaxID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max uint64
	for id := range s.bonds {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (s *BondStore) filtered(keep func(*domain.Bond) bool, opts domain.ListOpts) []*domain.Bond {
	out := make([]*domain.Bond, 0, len(s.bonds))
	for _, b := range s.bonds {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts)
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface check.
var _ domain.BondStore = (*BondStore)(nil)
