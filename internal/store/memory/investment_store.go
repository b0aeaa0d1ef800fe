package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/knowton/bondledger/internal/domain"
)

// InvestmentStore is an in-memory domain.InvestmentStore.
type InvestmentStore struct {
	mu          sync.RWMutex
	investments map[domain.InvestmentKey]*domain.Investment
}

// NewInvestmentStore creates an empty InvestmentStore.
func NewInvestmentStore() *InvestmentStore {
	return &InvestmentStore{investments: make(map[domain.InvestmentKey]*domain.Investment)}
}

// Upsert stores a deep copy of the position snapshot.
func (s *InvestmentStore) Upsert(_ context.Context, inv *domain.Investment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investments[inv.Key()] = inv.Clone()
	return nil
}

// Get returns a deep copy of the stored position, or domain.ErrNotFound.
func (s *InvestmentStore) Get(_ context.Context, key domain.InvestmentKey) (*domain.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.investments[key]
	if !ok {
		return nil, fmt.Errorf("%w: no investment by %s in %s tranche of bond %d",
			domain.ErrNotFound, key.Investor, key.Tranche, key.BondID)
	}
	return inv.Clone(), nil
}

// ListByBond returns every position in a bond, ordered by tranche then
// investor.
func (s *InvestmentStore) ListByBond(_ context.Context, bondID uint64) ([]*domain.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Investment, 0)
	for key, inv := range s.investments {
		if key.BondID == bondID {
			out = append(out, inv.Clone())
		}
	}
	sortInvestments(out)
	return out, nil
}

// ListByInvestor returns every position held by one investor, ordered by
// bond then tranche.
func (s *InvestmentStore) ListByInvestor(_ context.Context, investor string, opts domain.ListOpts) ([]*domain.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Investment, 0)
	for key, inv := range s.investments {
		if key.Investor == investor {
			out = append(out, inv.Clone())
		}
	}
	sortInvestments(out)
	return paginate(out, opts), nil
}

func sortInvestments(invs []*domain.Investment) {
	sort.Slice(invs, func(i, j int) bool {
		a, b := invs[i], invs[j]
		if a.BondID != b.BondID {
			return a.BondID < b.BondID
		}
		if a.Tranche != b.Tranche {
			return a.Tranche < b.Tranche
		}
		return a.Investor < b.Investor
	})
}

// Compile-time interface check.
var _ domain.InvestmentStore = (*InvestmentStore)(nil)
