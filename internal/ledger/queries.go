package ledger

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/knowton/bondledger/internal/domain"
)

// GetBond returns a deep copy of the bond, or ErrNotFound.
func (l *Ledger) GetBond(bondID uint64) (*domain.Bond, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bond, ok := l.bonds[bondID]
	if !ok {
		return nil, fmt.Errorf("%w: bond %d", domain.ErrNotFound, bondID)
	}
	return bond.Clone(), nil
}

// GetTranche returns a deep copy of one tranche of a bond.
func (l *Ledger) GetTranche(bondID uint64, tranche domain.TrancheIndex) (domain.Tranche, error) {
	if !tranche.Valid() {
		return domain.Tranche{}, fmt.Errorf("%w: tranche index %d", domain.ErrInvalidParameters, tranche)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	bond, ok := l.bonds[bondID]
	if !ok {
		return domain.Tranche{}, fmt.Errorf("%w: bond %d", domain.ErrNotFound, bondID)
	}
	return bond.Tranches[tranche].Clone(), nil
}

// GetInvestment returns a deep copy of an investor's position, or
// ErrNotFound if the investor never deposited into that tranche.
func (l *Ledger) GetInvestment(bondID uint64, tranche domain.TrancheIndex, investor string) (*domain.Investment, error) {
	if !tranche.Valid() {
		return nil, fmt.Errorf("%w: tranche index %d", domain.ErrInvalidParameters, tranche)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	inv, ok := l.investments[domain.InvestmentKey{BondID: bondID, Tranche: tranche, Investor: investor}]
	if !ok {
		return nil, fmt.Errorf("%w: no investment by %s in %s tranche of bond %d",
			domain.ErrNotFound, investor, tranche, bondID)
	}
	return inv.Clone(), nil
}

// ListBonds returns all bonds ordered by id.
func (l *Ledger) ListBonds() []*domain.Bond {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Bond, 0, len(l.bonds))
	for _, b := range l.bonds {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListBondsByStatus returns all bonds in the given lifecycle state, ordered
// by id.
func (l *Ledger) ListBondsByStatus(status domain.BondStatus) []*domain.Bond {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Bond, 0)
	for _, b := range l.bonds {
		if b.Status == status {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListInvestmentsByBond returns every position in a bond, ordered by
// tranche then investor.
func (l *Ledger) ListInvestmentsByBond(bondID uint64) []*domain.Investment {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Investment, 0)
	for key, inv := range l.investments {
		if key.BondID == bondID {
			out = append(out, inv.Clone())
		}
	}
	sortInvestments(out)
	return out
}

// ListInvestmentsByInvestor returns every position held by one investor
// across all bonds, ordered by bond then tranche.
func (l *Ledger) ListInvestmentsByInvestor(investor string) []*domain.Investment {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Investment, 0)
	for key, inv := range l.investments {
		if key.Investor == investor {
			out = append(out, inv.Clone())
		}
	}
	sortInvestments(out)
	return out
}

// CurrentYield reports what an investor's position has earned so far: the
// expected accrual from their first deposit to the clamped accrual end, and
// their claimable pro-rata share of the tranche's accumulated yield.
func (l *Ledger) CurrentYield(bondID uint64, tranche domain.TrancheIndex, investor string) (expected, claimable *big.Int, err error) {
	if !tranche.Valid() {
		return nil, nil, fmt.Errorf("%w: tranche index %d", domain.ErrInvalidParameters, tranche)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	bond, ok := l.bonds[bondID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: bond %d", domain.ErrNotFound, bondID)
	}
	inv, ok := l.investments[domain.InvestmentKey{BondID: bondID, Tranche: tranche, Investor: investor}]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no investment by %s in %s tranche of bond %d",
			domain.ErrNotFound, investor, tranche, bondID)
	}

	t := &bond.Tranches[tranche]
	expected, err = ExpectedYield(inv.Amount, t.APYBps, inv.InvestedAt, accrualEnd(bond, l.now()))
	if err != nil {
		return nil, nil, err
	}
	claimable = proRataShare(t.AccumulatedYield, inv.Amount, t.TotalInvested)
	return expected, claimable, nil
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
