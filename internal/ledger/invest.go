package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/knowton/bondledger/internal/domain"
)

// Invest credits an investor's position in one tranche of an active bond.
// The allocation ceiling check and the balance credit happen under the same
// lock, so concurrent investors cannot race past the ceiling. Repeat calls
// by the same investor accumulate into one position.
func (l *Ledger) Invest(ctx context.Context, investor string, bondID uint64, tranche domain.TrancheIndex, amount *big.Int) (*domain.Investment, domain.Event, error) {
	if err := l.checkPaused(ctx); err != nil {
		return nil, domain.Event{}, err
	}
	if investor == "" {
		return nil, domain.Event{}, fmt.Errorf("%w: empty investor", domain.ErrInvalidParameters)
	}
	if !tranche.Valid() {
		return nil, domain.Event{}, fmt.Errorf("%w: tranche index %d", domain.ErrInvalidParameters, tranche)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.Event{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidParameters)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bond, ok := l.bonds[bondID]
	if !ok {
		return nil, domain.Event{}, fmt.Errorf("%w: bond %d", domain.ErrNotFound, bondID)
	}
	if bond.Status != domain.BondActive {
		return nil, domain.Event{}, fmt.Errorf("%w: bond %d is %s", domain.ErrInvalidState, bondID, bond.Status)
	}

	t := &bond.Tranches[tranche]
	next := new(big.Int).Add(t.TotalInvested, amount)
	if next.Cmp(t.Allocation) > 0 {
		return nil, domain.Event{}, fmt.Errorf("%w: %s tranche of bond %d has %s remaining",
			domain.ErrExceedsAllocation, tranche, bondID, new(big.Int).Sub(t.Allocation, t.TotalInvested))
	}

	now := l.now()
	key := domain.InvestmentKey{BondID: bondID, Tranche: tranche, Investor: investor}
	inv, ok := l.investments[key]
	if !ok {
		inv = &domain.Investment{
			BondID:     bondID,
			Tranche:    tranche,
			Investor:   investor,
			Amount:     big.NewInt(0),
			InvestedAt: now,
		}
		l.investments[key] = inv
	}
	inv.Amount.Add(inv.Amount, amount)
	inv.UpdatedAt = now
	t.TotalInvested = next

	ev := domain.NewEvent(domain.EventInvestment, bondID, now, domain.InvestmentPayload{
		Tranche:  tranche,
		Investor: investor,
		Amount:   amount.String(),
		Total:    inv.Amount.String(),
	})
	return inv.Clone(), ev, nil
}
