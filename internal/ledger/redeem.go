package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/knowton/bondledger/internal/domain"
)

// Redeem pays out an investor's position in one tranche of a settled bond,
// exactly once. A matured bond pays principal plus the investor's pro-rata
// share of the tranche's accumulated yield; a defaulted bond pays only the
// pro-rata yield share, capped at principal. The redeemed-flag check and
// set happen under the same lock, so a position can never pay out twice.
func (l *Ledger) Redeem(ctx context.Context, investor string, bondID uint64, tranche domain.TrancheIndex) (*domain.Investment, domain.Event, error) {
	if err := l.checkPaused(ctx); err != nil {
		return nil, domain.Event{}, err
	}
	if !tranche.Valid() {
		return nil, domain.Event{}, fmt.Errorf("%w: tranche index %d", domain.ErrInvalidParameters, tranche)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bond, ok := l.bonds[bondID]
	if !ok {
		return nil, domain.Event{}, fmt.Errorf("%w: bond %d", domain.ErrNotFound, bondID)
	}
	if bond.Status == domain.BondActive {
		return nil, domain.Event{}, fmt.Errorf("%w: bond %d", domain.ErrNotYetMatured, bondID)
	}

	key := domain.InvestmentKey{BondID: bondID, Tranche: tranche, Investor: investor}
	inv, ok := l.investments[key]
	if !ok || inv.Amount.Sign() <= 0 {
		return nil, domain.Event{}, fmt.Errorf("%w: %s has no position in %s tranche of bond %d",
			domain.ErrNoInvestment, investor, tranche, bondID)
	}
	if inv.Redeemed {
		return nil, domain.Event{}, fmt.Errorf("%w: %s in %s tranche of bond %d",
			domain.ErrAlreadyRedeemed, investor, tranche, bondID)
	}

	t := &bond.Tranches[tranche]
	yieldShare := proRataShare(t.AccumulatedYield, inv.Amount, t.TotalInvested)

	var payout *big.Int
	if bond.Status == domain.BondMatured {
		payout = new(big.Int).Add(inv.Amount, yieldShare)
	} else {
		// Defaulted: recovery limited to distributed yield, never more
		// than the original principal.
		payout = yieldShare
		if payout.Cmp(inv.Amount) > 0 {
			payout = new(big.Int).Set(inv.Amount)
		}
	}

	now := l.now()
	inv.Redeemed = true
	redeemedAt := now
	inv.RedeemedAt = &redeemedAt
	inv.UpdatedAt = now
	t.TotalRedeemed.Add(t.TotalRedeemed, payout)

	ev := domain.NewEvent(domain.EventRedeemed, bondID, now, domain.RedeemedPayload{
		Tranche:   tranche,
		Investor:  investor,
		Principal: inv.Amount.String(),
		Yield:     yieldShare.String(),
		Payout:    payout.String(),
	})
	return inv.Clone(), ev, nil
}

// proRataShare computes total * part / whole, returning zero when the whole
// is empty.
func proRataShare(total, part, whole *big.Int) *big.Int {
	if whole == nil || whole.Sign() <= 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(total, part)
	return share.Quo(share, whole)
}
