package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/knowton/bondledger/internal/domain"
)

const (
	yearSeconds = 365 * 24 * 60 * 60
	bpsDenom    = 10_000
)

// ExpectedYield computes the time-proportional yield a principal earns at
// the given basis-point APY over [start, end]. The annual yield is floored
// first, then scaled by elapsed time over a 365-day year, all in integer
// arithmetic. Pure function; fails only when end precedes start.
func ExpectedYield(principal *big.Int, apyBps uint64, start, end time.Time) (*big.Int, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", domain.ErrInvalidInterval,
			end.UTC().Format(time.RFC3339), start.UTC().Format(time.RFC3339))
	}
	if principal == nil || principal.Sign() <= 0 || apyBps == 0 {
		return big.NewInt(0), nil
	}
	annual := new(big.Int).Mul(principal, new(big.Int).SetUint64(apyBps))
	annual.Quo(annual, big.NewInt(bpsDenom))
	elapsed := int64(end.Sub(start) / time.Second)
	annual.Mul(annual, big.NewInt(elapsed))
	return annual.Quo(annual, big.NewInt(yearSeconds)), nil
}

// outstandingNeed is the expected yield a tranche has earned since issuance
// that has not yet been covered by past distributions, floored at zero.
func outstandingNeed(t *domain.Tranche, issuedAt, end time.Time) *big.Int {
	expected, err := ExpectedYield(t.TotalInvested, t.APYBps, issuedAt, end)
	if err != nil {
		return big.NewInt(0)
	}
	need := expected.Sub(expected, t.AccumulatedYield)
	if need.Sign() < 0 {
		need.SetInt64(0)
	}
	return need
}

// DistributeRevenue applies incoming revenue to the bond's tranches in
// strict priority order Senior, then Mezzanine, then Junior. Each tranche
// absorbs up to its outstanding expected yield; a lower tranche receives
// nothing until every tranche above it is fully satisfied for this call.
// Revenue beyond all three needs is carried as surplus and re-offered on
// the next distribution. Revenue role required.
func (l *Ledger) DistributeRevenue(ctx context.Context, caller string, bondID uint64, amount *big.Int) (*domain.Bond, domain.Event, error) {
	if err := l.checkPaused(ctx); err != nil {
		return nil, domain.Event{}, err
	}
	if err := l.authorize(ctx, caller, domain.RoleRevenue); err != nil {
		return nil, domain.Event{}, err
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
	if bond.Status == domain.BondDefaulted {
		return nil, domain.Event{}, fmt.Errorf("%w: bond %d is defaulted", domain.ErrInvalidState, bondID)
	}

	now := l.now()
	end := accrualEnd(bond, now)
	available := new(big.Int).Add(amount, bond.CarriedSurplus)

	var payload domain.YieldDistributedPayload
	payload.Revenue = amount.String()
	for i := range bond.Tranches {
		t := &bond.Tranches[i]
		need := outstandingNeed(t, bond.IssuedAt, end)
		take := need
		if available.Cmp(need) < 0 {
			take = new(big.Int).Set(available)
		}
		t.AccumulatedYield.Add(t.AccumulatedYield, take)
		available.Sub(available, take)
		payload.Amounts[i] = take.String()
	}
	bond.CarriedSurplus = available
	payload.Surplus = available.String()

	ev := domain.NewEvent(domain.EventYieldDistributed, bondID, now, payload)
	return bond.Clone(), ev, nil
}
