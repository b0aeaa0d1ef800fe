package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/knowton/bondledger/internal/domain"
)

// IssueParams carries the issuer-supplied terms of a new bond.
type IssueParams struct {
	Collateral domain.CollateralRef
	TotalValue *big.Int
	MaturityAt time.Time
	APYBps     [domain.TrancheCount]uint64
}

// IssueBond creates a bond with three tranches sized as fixed percentage
// slices of the total value. The integer-division remainder of the 50/33/17
// split stays unallocated and is never investable. Issuer role required.
func (l *Ledger) IssueBond(ctx context.Context, issuer string, p IssueParams) (*domain.Bond, domain.Event, error) {
	if err := l.checkPaused(ctx); err != nil {
		return nil, domain.Event{}, err
	}
	if err := l.authorize(ctx, issuer, domain.RoleIssuer); err != nil {
		return nil, domain.Event{}, err
	}

	now := l.now()
	if issuer == "" {
		return nil, domain.Event{}, fmt.Errorf("%w: empty issuer", domain.ErrInvalidParameters)
	}
	if p.Collateral.Contract == "" {
		return nil, domain.Event{}, fmt.Errorf("%w: empty collateral contract", domain.ErrInvalidParameters)
	}
	if p.TotalValue == nil || p.TotalValue.Sign() <= 0 {
		return nil, domain.Event{}, fmt.Errorf("%w: total value must be positive", domain.ErrInvalidParameters)
	}
	if !p.MaturityAt.After(now) {
		return nil, domain.Event{}, fmt.Errorf("%w: maturity must be in the future", domain.ErrInvalidParameters)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bond := &domain.Bond{
		ID:             l.nextID,
		Issuer:         issuer,
		Collateral:     domain.CollateralRef{Contract: p.Collateral.Contract, TokenID: cloneOrZero(p.Collateral.TokenID)},
		TotalValue:     new(big.Int).Set(p.TotalValue),
		MaturityAt:     p.MaturityAt,
		Status:         domain.BondActive,
		CarriedSurplus: big.NewInt(0),
		IssuedAt:       now,
	}
	for i := range bond.Tranches {
		alloc := new(big.Int).Mul(p.TotalValue, big.NewInt(domain.AllocationPct[i]))
		alloc.Quo(alloc, big.NewInt(100))
		bond.Tranches[i] = domain.Tranche{
			Index:            domain.TrancheIndex(i),
			Allocation:       alloc,
			APYBps:           p.APYBps[i],
			TotalInvested:    big.NewInt(0),
			TotalRedeemed:    big.NewInt(0),
			AccumulatedYield: big.NewInt(0),
		}
	}
	l.nextID++
	l.bonds[bond.ID] = bond

	payload := domain.BondIssuedPayload{
		Issuer:             bond.Issuer,
		CollateralContract: bond.Collateral.Contract,
		CollateralTokenID:  domain.AmountString(bond.Collateral.TokenID),
		TotalValue:         bond.TotalValue.String(),
		MaturityAt:         bond.MaturityAt,
	}
	for i, t := range bond.Tranches {
		payload.Allocations[i] = t.Allocation.String()
		payload.APYBps[i] = t.APYBps
	}
	ev := domain.NewEvent(domain.EventBondIssued, bond.ID, now, payload)
	return bond.Clone(), ev, nil
}

// MarkMatured transitions an active bond to matured once its maturity date
// has passed, unlocking redemption. Issuer role required.
func (l *Ledger) MarkMatured(ctx context.Context, caller string, bondID uint64) (*domain.Bond, domain.Event, error) {
	return l.settle(ctx, caller, bondID, domain.BondMatured)
}

// MarkDefaulted transitions an active bond to defaulted, possibly before
// maturity. Yield accrual stops at the moment of default and redemption
// pays reduced recovery. Issuer role required.
func (l *Ledger) MarkDefaulted(ctx context.Context, caller string, bondID uint64) (*domain.Bond, domain.Event, error) {
	return l.settle(ctx, caller, bondID, domain.BondDefaulted)
}

func (l *Ledger) settle(ctx context.Context, caller string, bondID uint64, target domain.BondStatus) (*domain.Bond, domain.Event, error) {
	if err := l.checkPaused(ctx); err != nil {
		return nil, domain.Event{}, err
	}
	if err := l.authorize(ctx, caller, domain.RoleIssuer); err != nil {
		return nil, domain.Event{}, err
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

	now := l.now()
	if target == domain.BondMatured && now.Before(bond.MaturityAt) {
		return nil, domain.Event{}, fmt.Errorf("%w: bond %d matures at %s", domain.ErrNotYetMatured, bondID, bond.MaturityAt.UTC().Format(time.RFC3339))
	}

	bond.Status = target
	settled := now
	bond.SettledAt = &settled

	kind := domain.EventBondMatured
	if target == domain.BondDefaulted {
		kind = domain.EventBondDefaulted
	}
	ev := domain.NewEvent(kind, bondID, now, domain.StatusPayload{Status: target, MaturityAt: bond.MaturityAt})
	return bond.Clone(), ev, nil
}

func cloneOrZero(n *big.Int) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(n)
}
