package domain

import (
	"math/big"
	"time"
)

// BondStatus is the lifecycle state of a bond. Transitions are one-way:
// a bond leaves "active" exactly once and never returns.
type BondStatus string

const (
	BondActive    BondStatus = "active"
	BondMatured   BondStatus = "matured"
	BondDefaulted BondStatus = "defaulted"
)

// TrancheIndex identifies one of the three fixed risk slices of a bond.
type TrancheIndex uint8

const (
	TrancheSenior    TrancheIndex = 0
	TrancheMezzanine TrancheIndex = 1
	TrancheJunior    TrancheIndex = 2

	// TrancheCount is fixed at issuance; there is no dynamic tranching.
	TrancheCount = 3
)

// AllocationPct is the fixed share of a bond's total value each tranche may
// absorb, in whole percent. The remaining 0% slack from integer division is
// never investable.
var AllocationPct = [TrancheCount]int64{50, 33, 17}

// Valid reports whether the index names one of the three tranches.
func (t TrancheIndex) Valid() bool {
	return t < TrancheCount
}

// String returns the conventional tranche name.
func (t TrancheIndex) String() string {
	switch t {
	case TrancheSenior:
		return "senior"
	case TrancheMezzanine:
		return "mezzanine"
	case TrancheJunior:
		return "junior"
	default:
		return "unknown"
	}
}

// CollateralRef points at the external asset claim backing a bond, typically
// an ERC-721 contract plus token id. The ledger treats it as opaque; only the
// chain verifier interprets it.
type CollateralRef struct {
	Contract string
	TokenID  *big.Int
}

// Tranche is one risk slice of a bond. All amounts are integer base units
// (wei-scale); the ledger never uses floating point for money.
type Tranche struct {
	Index            TrancheIndex
	Allocation       *big.Int
	APYBps           uint64
	TotalInvested    *big.Int
	TotalRedeemed    *big.Int
	AccumulatedYield *big.Int
}

// Bond is a tiered, collateral-backed bond. The three tranches are created
// with the bond and live as long as it does.
type Bond struct {
	ID             uint64
	Issuer         string
	Collateral     CollateralRef
	TotalValue     *big.Int
	MaturityAt     time.Time
	Status         BondStatus
	CarriedSurplus *big.Int
	IssuedAt       time.Time
	SettledAt      *time.Time
	Tranches       [TrancheCount]Tranche
}

// Settled reports whether the bond has left the active state.
func (b *Bond) Settled() bool {
	return b.Status != BondActive
}

// Clone returns a deep copy so callers cannot mutate ledger-owned state.
func (b *Bond) Clone() *Bond {
	out := &Bond{
		ID:         b.ID,
		Issuer:     b.Issuer,
		Collateral: CollateralRef{Contract: b.Collateral.Contract, TokenID: cloneInt(b.Collateral.TokenID)},
		TotalValue: cloneInt(b.TotalValue),
		MaturityAt: b.MaturityAt,
		Status:     b.Status,
		IssuedAt:   b.IssuedAt,
	}
	out.CarriedSurplus = cloneInt(b.CarriedSurplus)
	if b.SettledAt != nil {
		t := *b.SettledAt
		out.SettledAt = &t
	}
	for i := range b.Tranches {
		out.Tranches[i] = b.Tranches[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the tranche.
func (t Tranche) Clone() Tranche {
	return Tranche{
		Index:            t.Index,
		Allocation:       cloneInt(t.Allocation),
		APYBps:           t.APYBps,
		TotalInvested:    cloneInt(t.TotalInvested),
		TotalRedeemed:    cloneInt(t.TotalRedeemed),
		AccumulatedYield: cloneInt(t.AccumulatedYield),
	}
}

func cloneInt(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}
