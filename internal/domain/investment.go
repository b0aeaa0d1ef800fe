package domain

import (
	"math/big"
	"time"
)

// InvestmentKey is the flat composite key for an investor's position in one
// tranche of one bond.
type InvestmentKey struct {
	BondID   uint64
	Tranche  TrancheIndex
	Investor string
}

// Investment is an investor's cumulative position in a tranche. Redeemed is a
// terminal one-way flag; once set the position can never pay out again.
type Investment struct {
	BondID     uint64
	Tranche    TrancheIndex
	Investor   string
	Amount     *big.Int
	Redeemed   bool
	InvestedAt time.Time
	UpdatedAt  time.Time
	RedeemedAt *time.Time
}

// Key returns the composite lookup key for this investment.
func (i *Investment) Key() InvestmentKey {
	return InvestmentKey{BondID: i.BondID, Tranche: i.Tranche, Investor: i.Investor}
}

// Clone returns a deep copy of the investment.
func (i *Investment) Clone() *Investment {
	out := &Investment{
		BondID:     i.BondID,
		Tranche:    i.Tranche,
		Investor:   i.Investor,
		Amount:     cloneInt(i.Amount),
		Redeemed:   i.Redeemed,
		InvestedAt: i.InvestedAt,
		UpdatedAt:  i.UpdatedAt,
	}
	if i.RedeemedAt != nil {
		t := *i.RedeemedAt
		out.RedeemedAt = &t
	}
	return out
}
