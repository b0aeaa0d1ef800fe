package memory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowton/bondledger/internal/domain"
)

func testBond(id uint64, status domain.BondStatus) *domain.Bond {
	b := &domain.Bond{
		ID:             id,
		Issuer:         "0xIssuer",
		Collateral:     domain.CollateralRef{Contract: "0xNFT", TokenID: big.NewInt(1)},
		TotalValue:     big.NewInt(1000),
		MaturityAt:     time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:         status,
		CarriedSurplus: big.NewInt(0),
		IssuedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for i := range b.Tranches {
		b.Tranches[i] = domain.Tranche{
			Index:            domain.TrancheIndex(i),
			Allocation:       big.NewInt(1000 * domain.AllocationPct[i] / 100),
			TotalInvested:    big.NewInt(0),
			TotalRedeemed:    big.NewInt(0),
			AccumulatedYield: big.NewInt(0),
		}
	}
	return b
}

func TestBondStore(t *testing.T) {
	ctx := context.Background()
	s := NewBondStore()

	_, err := s.GetByID(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Upsert(ctx, testBond(1, domain.BondActive)))
	require.NoError(t, s.Upsert(ctx, testBond(3, domain.BondMatured)))
	require.NoError(t, s.Upsert(ctx, testBond(2, domain.BondActive)))

	got, err := s.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.BondMatured, got.Status)

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].ID)
	assert.Equal(t, uint64(3), all[2].ID)

	active, err := s.ListByStatus(ctx, domain.BondActive, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	page, err := s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(2), page[0].ID)

	max, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), max)

	// Upserting the same id replaces the snapshot.
	updated := testBond(1, domain.BondDefaulted)
	require.NoError(t, s.Upsert(ctx, updated))
	got, err = s.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.BondDefaulted, got.Status)
}

func TestBondStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewBondStore()
	require.NoError(t, s.Upsert(ctx, testBond(1, domain.BondActive)))

	got, err := s.GetByID(ctx, 1)
	require.NoError(t, err)
	got.TotalValue.SetInt64(-1)
	got.Status = domain.BondDefaulted

	fresh, err := s.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), fresh.TotalValue.Int64())
	assert.Equal(t, domain.BondActive, fresh.Status)
}

func TestInvestmentStore(t *testing.T) {
	ctx := context.Background()
	s := NewInvestmentStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mk := func(bondID uint64, tranche domain.TrancheIndex, investor string, amount int64) *domain.Investment {
		return &domain.Investment{
			BondID: bondID, Tranche: tranche, Investor: investor,
			Amount: big.NewInt(amount), InvestedAt: now, UpdatedAt: now,
		}
	}

	require.NoError(t, s.Upsert(ctx, mk(1, domain.TrancheSenior, "alice", 10)))
	require.NoError(t, s.Upsert(ctx, mk(1, domain.TrancheJunior, "alice", 5)))
	require.NoError(t, s.Upsert(ctx, mk(1, domain.TrancheSenior, "bob", 20)))
	require.NoError(t, s.Upsert(ctx, mk(2, domain.TrancheSenior, "alice", 7)))

	got, err := s.Get(ctx, domain.InvestmentKey{BondID: 1, Tranche: domain.TrancheSenior, Investor: "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Amount.Int64())

	_, err = s.Get(ctx, domain.InvestmentKey{BondID: 9, Tranche: domain.TrancheSenior, Investor: "bob"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	byBond, err := s.ListByBond(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byBond, 3)
	assert.Equal(t, "alice", byBond[0].Investor)
	assert.Equal(t, domain.TrancheJunior, byBond[2].Tranche)

	byInvestor, err := s.ListByInvestor(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, byInvestor, 3)
	assert.Equal(t, uint64(2), byInvestor[2].BondID)
}

func TestEventStore(t *testing.T) {
	ctx := context.Background()
	s := NewEventStore()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	evs := []domain.Event{
		domain.NewEvent(domain.EventBondIssued, 1, at, nil),
		domain.NewEvent(domain.EventInvestment, 1, at.Add(time.Hour), nil),
		domain.NewEvent(domain.EventBondIssued, 2, at.Add(2*time.Hour), nil),
	}
	require.NoError(t, s.Append(ctx, evs))

	byBond, err := s.ListByBond(ctx, 1, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, byBond, 2)
	assert.Equal(t, domain.EventBondIssued, byBond[0].Kind)
	assert.Equal(t, domain.EventInvestment, byBond[1].Kind)

	since := at.Add(30 * time.Minute)
	windowed, err := s.ListByBond(ctx, 1, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, domain.EventInvestment, windowed[0].Kind)

	recent, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(2), recent[0].BondID)
}
