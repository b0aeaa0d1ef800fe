package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowton/bondledger/internal/domain"
)

type fakeAccess struct {
	paused bool
	roles  map[string]map[domain.Role]bool
}

func (f *fakeAccess) IsAuthorized(_ context.Context, caller string, role domain.Role) (bool, error) {
	return f.roles[caller][role], nil
}

func (f *fakeAccess) IsPaused(_ context.Context) (bool, error) {
	return f.paused, nil
}

func newFakeAccess() *fakeAccess {
	return &fakeAccess{roles: map[string]map[domain.Role]bool{
		"issuer-1":  {domain.RoleIssuer: true, domain.RoleRevenue: true},
		"collector": {domain.RoleRevenue: true},
	}}
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *fakeAccess, *time.Time) {
	t.Helper()
	now := t0
	access := newFakeAccess()
	l := New(access, WithClock(func() time.Time { return now }))
	return l, access, &now
}

func eth(n int64) *big.Int {
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return wei.Mul(wei, big.NewInt(n))
}

func issueTestBond(t *testing.T, l *Ledger, totalValue *big.Int, apys [3]uint64) *domain.Bond {
	t.Helper()
	bond, ev, err := l.IssueBond(context.Background(), "issuer-1", IssueParams{
		Collateral: domain.CollateralRef{Contract: "0xCollateral", TokenID: big.NewInt(7)},
		TotalValue: totalValue,
		MaturityAt: t0.Add(365 * 24 * time.Hour),
		APYBps:     apys,
	})
	require.NoError(t, err)
	require.Equal(t, domain.EventBondIssued, ev.Kind)
	return bond
}

func TestIssueBondAllocations(t *testing.T) {
	l, _, _ := newTestLedger(t)
	bond := issueTestBond(t, l, big.NewInt(100), [3]uint64{500, 1000, 2000})

	assert.Equal(t, uint64(1), bond.ID)
	assert.Equal(t, domain.BondActive, bond.Status)
	assert.Equal(t, int64(50), bond.Tranches[domain.TrancheSenior].Allocation.Int64())
	assert.Equal(t, int64(33), bond.Tranches[domain.TrancheMezzanine].Allocation.Int64())
	assert.Equal(t, int64(17), bond.Tranches[domain.TrancheJunior].Allocation.Int64())

	sum := big.NewInt(0)
	for _, tr := range bond.Tranches {
		sum.Add(sum, tr.Allocation)
		assert.Zero(t, tr.TotalInvested.Sign())
		assert.Zero(t, tr.TotalRedeemed.Sign())
		assert.Zero(t, tr.AccumulatedYield.Sign())
	}
	assert.LessOrEqual(t, sum.Cmp(bond.TotalValue), 0)
}

func TestIssueBondRoundingSlackUnallocated(t *testing.T) {
	l, _, _ := newTestLedger(t)
	bond := issueTestBond(t, l, big.NewInt(101), [3]uint64{0, 0, 0})

	// 101 splits as 50/33/17 with 1 unit of slack never investable.
	assert.Equal(t, int64(50), bond.Tranches[0].Allocation.Int64())
	assert.Equal(t, int64(33), bond.Tranches[1].Allocation.Int64())
	assert.Equal(t, int64(17), bond.Tranches[2].Allocation.Int64())
}

func TestIssueBondValidation(t *testing.T) {
	l, access, _ := newTestLedger(t)
	ctx := context.Background()
	valid := IssueParams{
		Collateral: domain.CollateralRef{Contract: "0xCollateral"},
		TotalValue: big.NewInt(100),
		MaturityAt: t0.Add(time.Hour),
	}

	_, _, err := l.IssueBond(ctx, "stranger", valid)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	p := valid
	p.TotalValue = big.NewInt(0)
	_, _, err = l.IssueBond(ctx, "issuer-1", p)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	p = valid
	p.MaturityAt = t0.Add(-time.Hour)
	_, _, err = l.IssueBond(ctx, "issuer-1", p)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	p = valid
	p.Collateral.Contract = ""
	_, _, err = l.IssueBond(ctx, "issuer-1", p)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	access.paused = true
	_, _, err = l.IssueBond(ctx, "issuer-1", valid)
	assert.ErrorIs(t, err, domain.ErrPaused)
}

func TestInvestAccumulatesAndCapsAtAllocation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, big.NewInt(100), [3]uint64{500, 1000, 2000})

	inv, ev, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, domain.EventInvestment, ev.Kind)
	assert.Equal(t, int64(10), inv.Amount.Int64())

	inv, _, err = l.Invest(ctx, "alice", 1, domain.TrancheSenior, big.NewInt(15))
	require.NoError(t, err)
	assert.Equal(t, int64(25), inv.Amount.Int64())

	tr, err := l.GetTranche(1, domain.TrancheSenior)
	require.NoError(t, err)
	assert.Equal(t, int64(25), tr.TotalInvested.Int64())

	// 26 more would exceed the 50 ceiling.
	_, _, err = l.Invest(ctx, "bob", 1, domain.TrancheSenior, big.NewInt(26))
	assert.ErrorIs(t, err, domain.ErrExceedsAllocation)

	// Exactly filling the remainder is fine.
	_, _, err = l.Invest(ctx, "bob", 1, domain.TrancheSenior, big.NewInt(25))
	require.NoError(t, err)
	tr, err = l.GetTranche(1, domain.TrancheSenior)
	require.NoError(t, err)
	assert.Zero(t, tr.TotalInvested.Cmp(tr.Allocation))
}

func TestInvestExceedsAllocationScenario(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, big.NewInt(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, big.NewInt(10))
	require.NoError(t, err)
	_, _, err = l.Invest(ctx, "bob", 1, domain.TrancheSenior, big.NewInt(51))
	assert.ErrorIs(t, err, domain.ErrExceedsAllocation)

	// The failed call must not have credited anything.
	tr, err := l.GetTranche(1, domain.TrancheSenior)
	require.NoError(t, err)
	assert.Equal(t, int64(10), tr.TotalInvested.Int64())
	_, err = l.GetInvestment(1, domain.TrancheSenior, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvestRejectsBadInputs(t *testing.T) {
	l, access, _ := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, big.NewInt(100), [3]uint64{0, 0, 0})

	_, _, err := l.Invest(ctx, "alice", 99, domain.TrancheSenior, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = l.Invest(ctx, "alice", 1, domain.TrancheIndex(3), big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, _, err = l.Invest(ctx, "alice", 1, domain.TrancheSenior, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	access.paused = true
	_, _, err = l.Invest(ctx, "alice", 1, domain.TrancheSenior, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrPaused)
}

func TestInvestRejectsSettledBond(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, big.NewInt(100), [3]uint64{0, 0, 0})

	*now = t0.Add(366 * 24 * time.Hour)
	_, _, err := l.MarkMatured(ctx, "issuer-1", 1)
	require.NoError(t, err)

	_, _, err = l.Invest(ctx, "alice", 1, domain.TrancheSenior, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExpectedYieldExactness(t *testing.T) {
	// 5% APY over exactly one year yields exactly 5% of principal.
	got, err := ExpectedYield(eth(100), 500, t0, t0.Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, got.Cmp(eth(5)))
}

func TestExpectedYieldPartialPeriodAndEdges(t *testing.T) {
	// Half a year at 10% on 100e18 is 5e18.
	got, err := ExpectedYield(eth(100), 1000, t0, t0.Add(365*12*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, got.Cmp(eth(5)))

	got, err = ExpectedYield(eth(100), 500, t0, t0)
	require.NoError(t, err)
	assert.Zero(t, got.Sign())

	got, err = ExpectedYield(eth(100), 0, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, got.Sign())

	_, err = ExpectedYield(eth(100), 500, t0, t0.Add(-time.Second))
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)
}

func TestDistributeRevenueSeniorStarvesLowerTranches(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(10))
	require.NoError(t, err)
	_, _, err = l.Invest(ctx, "bob", 1, domain.TrancheMezzanine, eth(10))
	require.NoError(t, err)

	// After a full year: senior need 0.5e18, mezzanine need 1e18.
	*now = t0.Add(365 * 24 * time.Hour)

	// Less than the senior need: all of it goes to senior, nothing trickles.
	amount := new(big.Int).Quo(eth(1), big.NewInt(10)) // 0.1e18
	bond, ev, err := l.DistributeRevenue(ctx, "collector", 1, amount)
	require.NoError(t, err)
	assert.Equal(t, domain.EventYieldDistributed, ev.Kind)
	assert.Zero(t, bond.Tranches[domain.TrancheSenior].AccumulatedYield.Cmp(amount))
	assert.Zero(t, bond.Tranches[domain.TrancheMezzanine].AccumulatedYield.Sign())
	assert.Zero(t, bond.Tranches[domain.TrancheJunior].AccumulatedYield.Sign())
	assert.Zero(t, bond.CarriedSurplus.Sign())
}

func TestDistributeRevenueSpilloverAndSurplus(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(10))
	require.NoError(t, err)
	_, _, err = l.Invest(ctx, "bob", 1, domain.TrancheMezzanine, eth(10))
	require.NoError(t, err)

	// Halfway through the year: senior need 0.25e18, mezzanine 0.5e18,
	// junior 0. Distribute 1e18: both needs fully met, 0.25e18 carried.
	*now = t0.Add(365 * 12 * time.Hour)
	bond, _, err := l.DistributeRevenue(ctx, "collector", 1, eth(1))
	require.NoError(t, err)
	quarter := new(big.Int).Quo(eth(1), big.NewInt(4))
	half := new(big.Int).Quo(eth(1), big.NewInt(2))
	assert.Zero(t, bond.Tranches[domain.TrancheSenior].AccumulatedYield.Cmp(quarter))
	assert.Zero(t, bond.Tranches[domain.TrancheMezzanine].AccumulatedYield.Cmp(half))
	assert.Zero(t, bond.Tranches[domain.TrancheJunior].AccumulatedYield.Sign())
	assert.Zero(t, bond.CarriedSurplus.Cmp(quarter))

	// At maturity the needs have grown by another half year; the carried
	// surplus is re-offered together with the new revenue, senior first.
	*now = t0.Add(365 * 24 * time.Hour)
	bond, _, err = l.DistributeRevenue(ctx, "collector", 1, quarter)
	require.NoError(t, err)
	assert.Zero(t, bond.Tranches[domain.TrancheSenior].AccumulatedYield.Cmp(half))
	assert.Zero(t, bond.Tranches[domain.TrancheMezzanine].AccumulatedYield.Cmp(new(big.Int).Add(half, quarter)))
	assert.Zero(t, bond.CarriedSurplus.Sign())
}

func TestDistributeRevenueAuthAndState(t *testing.T) {
	l, access, _ := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.DistributeRevenue(ctx, "stranger", 1, eth(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = l.DistributeRevenue(ctx, "collector", 1, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, _, err = l.DistributeRevenue(ctx, "collector", 99, eth(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = l.MarkDefaulted(ctx, "issuer-1", 1)
	require.NoError(t, err)
	_, _, err = l.DistributeRevenue(ctx, "collector", 1, eth(1))
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	access.paused = true
	_, _, err = l.DistributeRevenue(ctx, "collector", 1, eth(1))
	assert.ErrorIs(t, err, domain.ErrPaused)
}

func TestMarkMaturedGate(t *testing.T) {
	l, access, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.MarkMatured(ctx, "issuer-1", 1)
	assert.ErrorIs(t, err, domain.ErrNotYetMatured)

	_, _, err = l.MarkMatured(ctx, "stranger", 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	access.paused = true
	_, _, err = l.MarkMatured(ctx, "issuer-1", 1)
	assert.ErrorIs(t, err, domain.ErrPaused)
	access.paused = false

	*now = t0.Add(365 * 24 * time.Hour)
	bond, ev, err := l.MarkMatured(ctx, "issuer-1", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.BondMatured, bond.Status)
	assert.Equal(t, domain.EventBondMatured, ev.Kind)
	require.NotNil(t, bond.SettledAt)

	// Settling is one-way.
	_, _, err = l.MarkMatured(ctx, "issuer-1", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, _, err = l.MarkDefaulted(ctx, "issuer-1", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestMarkDefaultedPreMaturity(t *testing.T) {
	l, access, _ := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	access.paused = true
	_, _, err := l.MarkDefaulted(ctx, "issuer-1", 1)
	assert.ErrorIs(t, err, domain.ErrPaused)
	access.paused = false

	bond, ev, err := l.MarkDefaulted(ctx, "issuer-1", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.BondDefaulted, bond.Status)
	assert.Equal(t, domain.EventBondDefaulted, ev.Kind)
}

func TestRedeemMaturedPaysPrincipalPlusProRataYield(t *testing.T) {
	l, access, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(10))
	require.NoError(t, err)
	_, _, err = l.Invest(ctx, "bob", 1, domain.TrancheSenior, eth(30))
	require.NoError(t, err)

	// Redeeming an active bond is gated.
	_, _, err = l.Redeem(ctx, "alice", 1, domain.TrancheSenior)
	assert.ErrorIs(t, err, domain.ErrNotYetMatured)

	*now = t0.Add(365 * 24 * time.Hour)
	// Senior need over the year on 40e18 at 5% is 2e18; cover it fully.
	_, _, err = l.DistributeRevenue(ctx, "collector", 1, eth(2))
	require.NoError(t, err)
	_, _, err = l.MarkMatured(ctx, "issuer-1", 1)
	require.NoError(t, err)

	access.paused = true
	_, _, err = l.Redeem(ctx, "alice", 1, domain.TrancheSenior)
	assert.ErrorIs(t, err, domain.ErrPaused)
	access.paused = false

	// Alice holds 10 of 40 invested, so 1/4 of the 2e18 yield.
	inv, ev, err := l.Redeem(ctx, "alice", 1, domain.TrancheSenior)
	require.NoError(t, err)
	assert.True(t, inv.Redeemed)
	require.NotNil(t, inv.RedeemedAt)
	payload, ok := ev.Payload.(domain.RedeemedPayload)
	require.True(t, ok)
	half := new(big.Int).Quo(eth(1), big.NewInt(2))
	assert.Equal(t, half.String(), payload.Yield)
	assert.Equal(t, new(big.Int).Add(eth(10), half).String(), payload.Payout)

	// Exactly once.
	_, _, err = l.Redeem(ctx, "alice", 1, domain.TrancheSenior)
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)

	// Bob's later redemption still gets his full 3/4 share.
	_, ev, err = l.Redeem(ctx, "bob", 1, domain.TrancheSenior)
	require.NoError(t, err)
	payload = ev.Payload.(domain.RedeemedPayload)
	assert.Equal(t, new(big.Int).Add(eth(30), new(big.Int).Sub(eth(2), half)).String(), payload.Payout)

	tr, err := l.GetTranche(1, domain.TrancheSenior)
	require.NoError(t, err)
	assert.Zero(t, tr.TotalRedeemed.Cmp(eth(42)))
}

func TestRedeemDefaultedCapsRecoveryAtPrincipal(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(10))
	require.NoError(t, err)

	*now = t0.Add(365 * 12 * time.Hour)
	quarter := new(big.Int).Quo(eth(1), big.NewInt(4))
	_, _, err = l.DistributeRevenue(ctx, "collector", 1, quarter)
	require.NoError(t, err)
	_, _, err = l.MarkDefaulted(ctx, "issuer-1", 1)
	require.NoError(t, err)

	// Recovery is the yield share only, principal is lost.
	_, ev, err := l.Redeem(ctx, "alice", 1, domain.TrancheSenior)
	require.NoError(t, err)
	payload := ev.Payload.(domain.RedeemedPayload)
	assert.Equal(t, quarter.String(), payload.Payout)

	_, _, err = l.Redeem(ctx, "alice", 1, domain.TrancheSenior)
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)
}

func TestRedeemWithoutInvestment(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	*now = t0.Add(365 * 24 * time.Hour)
	_, _, err := l.MarkMatured(ctx, "issuer-1", 1)
	require.NoError(t, err)

	_, _, err = l.Redeem(ctx, "nobody", 1, domain.TrancheSenior)
	assert.ErrorIs(t, err, domain.ErrNoInvestment)
}

func TestDefaultStopsAccrual(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(10))
	require.NoError(t, err)

	// Default halfway through the year; the outstanding need freezes at
	// 0.25e18 even though the wall clock keeps moving.
	*now = t0.Add(365 * 12 * time.Hour)
	_, _, err = l.MarkDefaulted(ctx, "issuer-1", 1)
	require.NoError(t, err)

	*now = t0.Add(3 * 365 * 24 * time.Hour)
	bond, err := l.GetBond(1)
	require.NoError(t, err)
	quarter := new(big.Int).Quo(eth(1), big.NewInt(4))
	need := outstandingNeed(&bond.Tranches[domain.TrancheSenior], bond.IssuedAt, accrualEnd(bond, *now))
	assert.Zero(t, need.Cmp(quarter))
}

func TestAccrualStopsAtMaturity(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(10))
	require.NoError(t, err)

	// Two years on, the need is still only one year's worth.
	*now = t0.Add(2 * 365 * 24 * time.Hour)
	bond, err := l.GetBond(1)
	require.NoError(t, err)
	half := new(big.Int).Quo(eth(1), big.NewInt(2))
	need := outstandingNeed(&bond.Tranches[domain.TrancheSenior], bond.IssuedAt, accrualEnd(bond, *now))
	assert.Zero(t, need.Cmp(half))
}

func TestCurrentYield(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(10))
	require.NoError(t, err)

	*now = t0.Add(365 * 24 * time.Hour)
	half := new(big.Int).Quo(eth(1), big.NewInt(2))
	_, _, err = l.DistributeRevenue(ctx, "collector", 1, half)
	require.NoError(t, err)

	expected, claimable, err := l.CurrentYield(1, domain.TrancheSenior, "alice")
	require.NoError(t, err)
	assert.Zero(t, expected.Cmp(half))
	assert.Zero(t, claimable.Cmp(half))

	_, _, err = l.CurrentYield(1, domain.TrancheSenior, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueries(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})
	issueTestBond(t, l, eth(200), [3]uint64{300, 600, 900})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(1))
	require.NoError(t, err)
	_, _, err = l.Invest(ctx, "alice", 2, domain.TrancheJunior, eth(2))
	require.NoError(t, err)
	_, _, err = l.Invest(ctx, "bob", 1, domain.TrancheMezzanine, eth(3))
	require.NoError(t, err)

	bonds := l.ListBonds()
	require.Len(t, bonds, 2)
	assert.Equal(t, uint64(1), bonds[0].ID)
	assert.Equal(t, uint64(2), bonds[1].ID)

	active := l.ListBondsByStatus(domain.BondActive)
	assert.Len(t, active, 2)
	assert.Empty(t, l.ListBondsByStatus(domain.BondDefaulted))

	byBond := l.ListInvestmentsByBond(1)
	require.Len(t, byBond, 2)
	assert.Equal(t, "alice", byBond[0].Investor)
	assert.Equal(t, "bob", byBond[1].Investor)

	byInvestor := l.ListInvestmentsByInvestor("alice")
	require.Len(t, byInvestor, 2)
	assert.Equal(t, uint64(1), byInvestor[0].BondID)
	assert.Equal(t, uint64(2), byInvestor[1].BondID)

	_, err = l.GetBond(99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueriesReturnCopies(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, big.NewInt(100), [3]uint64{500, 1000, 2000})
	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, big.NewInt(10))
	require.NoError(t, err)

	bond, err := l.GetBond(1)
	require.NoError(t, err)
	bond.Tranches[0].TotalInvested.SetInt64(999999)
	bond.Status = domain.BondDefaulted

	fresh, err := l.GetBond(1)
	require.NoError(t, err)
	assert.Equal(t, domain.BondActive, fresh.Status)
	assert.Equal(t, int64(10), fresh.Tranches[0].TotalInvested.Int64())
}

func TestRestoreRehydratesState(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, eth(100), [3]uint64{500, 1000, 2000})
	issueTestBond(t, l, eth(50), [3]uint64{100, 200, 300})
	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, eth(10))
	require.NoError(t, err)

	bonds := l.ListBonds()
	invs := l.ListInvestmentsByBond(1)

	restored := New(newFakeAccess(), WithClock(func() time.Time { return *now }))
	restored.Restore(bonds, invs)

	bond, err := restored.GetBond(1)
	require.NoError(t, err)
	assert.Zero(t, bond.Tranches[domain.TrancheSenior].TotalInvested.Cmp(eth(10)))

	// The id sequence continues past the restored bonds.
	next := issueTestBond(t, restored, eth(10), [3]uint64{0, 0, 0})
	assert.Equal(t, uint64(3), next.ID)
}

func TestFullLifecycleScenario(t *testing.T) {
	l, _, now := newTestLedger(t)
	ctx := context.Background()
	issueTestBond(t, l, big.NewInt(100), [3]uint64{500, 1000, 2000})

	_, _, err := l.Invest(ctx, "alice", 1, domain.TrancheSenior, big.NewInt(10))
	require.NoError(t, err)
	_, _, err = l.Invest(ctx, "bob", 1, domain.TrancheSenior, big.NewInt(51))
	assert.ErrorIs(t, err, domain.ErrExceedsAllocation)

	*now = t0.Add(365 * 24 * time.Hour)
	_, _, err = l.DistributeRevenue(ctx, "collector", 1, big.NewInt(100))
	require.NoError(t, err)
	_, _, err = l.MarkMatured(ctx, "issuer-1", 1)
	require.NoError(t, err)

	// floor(10*500/10000) is 0 at this tiny scale, so payout is principal.
	_, ev, err := l.Redeem(ctx, "alice", 1, domain.TrancheSenior)
	require.NoError(t, err)
	payload := ev.Payload.(domain.RedeemedPayload)
	assert.Equal(t, "10", payload.Payout)

	_, _, err = l.Redeem(ctx, "alice", 1, domain.TrancheSenior)
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)
}
