package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowton/bondledger/internal/access"
	"github.com/knowton/bondledger/internal/domain"
	"github.com/knowton/bondledger/internal/ledger"
	"github.com/knowton/bondledger/internal/store/memory"
)

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	streams  []string
	fail     bool
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("bus down")
	}
	b.channels = append(b.channels, channel)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("bus down")
	}
	b.streams = append(b.streams, stream)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, errors.New("not implemented")
}

type fakeAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *fakeAlerter) Notify(_ context.Context, _, title, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
	return nil
}

type fakeVerifier struct {
	err   error
	calls int
}

func (v *fakeVerifier) VerifyCollateral(context.Context, domain.CollateralRef, string) error {
	v.calls++
	return v.err
}

type fakeLocks struct {
	mu       sync.Mutex
	acquired []string
	held     map[string]bool
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type serviceFixture struct {
	svc         *BondService
	bonds       *memory.BondStore
	investments *memory.InvestmentStore
	events      *memory.EventStore
	bus         *fakeBus
	alerter     *fakeAlerter
	verifier    *fakeVerifier
	locks       *fakeLocks
	clock       *time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &t0

	ldg := ledger.New(
		access.NewStatic([]string{"issuer-1"}, []string{"collector"}, nil),
		ledger.WithClock(func() time.Time { return *clock }),
	)

	f := &serviceFixture{
		bonds:       memory.NewBondStore(),
		investments: memory.NewInvestmentStore(),
		events:      memory.NewEventStore(),
		bus:         &fakeBus{},
		alerter:     &fakeAlerter{},
		verifier:    &fakeVerifier{},
		locks:       &fakeLocks{},
		clock:       clock,
	}
	f.svc = NewBondService(ldg, f.bonds, f.investments, f.events, f.bus, f.locks, testLogger()).
		WithCollateralVerifier(f.verifier).
		WithAlerter(f.alerter)
	return f
}

func (f *serviceFixture) issueParams() ledger.IssueParams {
	return ledger.IssueParams{
		Collateral: domain.CollateralRef{Contract: "0xCollateral", TokenID: big.NewInt(1)},
		TotalValue: big.NewInt(1_000_000),
		MaturityAt: f.clock.Add(365 * 24 * time.Hour),
		APYBps:     [domain.TrancheCount]uint64{500, 800, 1200},
	}
}

func TestIssueBondPersistsAndFansOut(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bond, err := f.svc.IssueBond(ctx, "issuer-1", f.issueParams())
	require.NoError(t, err)
	assert.Equal(t, 1, f.verifier.calls)

	stored, err := f.bonds.GetByID(ctx, bond.ID)
	require.NoError(t, err)
	assert.Equal(t, "500000", stored.Tranches[domain.TrancheSenior].Allocation.String())

	events, err := f.events.ListByBond(ctx, bond.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBondIssued, events[0].Kind)

	assert.Equal(t, []string{string(domain.EventBondIssued)}, f.bus.channels)
	assert.Equal(t, []string{eventStream}, f.bus.streams)
	require.Len(t, f.alerter.titles, 1)
	assert.Contains(t, f.alerter.titles[0], "issued")
}

func TestIssueBondRejectedCollateral(t *testing.T) {
	f := newServiceFixture(t)
	f.verifier.err = domain.ErrInvalidParameters

	_, err := f.svc.IssueBond(context.Background(), "issuer-1", f.issueParams())
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
	assert.Empty(t, f.bus.channels)
}

func TestInvestLocksAndPersists(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bond, err := f.svc.IssueBond(ctx, "issuer-1", f.issueParams())
	require.NoError(t, err)

	inv, err := f.svc.Invest(ctx, "alice", bond.ID, domain.TrancheSenior, big.NewInt(100_000))
	require.NoError(t, err)
	assert.Equal(t, "100000", inv.Amount.String())
	assert.Contains(t, f.locks.acquired, "bond:1")

	stored, err := f.investments.Get(ctx, domain.InvestmentKey{
		BondID: bond.ID, Tranche: domain.TrancheSenior, Investor: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "100000", stored.Amount.String())

	storedBond, err := f.bonds.GetByID(ctx, bond.ID)
	require.NoError(t, err)
	assert.Equal(t, "100000", storedBond.Tranches[domain.TrancheSenior].TotalInvested.String())
}

func TestInvestLockContention(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bond, err := f.svc.IssueBond(ctx, "issuer-1", f.issueParams())
	require.NoError(t, err)

	f.locks.held = map[string]bool{"bond:1": true}
	_, err = f.svc.Invest(ctx, "alice", bond.ID, domain.TrancheSenior, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestFullLifecycleThroughService(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bond, err := f.svc.IssueBond(ctx, "issuer-1", f.issueParams())
	require.NoError(t, err)

	_, err = f.svc.Invest(ctx, "alice", bond.ID, domain.TrancheSenior, big.NewInt(500_000))
	require.NoError(t, err)

	*f.clock = f.clock.Add(365 * 24 * time.Hour)

	_, err = f.svc.DistributeRevenue(ctx, "collector", bond.ID, big.NewInt(50_000))
	require.NoError(t, err)

	settled, err := f.svc.MarkMatured(ctx, "issuer-1", bond.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BondMatured, settled.Status)

	inv, err := f.svc.Redeem(ctx, "alice", bond.ID, domain.TrancheSenior)
	require.NoError(t, err)
	assert.True(t, inv.Redeemed)

	events, err := f.svc.ListEvents(ctx, bond.ID, domain.ListOpts{})
	require.NoError(t, err)
	kinds := make([]domain.EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []domain.EventKind{
		domain.EventBondIssued,
		domain.EventInvestment,
		domain.EventYieldDistributed,
		domain.EventBondMatured,
		domain.EventRedeemed,
	}, kinds)

	// floor(500000*500/10000) = 25000 yield over one year.
	payload, ok := events[len(events)-1].Payload.(domain.RedeemedPayload)
	require.True(t, ok)
	assert.Equal(t, "525000", payload.Payout)

	storedBond, err := f.bonds.GetByID(ctx, bond.ID)
	require.NoError(t, err)
	assert.Equal(t, "525000", storedBond.Tranches[domain.TrancheSenior].TotalRedeemed.String())
}

func TestBusFailureDoesNotFailOperation(t *testing.T) {
	f := newServiceFixture(t)
	f.bus.fail = true

	bond, err := f.svc.IssueBond(context.Background(), "issuer-1", f.issueParams())
	require.NoError(t, err)
	assert.NotNil(t, bond)
}

func TestRehydrateRestoresLedger(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bond, err := f.svc.IssueBond(ctx, "issuer-1", f.issueParams())
	require.NoError(t, err)
	_, err = f.svc.Invest(ctx, "alice", bond.ID, domain.TrancheSenior, big.NewInt(100_000))
	require.NoError(t, err)

	// A fresh service over the same stores picks up where the first left off.
	ldg := ledger.New(
		access.NewStatic([]string{"issuer-1"}, nil, nil),
		ledger.WithClock(func() time.Time { return *f.clock }),
	)
	svc := NewBondService(ldg, f.bonds, f.investments, f.events, f.bus, f.locks, testLogger())
	require.NoError(t, svc.Rehydrate(ctx))

	got, err := svc.GetBond(ctx, bond.ID)
	require.NoError(t, err)
	assert.Equal(t, "100000", got.Tranches[domain.TrancheSenior].TotalInvested.String())

	// Bond IDs continue past the restored maximum.
	next, err := svc.IssueBond(ctx, "issuer-1", f.issueParams())
	require.NoError(t, err)
	assert.Equal(t, bond.ID+1, next.ID)
}

func TestQueriesPassThrough(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bond, err := f.svc.IssueBond(ctx, "issuer-1", f.issueParams())
	require.NoError(t, err)
	_, err = f.svc.Invest(ctx, "alice", bond.ID, domain.TrancheJunior, big.NewInt(10_000))
	require.NoError(t, err)

	assert.Len(t, f.svc.ListBonds(ctx, ""), 1)
	assert.Len(t, f.svc.ListBonds(ctx, domain.BondActive), 1)
	assert.Empty(t, f.svc.ListBonds(ctx, domain.BondMatured))

	tranche, err := f.svc.GetTranche(ctx, bond.ID, domain.TrancheJunior)
	require.NoError(t, err)
	assert.Equal(t, "10000", tranche.TotalInvested.String())

	invs := f.svc.ListInvestmentsByInvestor(ctx, "alice")
	require.Len(t, invs, 1)
	assert.Equal(t, domain.TrancheJunior, invs[0].Tranche)

	*f.clock = f.clock.Add(365 * 24 * time.Hour)
	expected, claimable, err := f.svc.CurrentYield(ctx, bond.ID, domain.TrancheJunior, "alice")
	require.NoError(t, err)
	// floor(10000*1200/10000) = 1200 annual on the junior position.
	assert.Equal(t, "1200", expected.String())
	assert.Equal(t, "0", claimable.String())
}
