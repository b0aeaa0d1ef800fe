// Package ledger implements the tiered bond ledger: bond lifecycle,
// per-tranche allocation accounting, time-proportional yield, waterfall
// revenue distribution and maturity-gated redemption.
//
// The ledger exclusively owns all monetary balances. Every mutating
// operation either fully commits or returns an error with state untouched,
// and returns the events it produced; the caller forwards those to the
// notification collaborators. All amounts are integer base units held in
// *big.Int, never floating point.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/knowton/bondledger/internal/domain"
)

// Ledger is the in-memory authoritative state of all bonds and investor
// positions. It is safe for concurrent use; each mutating operation is
// atomic with respect to the whole ledger.
type Ledger struct {
	mu sync.RWMutex

	access domain.AccessController
	now    func() time.Time

	bonds       map[uint64]*domain.Bond
	investments map[domain.InvestmentKey]*domain.Investment
	nextID      uint64
}

// Option customizes a Ledger at construction time.
type Option func(*Ledger)

// WithClock overrides the time source, used by tests for deterministic
// accrual windows.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger guarded by the given access controller.
func New(access domain.AccessController, opts ...Option) *Ledger {
	l := &Ledger{
		access:      access,
		now:         time.Now,
		bonds:       make(map[uint64]*domain.Bond),
		investments: make(map[domain.InvestmentKey]*domain.Investment),
		nextID:      1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore seeds the ledger from persisted snapshots, typically at startup.
// It replaces any existing state and advances the id sequence past the
// highest restored bond id.
func (l *Ledger) Restore(bonds []*domain.Bond, investments []*domain.Investment) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bonds = make(map[uint64]*domain.Bond, len(bonds))
	l.investments = make(map[domain.InvestmentKey]*domain.Investment, len(investments))
	l.nextID = 1
	for _, b := range bonds {
		l.bonds[b.ID] = b.Clone()
		if b.ID >= l.nextID {
			l.nextID = b.ID + 1
		}
	}
	for _, inv := range investments {
		l.investments[inv.Key()] = inv.Clone()
	}
}

// checkPaused short-circuits every mutating operation while the emergency
// halt is active. Called before any state is read or written.
func (l *Ledger) checkPaused(ctx context.Context) error {
	paused, err := l.access.IsPaused(ctx)
	if err != nil {
		return fmt.Errorf("pause check: %w", err)
	}
	if paused {
		return domain.ErrPaused
	}
	return nil
}

// authorize verifies the caller holds the given role.
func (l *Ledger) authorize(ctx context.Context, caller string, role domain.Role) error {
	ok, err := l.access.IsAuthorized(ctx, caller, role)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: caller %s lacks role %s", domain.ErrUnauthorized, caller, role)
	}
	return nil
}

// accrualEnd clamps the yield accrual window for a bond. Accrual never runs
// past maturity, and a defaulted bond stops accruing at the moment of
// default.
func accrualEnd(b *domain.Bond, now time.Time) time.Time {
	end := now
	if b.Status == domain.BondDefaulted && b.SettledAt != nil && b.SettledAt.Before(end) {
		end = *b.SettledAt
	}
	if b.MaturityAt.Before(end) {
		end = b.MaturityAt
	}
	if end.Before(b.IssuedAt) {
		end = b.IssuedAt
	}
	return end
}
