// Package service orchestrates the ledger engine with its collaborators:
// distributed locking, durable stores, event fan-out and notifications.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/knowton/bondledger/internal/domain"
	"github.com/knowton/bondledger/internal/ledger"
	"github.com/knowton/bondledger/internal/notify"
)

// eventStream is the durable Redis stream carrying every ledger event.
const eventStream = "ledger:events"

// CollateralVerifier abstracts the on-chain collateral check so the service
// layer never depends on a concrete RPC client.
type CollateralVerifier interface {
	VerifyCollateral(ctx context.Context, ref domain.CollateralRef, issuer string) error
}

// Alerter forwards human-facing notifications for selected event kinds.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// BondService is the mutation boundary of the system. Every write goes
// through the in-memory ledger under a per-bond distributed lock, then the
// resulting snapshots and events are persisted and fanned out. Persistence
// and fan-out failures are logged, never rolled back: the ledger is the
// authority and the stores are write-behind copies.
type BondService struct {
	ledger      *ledger.Ledger
	bonds       domain.BondStore
	investments domain.InvestmentStore
	events      domain.EventStore
	bus         domain.EventBus
	locks       domain.LockManager
	verifier    CollateralVerifier
	alerter     Alerter
	lockTTL     time.Duration
	logger      *slog.Logger
}

// NewBondService creates a BondService with all required dependencies.
func NewBondService(
	ldg *ledger.Ledger,
	bonds domain.BondStore,
	investments domain.InvestmentStore,
	events domain.EventStore,
	bus domain.EventBus,
	locks domain.LockManager,
	logger *slog.Logger,
) *BondService {
	return &BondService{
		ledger:      ldg,
		bonds:       bonds,
		investments: investments,
		events:      events,
		bus:         bus,
		locks:       locks,
		lockTTL:     10 * time.Second,
		logger:      logger.With(slog.String("component", "bond_service")),
	}
}

// WithCollateralVerifier attaches an on-chain collateral check performed at
// issuance. Without it, collateral references are accepted as opaque data.
func (s *BondService) WithCollateralVerifier(v CollateralVerifier) *BondService {
	s.verifier = v
	return s
}

// WithAlerter attaches a notification sink for ledger events.
func (s *BondService) WithAlerter(a Alerter) *BondService {
	s.alerter = a
	return s
}

// WithLockTTL overrides the distributed lock TTL.
func (s *BondService) WithLockTTL(ttl time.Duration) *BondService {
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

// Rehydrate loads all persisted bonds and positions into the ledger,
// typically once at startup before the API is exposed.
func (s *BondService) Rehydrate(ctx context.Context) error {
	bonds, err := s.bonds.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("bond_service: rehydrate bonds: %w", err)
	}
	var investments []*domain.Investment
	for _, bond := range bonds {
		invs, err := s.investments.ListByBond(ctx, bond.ID)
		if err != nil {
			return fmt.Errorf("bond_service: rehydrate investments of bond %d: %w", bond.ID, err)
		}
		investments = append(investments, invs...)
	}
	s.ledger.Restore(bonds, investments)
	s.logger.InfoContext(ctx, "ledger rehydrated",
		slog.Int("bonds", len(bonds)),
		slog.Int("investments", len(investments)),
	)
	return nil
}

// IssueBond verifies the collateral reference, creates the bond and fans
// out the issuance event.
func (s *BondService) IssueBond(ctx context.Context, issuer string, p ledger.IssueParams) (*domain.Bond, error) {
	if s.verifier != nil {
		if err := s.verifier.VerifyCollateral(ctx, p.Collateral, issuer); err != nil {
			return nil, fmt.Errorf("bond_service: verify collateral: %w", err)
		}
	}

	bond, ev, err := s.ledger.IssueBond(ctx, issuer, p)
	if err != nil {
		return nil, err
	}
	s.persistBond(ctx, bond)
	s.emit(ctx, ev)
	s.logger.InfoContext(ctx, "bond issued",
		slog.Uint64("bond_id", bond.ID),
		slog.String("issuer", issuer),
		slog.String("total_value", bond.TotalValue.String()),
	)
	return bond, nil
}

// Invest credits an investor position under the bond's distributed lock.
func (s *BondService) Invest(ctx context.Context, investor string, bondID uint64, tranche domain.TrancheIndex, amount *big.Int) (*domain.Investment, error) {
	unlock, err := s.lockBond(ctx, bondID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inv, ev, err := s.ledger.Invest(ctx, investor, bondID, tranche, amount)
	if err != nil {
		return nil, err
	}
	s.persistInvestment(ctx, inv)
	s.persistBondByID(ctx, bondID)
	s.emit(ctx, ev)
	return inv, nil
}

// DistributeRevenue runs the waterfall under the bond's distributed lock.
func (s *BondService) DistributeRevenue(ctx context.Context, caller string, bondID uint64, amount *big.Int) (*domain.Bond, error) {
	unlock, err := s.lockBond(ctx, bondID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bond, ev, err := s.ledger.DistributeRevenue(ctx, caller, bondID, amount)
	if err != nil {
		return nil, err
	}
	s.persistBond(ctx, bond)
	s.emit(ctx, ev)
	return bond, nil
}

// MarkMatured transitions the bond to matured.
func (s *BondService) MarkMatured(ctx context.Context, caller string, bondID uint64) (*domain.Bond, error) {
	return s.settle(ctx, bondID, func(ctx context.Context) (*domain.Bond, domain.Event, error) {
		return s.ledger.MarkMatured(ctx, caller, bondID)
	})
}

// MarkDefaulted transitions the bond to defaulted.
func (s *BondService) MarkDefaulted(ctx context.Context, caller string, bondID uint64) (*domain.Bond, error) {
	return s.settle(ctx, bondID, func(ctx context.Context) (*domain.Bond, domain.Event, error) {
		return s.ledger.MarkDefaulted(ctx, caller, bondID)
	})
}

func (s *BondService) settle(ctx context.Context, bondID uint64, op func(context.Context) (*domain.Bond, domain.Event, error)) (*domain.Bond, error) {
	unlock, err := s.lockBond(ctx, bondID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bond, ev, err := op(ctx)
	if err != nil {
		return nil, err
	}
	s.persistBond(ctx, bond)
	s.emit(ctx, ev)
	s.logger.InfoContext(ctx, "bond settled",
		slog.Uint64("bond_id", bond.ID),
		slog.String("status", string(bond.Status)),
	)
	return bond, nil
}

// Redeem pays out an investor position under the bond's distributed lock.
func (s *BondService) Redeem(ctx context.Context, investor string, bondID uint64, tranche domain.TrancheIndex) (*domain.Investment, error) {
	unlock, err := s.lockBond(ctx, bondID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inv, ev, err := s.ledger.Redeem(ctx, investor, bondID, tranche)
	if err != nil {
		return nil, err
	}
	s.persistInvestment(ctx, inv)
	s.persistBondByID(ctx, bondID)
	s.emit(ctx, ev)
	return inv, nil
}

// GetBond returns a bond snapshot.
func (s *BondService) GetBond(_ context.Context, bondID uint64) (*domain.Bond, error) {
	return s.ledger.GetBond(bondID)
}

// GetTranche returns one tranche of a bond.
func (s *BondService) GetTranche(_ context.Context, bondID uint64, tranche domain.TrancheIndex) (domain.Tranche, error) {
	return s.ledger.GetTranche(bondID, tranche)
}

// GetInvestment returns an investor's position.
func (s *BondService) GetInvestment(_ context.Context, bondID uint64, tranche domain.TrancheIndex, investor string) (*domain.Investment, error) {
	return s.ledger.GetInvestment(bondID, tranche, investor)
}

// ListBonds returns all bonds, optionally filtered by status.
func (s *BondService) ListBonds(_ context.Context, status domain.BondStatus) []*domain.Bond {
	if status == "" {
		return s.ledger.ListBonds()
	}
	return s.ledger.ListBondsByStatus(status)
}

// ListInvestmentsByBond returns every position in a bond.
func (s *BondService) ListInvestmentsByBond(_ context.Context, bondID uint64) []*domain.Investment {
	return s.ledger.ListInvestmentsByBond(bondID)
}

// ListInvestmentsByInvestor returns every position held by one investor.
func (s *BondService) ListInvestmentsByInvestor(_ context.Context, investor string) []*domain.Investment {
	return s.ledger.ListInvestmentsByInvestor(investor)
}

// CurrentYield reports accrued and claimable yield for a position.
func (s *BondService) CurrentYield(_ context.Context, bondID uint64, tranche domain.TrancheIndex, investor string) (expected, claimable *big.Int, err error) {
	return s.ledger.CurrentYield(bondID, tranche, investor)
}

// ListEvents returns the persisted event history of one bond.
func (s *BondService) ListEvents(ctx context.Context, bondID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	return s.events.ListByBond(ctx, bondID, opts)
}

// ListRecentEvents returns the newest persisted events across all bonds.
func (s *BondService) ListRecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	return s.events.ListRecent(ctx, limit)
}

func (s *BondService) lockBond(ctx context.Context, bondID uint64) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("bond:%d", bondID), s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("bond_service: lock bond %d: %w", bondID, err)
	}
	return unlock, nil
}

func (s *BondService) persistBond(ctx context.Context, bond *domain.Bond) {
	if err := s.bonds.Upsert(ctx, bond); err != nil {
		s.logger.ErrorContext(ctx, "bond snapshot persist failed",
			slog.Uint64("bond_id", bond.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BondService) persistBondByID(ctx context.Context, bondID uint64) {
	bond, err := s.ledger.GetBond(bondID)
	if err != nil {
		return
	}
	s.persistBond(ctx, bond)
}

func (s *BondService) persistInvestment(ctx context.Context, inv *domain.Investment) {
	if err := s.investments.Upsert(ctx, inv); err != nil {
		s.logger.ErrorContext(ctx, "investment snapshot persist failed",
			slog.Uint64("bond_id", inv.BondID),
			slog.String("investor", inv.Investor),
			slog.String("error", err.Error()),
		)
	}
}

// emit appends events to the durable log, fans them out on the bus and
// forwards notifications. Failures here are logged and swallowed: the
// ledger mutation has already committed.
func (s *BondService) emit(ctx context.Context, events ...domain.Event) {
	if err := s.events.Append(ctx, events); err != nil {
		s.logger.ErrorContext(ctx, "event append failed", slog.String("error", err.Error()))
	}

	for _, ev := range events {
		payload, err := ev.Marshal()
		if err != nil {
			s.logger.ErrorContext(ctx, "event marshal failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.bus != nil {
			if err := s.bus.Publish(ctx, string(ev.Kind), payload); err != nil {
				s.logger.WarnContext(ctx, "event publish failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
			if err := s.bus.StreamAppend(ctx, eventStream, payload); err != nil {
				s.logger.WarnContext(ctx, "event stream append failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.alerter != nil {
			title, message := notify.FormatEvent(ev)
			if err := s.alerter.Notify(ctx, string(ev.Kind), title, message); err != nil {
				s.logger.WarnContext(ctx, "event notification failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
