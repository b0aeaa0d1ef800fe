package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/knowton/bondledger/internal/domain"
	"github.com/knowton/bondledger/internal/ledger"
	"github.com/knowton/bondledger/internal/notify"
)

// MaturityWatcher polls active bonds and signals when one passes its
// maturity date. It only announces: the status transition stays an
// explicit issuer action, so an operator or upstream process reacts to
// the signal and calls MarkMatured.
//
// Announcement dedup is process-local. Deploy exactly one watcher replica
// (the watch and full modes each start one); running several emits one
// signal per replica.
type MaturityWatcher struct {
	ledger   *ledger.Ledger
	bus      domain.EventBus
	alerter  Alerter
	pollDur  time.Duration
	now      func() time.Time
	notified map[uint64]bool
	logger   *slog.Logger
}

// NewMaturityWatcher creates a MaturityWatcher. pollInterval is how often
// active bonds are checked against their maturity date.
func NewMaturityWatcher(
	ldg *ledger.Ledger,
	bus domain.EventBus,
	alerter Alerter,
	pollInterval time.Duration,
	logger *slog.Logger,
) *MaturityWatcher {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &MaturityWatcher{
		ledger:   ldg,
		bus:      bus,
		alerter:  alerter,
		pollDur:  pollInterval,
		now:      func() time.Time { return time.Now().UTC() },
		notified: make(map[uint64]bool),
		logger:   logger.With(slog.String("component", "maturity_watcher")),
	}
}

// Run polls until the context is cancelled. Call in a goroutine.
func (w *MaturityWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check scans active bonds once and emits a maturity-due signal for each
// bond past its maturity date that has not been announced yet.
func (w *MaturityWatcher) check(ctx context.Context) {
	now := w.now()
	for _, bond := range w.ledger.ListBondsByStatus(domain.BondActive) {
		if now.Before(bond.MaturityAt) || w.notified[bond.ID] {
			continue
		}

		ev := domain.NewEvent(domain.EventMaturityDue, bond.ID, now, domain.StatusPayload{
			Status:     bond.Status,
			MaturityAt: bond.MaturityAt,
		})
		if w.bus != nil {
			payload, err := ev.Marshal()
			if err == nil {
				if err := w.bus.Publish(ctx, string(ev.Kind), payload); err != nil {
					w.logger.WarnContext(ctx, "maturity signal publish failed",
						slog.Uint64("bond_id", bond.ID),
						slog.String("error", err.Error()),
					)
					continue
				}
			}
		}
		if w.alerter != nil {
			title, message := notify.FormatEvent(ev)
			if err := w.alerter.Notify(ctx, string(ev.Kind), title, message); err != nil {
				w.logger.WarnContext(ctx, "maturity notification failed",
					slog.Uint64("bond_id", bond.ID),
					slog.String("error", err.Error()),
				)
			}
		}

		w.notified[bond.ID] = true
		w.logger.InfoContext(ctx, "bond maturity due",
			slog.Uint64("bond_id", bond.ID),
			slog.Time("maturity_at", bond.MaturityAt),
		)
	}
}
