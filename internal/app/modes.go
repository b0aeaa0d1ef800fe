package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/knowton/bondledger/internal/blob/s3"
	"github.com/knowton/bondledger/internal/domain"
	"github.com/knowton/bondledger/internal/server"
	"github.com/knowton/bondledger/internal/server/handler"
	"github.com/knowton/bondledger/internal/server/ws"
	"github.com/knowton/bondledger/internal/service"
)

// ServerMode runs the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// WatchMode runs only the maturity watcher: it announces bonds whose maturity
// timestamp has passed without serving the API.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWatcher(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode periodically sweeps settled bonds into cold storage and, when
// configured, anchors each archive digest on chain.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP API, the maturity watcher, and the archive sweeper
// together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// startServer adds the HTTP server and WebSocket hub goroutines to the group.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled by configuration")
		return
	}

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Bonds:  handler.NewBondHandler(deps.Service, a.logger),
		Status: handler.NewStatusHandler(deps.Service, deps.Access, deps.Pause, a.cfg.Mode, a.logger),
	}, hub, deps.Limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startWatcher adds the maturity watcher goroutine to the group.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var alerter service.Alerter
	if deps.Notifier != nil {
		alerter = deps.Notifier
	}
	watcher := service.NewMaturityWatcher(
		deps.Ledger, deps.Bus, alerter, a.cfg.Ledger.MaturityPoll.Duration, a.logger)
	g.Go(func() error { return watcher.Run(ctx) })
}

// startArchiver adds the periodic archive sweep goroutine to the group. It is
// a no-op when archival is disabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.archiveSweep(ctx, deps)
			}
		}
	})
}

// archiveSweep archives settled bonds that have no archive object yet. When
// anchoring is enabled each bond is archived individually so its digest can
// be committed on chain.
func (a *App) archiveSweep(ctx context.Context, deps *Dependencies) {
	if deps.Anchor == nil {
		count, err := deps.Archiver.ArchiveSettled(ctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
		}
		if count > 0 {
			a.logger.InfoContext(ctx, "archived settled bonds", slog.Int64("count", count))
		}
		return
	}

	for _, status := range []domain.BondStatus{domain.BondMatured, domain.BondDefaulted} {
		bonds, err := deps.Bonds.ListByStatus(ctx, status, domain.ListOpts{})
		if err != nil {
			a.logger.ErrorContext(ctx, "archive sweep query failed",
				slog.String("status", string(status)), slog.String("error", err.Error()))
			continue
		}
		for _, bond := range bonds {
			exists, err := deps.BlobReader.Exists(ctx, s3blob.ArchivePath(bond.ID))
			if err != nil {
				a.logger.ErrorContext(ctx, "archive existence check failed",
					slog.Uint64("bond_id", bond.ID), slog.String("error", err.Error()))
				continue
			}
			if exists {
				continue
			}
			path, digest, err := deps.Archiver.ArchiveBond(ctx, bond.ID)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive bond failed",
					slog.Uint64("bond_id", bond.ID), slog.String("error", err.Error()))
				continue
			}
			txHash, err := deps.Anchor.AnchorDigest(ctx, bond.ID, digest)
			if err != nil {
				a.logger.ErrorContext(ctx, "anchor digest failed",
					slog.Uint64("bond_id", bond.ID), slog.String("error", err.Error()))
				continue
			}
			a.logger.InfoContext(ctx, "bond archived and anchored",
				slog.Uint64("bond_id", bond.ID),
				slog.String("path", path),
				slog.String("tx_hash", txHash),
			)
		}
	}
}
