package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knowton/bondledger/internal/access"
	s3blob "github.com/knowton/bondledger/internal/blob/s3"
	"github.com/knowton/bondledger/internal/cache/redis"
	"github.com/knowton/bondledger/internal/config"
	"github.com/knowton/bondledger/internal/crypto"
	"github.com/knowton/bondledger/internal/domain"
	"github.com/knowton/bondledger/internal/ledger"
	"github.com/knowton/bondledger/internal/notify"
	"github.com/knowton/bondledger/internal/platform/chain"
	"github.com/knowton/bondledger/internal/service"
	"github.com/knowton/bondledger/internal/store/postgres"
)

// Dependencies bundles every constructed subsystem. Optional integrations
// (archiver, verifier, anchor, notifier) are nil when their configuration is
// disabled.
type Dependencies struct {
	Bonds       domain.BondStore
	Investments domain.InvestmentStore
	Events      domain.EventStore

	Bus     domain.EventBus
	Locks   domain.LockManager
	Limiter domain.RateLimiter
	Pause   domain.PauseSwitch
	Access  domain.AccessController

	Ledger  *ledger.Ledger
	Service *service.BondService

	BlobReader domain.BlobReader
	Archiver   *s3blob.EventArchiver
	Anchor     *chain.Anchor
	Notifier   *notify.Notifier
}

// Wire constructs all subsystems required by cfg.Mode and returns them
// together with a cleanup function that releases every acquired resource in
// reverse order of construction.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{}
	var closers []func()

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Postgres backs the ledger snapshots in every mode.
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("app: connect postgres: %w", err))
	}
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("app: run migrations: %w", err))
		}
	}

	deps.Bonds = postgres.NewBondStore(pg.Pool())
	deps.Investments = postgres.NewInvestmentStore(pg.Pool())
	deps.Events = postgres.NewEventStore(pg.Pool())

	// Redis provides the event bus, distributed locks, the pause flag and
	// the request rate limiter.
	rds, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("app: connect redis: %w", err))
	}
	closers = append(closers, func() {
		if err := rds.Close(); err != nil {
			logger.Warn("closing redis client", slog.String("error", err.Error()))
		}
	})

	deps.Bus = redis.NewEventBus(rds)
	deps.Locks = redis.NewLockManager(rds)
	deps.Limiter = redis.NewRateLimiter(rds)
	deps.Pause = redis.NewPauseFlag(rds)

	deps.Notifier = buildNotifier(cfg, logger)

	var verifier *chain.Verifier
	if cfg.Chain.Enabled && cfg.Chain.VerifyCollateral {
		verifier, err = chain.NewVerifier(ctx, chain.VerifierConfig{
			RPCURL:      cfg.Chain.RPCURL,
			CallTimeout: cfg.Chain.CallTimeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("app: connect chain verifier: %w", err))
		}
		closers = append(closers, verifier.Close)
	}
	if cfg.Chain.Enabled && cfg.Archive.Anchor {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("app: load anchor key: %w", err))
		}
		deps.Anchor, err = chain.NewAnchor(ctx, chain.AnchorConfig{
			RPCURL:        cfg.Chain.RPCURL,
			AnchorAddress: cfg.Chain.AnchorAddress,
			ChainID:       cfg.Chain.ChainID,
			CallTimeout:   cfg.Chain.CallTimeout.Duration,
		}, key, logger)
		if err != nil {
			return fail(fmt.Errorf("app: connect chain anchor: %w", err))
		}
		closers = append(closers, deps.Anchor.Close)
	}

	if cfg.Archive.Enabled {
		blob, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect object storage: %w", err))
		}
		closers = append(closers, func() {
			if err := blob.Close(); err != nil {
				logger.Warn("closing blob client", slog.String("error", err.Error()))
			}
		})
		deps.BlobReader = s3blob.NewReader(blob)
		deps.Archiver = s3blob.NewEventArchiver(
			s3blob.NewWriter(blob), deps.BlobReader, deps.Bonds, deps.Events, logger)
	}

	// The in-memory ledger is the authority; the stores exist to rehydrate
	// it on startup.
	ctrl := access.NewStatic(cfg.Ledger.Issuers, cfg.Ledger.RevenueCollectors, deps.Pause)
	deps.Access = ctrl
	deps.Ledger = ledger.New(ctrl)

	deps.Service = service.NewBondService(
		deps.Ledger, deps.Bonds, deps.Investments, deps.Events,
		deps.Bus, deps.Locks, logger,
	).WithLockTTL(cfg.Ledger.LockTTL.Duration)
	if verifier != nil {
		deps.Service = deps.Service.WithCollateralVerifier(verifier)
	}
	if deps.Notifier != nil {
		deps.Service = deps.Service.WithAlerter(deps.Notifier)
	}

	return deps, cleanup, nil
}

// buildNotifier assembles the notification fan-out from whichever channels
// have credentials configured. Returns nil when none do.
func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}
