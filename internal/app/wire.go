package app

import (
	"context"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/crossarb/internal/blob/s3"
	"github.com/alanyoungcy/crossarb/internal/bus/memory"
	busredis "github.com/alanyoungcy/crossarb/internal/bus/redis"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/server/handler"
	"github.com/alanyoungcy/crossarb/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Bus     domain.Bus
	Quotes  domain.QuoteView
	Toggles domain.ToggleStore

	TradeStore domain.TradeStore // nil when the mode runs without Postgres
	BlobWriter domain.BlobWriter // nil when the archiver is disabled

	// Pingers feed the health endpoint; either may be nil.
	BusPinger   handler.Pinger
	StorePinger handler.Pinger
}

// needsPostgres returns true for modes that persist trades.
func needsPostgres(mode string) bool {
	switch mode {
	case "assemble", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	toggleDefaults := domain.Toggles{
		AutoTrade: cfg.Executor.AutoTrade,
		Mode:      cfg.Executor.TradeMode,
	}
	mode := strings.ToLower(cfg.Mode)

	// --- Paper mode: the whole pipeline on the in-memory bus ---
	if mode == "paper" {
		mem := memory.New(toggleDefaults)
		deps.Bus = mem
		deps.Quotes = mem
		deps.Toggles = mem
		logger.Info("wired in-memory bus for paper mode")
		return deps, cleanup, nil
	}

	// --- Redis: bus, quote view, toggle store ---
	redisClient, err := busredis.New(ctx, busredis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	toggleStore := busredis.NewToggleStore(redisClient, toggleDefaults)
	if err := toggleStore.SeedDefaults(ctx); err != nil {
		logger.Warn("toggle seed failed", slog.String("error", err.Error()))
	}

	deps.Bus = busredis.NewStreamBus(redisClient)
	deps.Quotes = busredis.NewQuoteView(redisClient)
	deps.Toggles = toggleStore
	deps.BusPinger = redisClient

	// --- PostgreSQL (only for modes that persist trades) ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, err
			}
		}

		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
		deps.StorePinger = pgClient
	}

	// --- S3 (only when the archiver is on) ---
	if cfg.Archiver.Enabled && mode == "full" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	return deps, cleanup, nil
}
