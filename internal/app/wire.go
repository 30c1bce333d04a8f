package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/djinnmarket/internal/blob/s3"
	"github.com/alanyoungcy/djinnmarket/internal/cache/redis"
	"github.com/alanyoungcy/djinnmarket/internal/config"
	"github.com/alanyoungcy/djinnmarket/internal/domain"
	"github.com/alanyoungcy/djinnmarket/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the modes need. Fields for
// backends a mode does not use are left nil.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client

	// Stores
	MarketStore   domain.MarketStore
	Ledger        domain.Ledger
	PositionStore domain.PositionStore
	TradeStore    *postgres.TradeStore
	AuditStore    domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader *s3blob.Reader
	Archiver   *s3blob.Archiver
}

// needsRedis reports whether mode serves trades.
func needsRedis(mode string) bool {
	return mode == "server"
}

// needsS3 reports whether mode archives to object storage.
func needsS3(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Mode)
	return mode == "archive" || (mode == "server" && cfg.Archive.Enabled)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations && mode != "migrate" {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.Ledger = postgres.NewLedger(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Redis = redisClient

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Trading.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, cfg.Trading.LockWait.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Trading.StreamMaxLen)
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
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
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.TradeStore, deps.AuditStore, logger)
	}

	return deps, cleanup, nil
}
