package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
	"github.com/alanyoungcy/djinnmarket/internal/domain"
	"github.com/alanyoungcy/djinnmarket/internal/market"
	"github.com/alanyoungcy/djinnmarket/internal/server"
	"github.com/alanyoungcy/djinnmarket/internal/server/handler"
	"github.com/alanyoungcy/djinnmarket/internal/server/ws"
	"github.com/alanyoungcy/djinnmarket/internal/service"
)

// ServerMode serves the HTTP API and the WebSocket hub, and runs the trade
// archiver when it is enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	c, err := curve.New(a.cfg.Curve.Build())
	if err != nil {
		return fmt.Errorf("app: build curve: %w", err)
	}
	a.logger.InfoContext(ctx, "curve loaded", slog.String("fingerprint", c.Fingerprint()))

	markets := service.NewMarketService(c, deps.MarketStore, deps.PriceCache, deps.SignalBus, deps.AuditStore, a.logger)
	trades := service.NewTradeService(service.TradeDeps{
		Executor:  market.NewExecutor(c),
		Markets:   deps.MarketStore,
		Ledger:    deps.Ledger,
		Positions: deps.PositionStore,
		Trades:    deps.TradeStore,
		Locks:     deps.LockManager,
		Limiter:   deps.RateLimiter,
		Prices:    deps.PriceCache,
		Bus:       deps.SignalBus,
		Audit:     deps.AuditStore,
	}, service.TradeConfig{
		LockTTL:    a.cfg.Trading.LockTTL.Duration,
		RateLimit:  a.cfg.Trading.RateLimit,
		RateWindow: a.cfg.Trading.RateWindow.Duration,
	}, a.logger)

	checks := map[string]handler.Check{
		"postgres": deps.Postgres.Ping,
		"redis":    deps.Redis.Ping,
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		AdminKey:      a.cfg.Server.AdminKey,
		ReadTimeout:   a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:  a.cfg.Server.WriteTimeout.Duration,
		RequestLimit:  a.cfg.Server.RequestLimit,
		RequestWindow: a.cfg.Server.RequestWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Markets: handler.NewMarketHandler(markets, a.logger),
		Trades:  handler.NewTradeHandler(trades, a.logger),
		Audit:   handler.NewAuditHandler(deps.AuditStore, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver, a.cfg.Archive.Interval.Duration)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// CheckMode validates the curve constants and logs the anchor prices without
// touching any backend.
func (a *App) CheckMode(ctx context.Context) error {
	c, err := curve.New(a.cfg.Curve.Build())
	if err != nil {
		return fmt.Errorf("app: check curve: %w", err)
	}
	for _, anchor := range c.Anchors() {
		a.logger.InfoContext(ctx, "curve anchor",
			slog.String("name", anchor.Name),
			slog.Float64("effective_supply", anchor.EffectiveSupply),
			slog.Float64("real_supply", anchor.RealSupply),
			slog.Float64("price", anchor.Price),
		)
	}
	a.logger.InfoContext(ctx, "configuration ok", slog.String("curve_fingerprint", c.Fingerprint()))
	return nil
}

// MigrateMode applies pending database migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	if err := deps.Postgres.RunMigrations(ctx); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}

// ArchiveMode runs one archive pass, reports what the bucket holds and
// exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if _, err := a.archiveOnce(ctx, deps.Archiver); err != nil {
		return err
	}
	stored, err := deps.Archiver.Stored(ctx)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	var size int64
	for _, b := range stored {
		size += b.Size
	}
	first, last := "", ""
	if len(stored) > 0 {
		first, last = stored[0].Path, stored[len(stored)-1].Path
	}
	a.logger.InfoContext(ctx, "trade archives stored",
		slog.Int("objects", len(stored)),
		slog.Int64("bytes", size),
		slog.String("oldest", first),
		slog.String("newest", last),
	)
	return nil
}

// runArchiver archives once at start and then every interval. Failures are
// logged and retried on the next tick.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.archiveOnce(ctx, archiver); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, archiver domain.Archiver) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	n, err := archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("app: archive trades before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("trades", n),
		slog.Time("cutoff", cutoff),
	)
	return n, nil
}
