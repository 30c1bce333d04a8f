// Package service serialises trades against the pure pricing core and
// persists, caches and publishes their results.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
	"github.com/alanyoungcy/djinnmarket/internal/domain"
	"github.com/alanyoungcy/djinnmarket/internal/market"
)

// positionSlack tolerates float drift between a stored position and a sell
// request for the whole balance.
const positionSlack = 1e-9

// TradeConfig holds the trading knobs of TradeService.
type TradeConfig struct {
	// LockTTL bounds how long one trade may hold its outcome lock.
	LockTTL time.Duration
	// RateLimit is the number of trades a wallet may place per RateWindow.
	// Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// TradeDeps are the collaborators of TradeService.
type TradeDeps struct {
	Executor  *market.Executor
	Markets   domain.MarketStore
	Ledger    domain.Ledger
	Positions domain.PositionStore
	Trades    domain.TradeStore
	Locks     domain.LockManager
	Limiter   domain.RateLimiter
	Prices    domain.PriceCache
	Bus       domain.SignalBus
	Audit     domain.AuditStore
}

// BuyRequest spends Amount currency on one outcome.
type BuyRequest struct {
	MarketID     string  `json:"market_id"`
	OutcomeID    string  `json:"outcome"`
	Wallet       string  `json:"wallet"`
	Amount       float64 `json:"amount"`
	MinSharesOut float64 `json:"min_shares_out"`
	AllowPartial bool    `json:"allow_partial"`
}

// SellRequest redeems Shares of one outcome.
type SellRequest struct {
	MarketID  string  `json:"market_id"`
	OutcomeID string  `json:"outcome"`
	Wallet    string  `json:"wallet"`
	Shares    float64 `json:"shares"`
	MinPayout float64 `json:"min_payout"`
}

// Execution is a committed trade together with the executor's full result.
type Execution struct {
	Trade  domain.Trade       `json:"trade"`
	Result market.TradeResult `json:"result"`
}

// TradeService executes buys and sells. Trades on one outcome are serialised
// by a distributed lock and by a compare-and-swap on the stored supply.
type TradeService struct {
	exec      *market.Executor
	markets   domain.MarketStore
	ledger    domain.Ledger
	positions domain.PositionStore
	trades    domain.TradeStore
	locks     domain.LockManager
	limiter   domain.RateLimiter
	prices    domain.PriceCache
	bus       domain.SignalBus
	audit     domain.AuditStore
	cfg       TradeConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewTradeService creates a TradeService.
func NewTradeService(deps TradeDeps, cfg TradeConfig, logger *slog.Logger) *TradeService {
	return &TradeService{
		exec:      deps.Executor,
		markets:   deps.Markets,
		ledger:    deps.Ledger,
		positions: deps.Positions,
		trades:    deps.Trades,
		locks:     deps.Locks,
		limiter:   deps.Limiter,
		prices:    deps.Prices,
		bus:       deps.Bus,
		audit:     deps.Audit,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "trade_service")),
		now:       time.Now,
	}
}

// OutcomeLockKey is the lock that serialises trades on one outcome.
func OutcomeLockKey(marketID, outcomeID string) string {
	return "outcome:" + marketID + ":" + outcomeID
}

// QuoteBuy prices a buy against the current state without locking or
// committing anything.
func (s *TradeService) QuoteBuy(ctx context.Context, req BuyRequest) (market.TradeResult, error) {
	o, err := s.loadOutcome(ctx, req.MarketID, req.OutcomeID)
	if err != nil {
		return market.TradeResult{}, err
	}
	res, err := s.exec.QuoteBuy(o, req.Amount, market.BuyOptions{
		MinSharesOut: req.MinSharesOut,
		AllowPartial: req.AllowPartial,
	})
	if err != nil {
		return market.TradeResult{}, fmt.Errorf("trade_service: quote buy: %w", err)
	}
	return res, nil
}

// QuoteSell prices a sell against the current state without locking or
// committing anything.
func (s *TradeService) QuoteSell(ctx context.Context, req SellRequest) (market.TradeResult, error) {
	o, err := s.loadOutcome(ctx, req.MarketID, req.OutcomeID)
	if err != nil {
		return market.TradeResult{}, err
	}
	res, err := s.exec.QuoteSell(o, req.Shares, market.SellOptions{MinPayout: req.MinPayout})
	if err != nil {
		return market.TradeResult{}, fmt.Errorf("trade_service: quote sell: %w", err)
	}
	return res, nil
}

// Buy executes and commits a buy.
func (s *TradeService) Buy(ctx context.Context, req BuyRequest) (Execution, error) {
	if err := s.admit(ctx, req.Wallet); err != nil {
		return Execution{}, err
	}
	return s.locked(ctx, req.MarketID, req.OutcomeID, func(o market.Outcome) (Execution, error) {
		res, err := s.exec.Buy(&o, req.Amount, market.BuyOptions{
			MinSharesOut: req.MinSharesOut,
			AllowPartial: req.AllowPartial,
		})
		if err != nil {
			return Execution{}, fmt.Errorf("trade_service: buy: %w", err)
		}
		return s.commit(ctx, req.MarketID, req.Wallet, o, res, res.Shares)
	})
}

// Sell executes and commits a sell. The wallet must hold the shares.
func (s *TradeService) Sell(ctx context.Context, req SellRequest) (Execution, error) {
	if err := s.admit(ctx, req.Wallet); err != nil {
		return Execution{}, err
	}
	return s.locked(ctx, req.MarketID, req.OutcomeID, func(o market.Outcome) (Execution, error) {
		held, err := s.held(ctx, req.Wallet, req.MarketID, req.OutcomeID)
		if err != nil {
			return Execution{}, err
		}
		if req.Shares > held+positionSlack {
			return Execution{}, fmt.Errorf("trade_service: wallet %s holds %g, sells %g: %w",
				req.Wallet, held, req.Shares, domain.ErrInsufficientShares)
		}
		res, err := s.exec.Sell(&o, math.Min(req.Shares, held), market.SellOptions{MinPayout: req.MinPayout})
		if err != nil {
			return Execution{}, fmt.Errorf("trade_service: sell: %w", err)
		}
		return s.commit(ctx, req.MarketID, req.Wallet, o, res, -res.Shares)
	})
}

// ListByMarket returns a market's trades newest first.
func (s *TradeService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by market %q: %w", marketID, err)
	}
	return trades, nil
}

// ListByWallet returns a wallet's trades across every market, newest first.
func (s *TradeService) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	if strings.TrimSpace(wallet) == "" {
		return nil, fmt.Errorf("trade_service: wallet is required: %w", domain.ErrInvalidRequest)
	}
	trades, err := s.trades.ListByWallet(ctx, wallet, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by wallet %q: %w", wallet, err)
	}
	return trades, nil
}

// Positions returns a wallet's non-empty positions.
func (s *TradeService) Positions(ctx context.Context, wallet string) ([]domain.Position, error) {
	if strings.TrimSpace(wallet) == "" {
		return nil, fmt.Errorf("trade_service: wallet is required: %w", domain.ErrInvalidRequest)
	}
	positions, err := s.positions.ListByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("trade_service: positions %q: %w", wallet, err)
	}
	return positions, nil
}

// admit validates the wallet and applies the per-wallet rate limit. A
// limiter outage is logged and the trade let through.
func (s *TradeService) admit(ctx context.Context, wallet string) error {
	if strings.TrimSpace(wallet) == "" {
		return fmt.Errorf("trade_service: wallet is required: %w", domain.ErrInvalidRequest)
	}
	if s.limiter == nil || s.cfg.RateLimit <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "trade:"+wallet, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return fmt.Errorf("trade_service: wallet %s: %w", wallet, domain.ErrRateLimited)
	}
	return nil
}

// locked runs fn on freshly loaded outcome state while holding the outcome
// lock.
func (s *TradeService) locked(ctx context.Context, marketID, outcomeID string, fn func(market.Outcome) (Execution, error)) (Execution, error) {
	unlock, err := s.locks.Acquire(ctx, OutcomeLockKey(marketID, outcomeID), s.cfg.LockTTL)
	if err != nil {
		return Execution{}, fmt.Errorf("trade_service: lock %s/%s: %w", marketID, outcomeID, err)
	}
	defer unlock()

	o, err := s.loadOutcome(ctx, marketID, outcomeID)
	if err != nil {
		return Execution{}, err
	}
	return fn(o)
}

func (s *TradeService) loadOutcome(ctx context.Context, marketID, outcomeID string) (market.Outcome, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return market.Outcome{}, fmt.Errorf("trade_service: load market: %w", err)
	}
	if want := s.exec.Curve().Fingerprint(); m.CurveFingerprint != want {
		return market.Outcome{}, fmt.Errorf("trade_service: market %s was created under curve %s, running %s: %w",
			marketID, shortFingerprint(m.CurveFingerprint), shortFingerprint(want), curve.ErrInvalidConfig)
	}
	st, ok := m.Outcome(outcomeID)
	if !ok {
		return market.Outcome{}, fmt.Errorf("trade_service: outcome %s/%s: %w", marketID, outcomeID, domain.ErrNotFound)
	}
	return market.Outcome{
		ID:      st.OutcomeID,
		Supply:  st.Supply,
		Reserve: st.Reserve,
		Frozen:  m.Frozen(),
	}, nil
}

func shortFingerprint(f string) string {
	if f == "" {
		return "(none)"
	}
	return f[:min(12, len(f))]
}

func (s *TradeService) held(ctx context.Context, wallet, marketID, outcomeID string) (float64, error) {
	p, err := s.positions.Get(ctx, wallet, marketID, outcomeID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("trade_service: load position: %w", err)
	}
	return p.Shares, nil
}

// commit persists the executor's result. o already carries the new state.
func (s *TradeService) commit(ctx context.Context, marketID, wallet string, o market.Outcome, res market.TradeResult, delta float64) (Execution, error) {
	t := domain.Trade{
		ID:           uuid.NewString(),
		MarketID:     marketID,
		OutcomeID:    o.ID,
		Wallet:       wallet,
		Side:         string(res.Side),
		Shares:       res.Shares,
		Gross:        res.Gross,
		FeeTotal:     res.Fee.Total,
		FeeProtocol:  res.Fee.Protocol,
		FeeCreator:   res.Fee.Creator,
		Net:          res.Net,
		Unspent:      res.Unspent,
		PriceBefore:  res.PriceBefore,
		PriceAfter:   res.PriceAfter,
		SupplyBefore: res.SupplyBefore,
		SupplyAfter:  res.SupplyAfter,
		CreatedAt:    s.now().UTC(),
	}
	err := s.ledger.CommitTrade(ctx, domain.TradeCommit{
		Trade:          t,
		ExpectedSupply: res.SupplyBefore,
		NewSupply:      o.Supply,
		NewReserve:     o.Reserve,
		PositionDelta:  delta,
	})
	if err != nil {
		return Execution{}, fmt.Errorf("trade_service: commit: %w", err)
	}

	s.logger.InfoContext(ctx, "trade committed",
		slog.String("trade_id", t.ID),
		slog.String("market_id", marketID),
		slog.String("outcome_id", o.ID),
		slog.String("side", t.Side),
		slog.Float64("shares", t.Shares),
		slog.Float64("gross", t.Gross),
		slog.Float64("supply_after", t.SupplyAfter),
	)
	s.announce(ctx, t)
	return Execution{Trade: t, Result: res}, nil
}

// announce caches the new spot price and publishes the trade. The trade is
// already durable, so failures are only logged.
func (s *TradeService) announce(ctx context.Context, t domain.Trade) {
	warn := func(step string, err error) {
		s.logger.WarnContext(ctx, "post-commit step failed",
			slog.String("step", step),
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.prices.SetPrice(ctx, domain.PriceKey(t.MarketID, t.OutcomeID), t.PriceAfter, t.CreatedAt); err != nil {
		warn("price_cache", err)
	}

	tradeJSON, err := json.Marshal(t)
	if err != nil {
		warn("marshal_trade", err)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelTrades, tradeJSON); err != nil {
		warn("publish_trade", err)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamTrades, tradeJSON); err != nil {
		warn("stream_trade", err)
	}

	priceJSON, err := json.Marshal(domain.PriceEvent{
		MarketID:  t.MarketID,
		OutcomeID: t.OutcomeID,
		Price:     t.PriceAfter,
		Supply:    t.SupplyAfter,
		Timestamp: t.CreatedAt,
	})
	if err == nil {
		err = s.bus.Publish(ctx, domain.ChannelPrices, priceJSON)
	}
	if err != nil {
		warn("publish_price", err)
	}

	if err := s.audit.Log(ctx, "trade."+t.Side, map[string]any{
		"trade_id":   t.ID,
		"market_id":  t.MarketID,
		"outcome_id": t.OutcomeID,
		"wallet":     t.Wallet,
		"shares":     t.Shares,
		"gross":      t.Gross,
		"fee":        t.FeeTotal,
	}); err != nil {
		warn("audit", err)
	}
}
