package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
	"github.com/alanyoungcy/djinnmarket/internal/market"
	"github.com/alanyoungcy/djinnmarket/internal/service"
)

// TradeService is what the trade endpoints need from the service layer.
type TradeService interface {
	QuoteBuy(ctx context.Context, req service.BuyRequest) (market.TradeResult, error)
	QuoteSell(ctx context.Context, req service.SellRequest) (market.TradeResult, error)
	Buy(ctx context.Context, req service.BuyRequest) (service.Execution, error)
	Sell(ctx context.Context, req service.SellRequest) (service.Execution, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error)
	Positions(ctx context.Context, wallet string) ([]domain.Position, error)
}

// TradeHandler serves quote, buy, sell, trade history and position
// endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger.With(slog.String("handler", "trade"))}
}

// Quote prices a trade without executing it.
// GET /api/markets/{id}/quote?outcome=yes&side=buy&amount=1.5
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, err := market.ParseSide(q.Get("side"))
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err))
		return
	}
	amount, err := parseAmount(q.Get("amount"), "amount")
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}

	var res market.TradeResult
	if side == market.SideBuy {
		res, err = h.trades.QuoteBuy(r.Context(), service.BuyRequest{
			MarketID: r.PathValue("id"), OutcomeID: q.Get("outcome"), Amount: amount,
		})
	} else {
		res, err = h.trades.QuoteSell(r.Context(), service.SellRequest{
			MarketID: r.PathValue("id"), OutcomeID: q.Get("outcome"), Shares: amount,
		})
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Buy executes a buy.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req service.BuyRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeServiceError(w, r, h.logger, "buy", err)
		return
	}
	req.MarketID = r.PathValue("id")
	exec, err := h.trades.Buy(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// Sell executes a sell.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	var req service.SellRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}
	req.MarketID = r.PathValue("id")
	exec, err := h.trades.Sell(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListTrades returns a market's trades newest first.
// GET /api/markets/{id}/trades?limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	trades, err := h.trades.ListByMarket(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades, Limit: opts.Limit, Offset: opts.Offset})
}

// ListWalletTrades returns a wallet's trades across markets newest first.
// GET /api/trades?wallet=...&limit=50&offset=0
func (h *TradeHandler) ListWalletTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	trades, err := h.trades.ListByWallet(r.Context(), r.URL.Query().Get("wallet"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list wallet trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades, Limit: opts.Limit, Offset: opts.Offset})
}
