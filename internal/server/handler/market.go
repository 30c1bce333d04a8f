package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
	"github.com/alanyoungcy/djinnmarket/internal/service"
)

// MarketService is what the market endpoints need from the service layer.
type MarketService interface {
	Create(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Snapshot(ctx context.Context, idOrSlug string) (service.MarketSnapshot, error)
	Freeze(ctx context.Context, id, winningOutcome string) (domain.Market, error)
	Curve() service.CurveInfo
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger.With(slog.String("handler", "market"))}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets newest first.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	markets, err := h.markets.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: opts.Limit, Offset: opts.Offset})
}

// CreateMarket creates a market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMarketRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	m, err := h.markets.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket returns the live snapshot of a market, by ID or slug.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	snap, err := h.markets.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type freezeRequest struct {
	WinningOutcome string `json:"winning_outcome"`
}

// FreezeMarket records the resolver's verdict and stops trading.
// POST /api/markets/{id}/freeze
func (h *MarketHandler) FreezeMarket(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeServiceError(w, r, h.logger, "freeze market", err)
		return
	}
	m, err := h.markets.Freeze(r.Context(), r.PathValue("id"), req.WinningOutcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "freeze market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetCurve returns the curve constants and anchor prices.
// GET /api/curve
func (h *MarketHandler) GetCurve(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.markets.Curve())
}
