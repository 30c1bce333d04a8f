package handler

import (
	"net/http"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns a wallet's open positions.
// GET /api/positions?wallet=...
func (h *TradeHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.trades.Positions(r.Context(), r.URL.Query().Get("wallet"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
