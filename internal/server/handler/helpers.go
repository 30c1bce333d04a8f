// Package handler implements the HTTP endpoints of the market API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
	"github.com/alanyoungcy/djinnmarket/internal/domain"
	"github.com/alanyoungcy/djinnmarket/internal/market"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON error envelope. Code is a stable machine-readable
// kind.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v and writes it with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// errorKinds maps sentinels to an HTTP status and code, in match order.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{curve.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{market.ErrSlippageExceeded, http.StatusBadRequest, "slippage_exceeded"},
	{domain.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrLockHeld, http.StatusConflict, "outcome_busy"},
	{curve.ErrSupplyExhausted, http.StatusUnprocessableEntity, "supply_exhausted"},
	{curve.ErrInsufficientSupply, http.StatusUnprocessableEntity, "insufficient_supply"},
	{domain.ErrInsufficientShares, http.StatusUnprocessableEntity, "insufficient_shares"},
	{market.ErrInsufficientReserve, http.StatusUnprocessableEntity, "insufficient_reserve"},
	{market.ErrMarketFrozen, http.StatusUnprocessableEntity, "market_frozen"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{curve.ErrSolverNonConvergence, http.StatusInternalServerError, "solver_non_convergence"},
	{curve.ErrInvalidConfig, http.StatusInternalServerError, "invalid_config"},
}

// classify returns the HTTP status and code for err.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeServiceError maps err to a response. Server-side failures are logged
// at error level and their detail is not sent to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), op+" failed",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, domain.ErrInvalidRequest)
	}
	return nil
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

func parseAmount(raw, name string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required: %w", name, domain.ErrInvalidRequest)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number: %w", name, raw, domain.ErrInvalidRequest)
	}
	return v, nil
}
