package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

// AuditLog is the read side of the audit trail.
type AuditLog interface {
	List(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit trail to operators.
type AuditHandler struct {
	audit  AuditLog
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditLog, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger.With(slog.String("handler", "audit"))}
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListAudit returns audit entries newest first, optionally filtered by event
// prefix.
// GET /api/audit?event=trade.&limit=50&offset=0
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), r.URL.Query().Get("event"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries, Limit: opts.Limit, Offset: opts.Offset})
}
