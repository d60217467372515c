package handler

import (
	"net/http"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/journal"
)

// AuditHandler serves the audit journal.
type AuditHandler struct {
	journal *journal.Journal
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(j *journal.Journal) *AuditHandler {
	return &AuditHandler{journal: j}
}

type auditListResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// List handles GET /audit, newest first. Optional filters: stock_code and
// type; limit defaults to 100 and is capped at 1000.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 100)
	if !ok {
		return
	}
	if limit < 1 || limit > 1000 {
		WriteError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 1000")
		return
	}

	entries, err := h.journal.List(journal.Filter{
		StockCode: r.URL.Query().Get("stock_code"),
		Type:      r.URL.Query().Get("type"),
	}, limit)
	if err != nil {
		WriteDomainError(w, r, domain.SystemError(err))
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	WriteJSON(w, http.StatusOK, auditListResponse{Entries: entries})
}
