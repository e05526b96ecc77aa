package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wallet/internal/auth"
	"wallet/internal/services"
)

type adjustRequest struct {
	NewBalance string `json:"new_balance" validate:"required"`
	Note       string `json:"note" validate:"required,max=500"`
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), services.DefaultListLimit)
	entries, err := h.approvals.ListPending(r.Context(), identity, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) ApproveEntry(w http.ResponseWriter, r *http.Request) {
	h.resolveEntry(w, r, h.approvals.Approve)
}

func (h *Handler) RejectEntry(w http.ResponseWriter, r *http.Request) {
	h.resolveEntry(w, r, h.approvals.Reject)
}

func (h *Handler) resolveEntry(w http.ResponseWriter, r *http.Request, resolve func(ctx context.Context, actor auth.Identity, entryID, note string) (services.ApprovalResult, error)) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	entryID, ok := idParam(w, r, "entryID")
	if !ok {
		return
	}
	var req noteRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	result, err := resolve(r.Context(), identity, entryID, req.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	balance, err := parseBalance(req.NewBalance)
	if err != nil {
		respondInvalid(w, map[string]string{"new_balance": "amount"})
		return
	}
	entry, err := h.approvals.Adjust(r.Context(), identity, chi.URLParam(r, "userID"), balance, req.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), services.DefaultListLimit)
	page := parseInt(query.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	rows, err := h.approvals.ListAudit(r.Context(), identity, limit, (page-1)*limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	rows, err := h.approvals.Reconcile(r.Context(), identity)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	balanced := true
	for _, row := range rows {
		if row.Difference != 0 || !row.Chain.Valid {
			balanced = false
			break
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"balanced": balanced, "accounts": rows})
}
