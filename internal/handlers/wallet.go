package handlers

import (
	"net/http"
	"strings"

	"wallet/internal/auth"
	"wallet/internal/ledger"
	"wallet/internal/middleware"
	"wallet/internal/services"
)

type depositRequest struct {
	Amount string `json:"amount" validate:"required,amount"`
	Note   string `json:"note" validate:"max=500"`
}

type submitRequest struct {
	Kind      string `json:"kind" validate:"required,request_kind"`
	Amount    string `json:"amount" validate:"required,amount"`
	Note      string `json:"note" validate:"max=500"`
	RequestID string `json:"request_id" validate:"max=128"`
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	account, err := h.ledger.GetOrCreateAccount(r.Context(), identity)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	opts := services.ListOptions{
		Status:     ledger.Status(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
		Limit:      parseInt(query.Get("limit"), services.DefaultListLimit),
		Descending: !strings.EqualFold(query.Get("order"), "asc"),
	}
	entries, err := h.ledger.ListForAccount(r.Context(), identity.UserID, opts)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	entry, err := h.ledger.Deposit(r.Context(), identity, amountOf(req.Amount), strings.TrimSpace(req.Note))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

// SubmitRequest files a deposit or withdrawal for admin review. Replaying a
// request id answers 200 with the original entry.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	entry, created, err := h.ledger.Submit(r.Context(), identity, services.SubmitInput{
		Kind:      ledger.Kind(strings.ToUpper(req.Kind)),
		Amount:    amountOf(req.Amount),
		Note:      strings.TrimSpace(req.Note),
		RequestID: req.RequestID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	respondJSON(w, status, entry)
}

// WSBalances subscribes the caller to balance pushes. Browsers cannot set
// headers on websocket upgrades, so the token may come as ?token=.
func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		respondError(w, http.StatusNotFound, "not_found")
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	h.ws.Serve(w, r, claims.Identity().UserID)
}
