package handlers

import (
	"net/http"
	"strings"
	"time"
)

type createPoolRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type openRoundRequest struct {
	ContributionAmount string    `json:"contribution_amount" validate:"required,amount"`
	DueAt              time.Time `json:"due_at" validate:"required"`
}

type payoutRequest struct {
	WinnerAccountID string  `json:"winner_account_id" validate:"required,uuid"`
	Override        *string `json:"override" validate:"omitempty,amount"`
}

func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	pool, err := h.groups.CreatePool(r.Context(), identity, strings.TrimSpace(req.Name))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, pool)
}

func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID, ok := idParam(w, r, "poolID")
	if !ok {
		return
	}
	pool, err := h.groups.GetPool(r.Context(), poolID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pool)
}

func (h *Handler) JoinPool(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	poolID, ok := idParam(w, r, "poolID")
	if !ok {
		return
	}
	member, err := h.groups.Join(r.Context(), identity, poolID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, member)
}

func (h *Handler) OpenRound(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	poolID, ok := idParam(w, r, "poolID")
	if !ok {
		return
	}
	var req openRoundRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	round, err := h.groups.OpenRound(r.Context(), identity, poolID, amountOf(req.ContributionAmount), req.DueAt)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, round)
}

func (h *Handler) Contribute(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	poolID, roundID, ok := roundParams(w, r)
	if !ok {
		return
	}
	contribution, err := h.groups.Contribute(r.Context(), identity, poolID, roundID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, contribution)
}

func (h *Handler) PayoutRound(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	poolID, roundID, ok := roundParams(w, r)
	if !ok {
		return
	}
	var req payoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	var override *int64
	if req.Override != nil {
		amount := amountOf(*req.Override)
		override = &amount
	}
	round, err := h.groups.AssignWinnerAndPayout(r.Context(), identity, poolID, roundID, req.WinnerAccountID, override)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, round)
}

func roundParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	poolID, ok := idParam(w, r, "poolID")
	if !ok {
		return "", "", false
	}
	roundID, ok := idParam(w, r, "roundID")
	return poolID, roundID, ok
}
