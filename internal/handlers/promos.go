package handlers

import "net/http"

type lockPromoRequest struct {
	Amount string `json:"amount" validate:"required,amount"`
}

type promoPayoutRequest struct {
	Amount string `json:"amount" validate:"required,amount"`
	Note   string `json:"note" validate:"max=500"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) ListPromos(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	promos, err := h.promos.ListPromos(r.Context(), identity.UserID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, promos)
}

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.promos.Tiers())
}

func (h *Handler) LockPromo(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req lockPromoRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	created, err := h.promos.LockForPromo(r.Context(), identity, amountOf(req.Amount))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handler) PromoPayout(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	promoID, ok := idParam(w, r, "promoID")
	if !ok {
		return
	}
	var req promoPayoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	updated, err := h.promos.PayoutIncrement(r.Context(), identity, promoID, amountOf(req.Amount), req.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) PromoResolve(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}
	promoID, ok := idParam(w, r, "promoID")
	if !ok {
		return
	}
	var req noteRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	updated, err := h.promos.ResolveBonus(r.Context(), identity, promoID, req.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}
