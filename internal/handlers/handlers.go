package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wallet/internal/auth"
	"wallet/internal/ledger"
	"wallet/internal/middleware"
	"wallet/internal/money"
	"wallet/internal/validator"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondInvalid(w http.ResponseWriter, details map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_payload", "details": details})
}

var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{ledger.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{ledger.ErrNotPending, http.StatusConflict, "not_pending"},
	{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{ledger.ErrForbidden, http.StatusForbidden, "forbidden"},
	{ledger.ErrAlreadyMember, http.StatusConflict, "already_member"},
	{ledger.ErrAlreadyContributed, http.StatusConflict, "already_contributed"},
	{ledger.ErrRoundClosed, http.StatusConflict, "round_closed"},
	{ledger.ErrPromoClosed, http.StatusConflict, "promo_closed"},
	{ledger.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
	{ledger.ErrBelowMinimum, http.StatusBadRequest, "below_minimum"},
	{ledger.ErrNoMatchingTier, http.StatusBadRequest, "no_matching_tier"},
	{ledger.ErrNoChange, http.StatusBadRequest, "no_change"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrInvalidKind, http.StatusBadRequest, "invalid_kind"},
	{ledger.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
	{ledger.ErrNotMember, http.StatusForbidden, "not_member"},
	{ledger.ErrNoContributions, http.StatusConflict, "no_contributions"},
	{ledger.ErrPayoutExceedsEntitlement, http.StatusConflict, "payout_exceeds_entitlement"},
	{ledger.ErrNotFound, http.StatusNotFound, "not_found"},
	{ledger.ErrStoreConflict, http.StatusServiceUnavailable, "store_conflict"},
}

// respondServiceError maps a domain error kind to its status and code.
// Anything unrecognised is logged and reported as a 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, kind := range errorKinds {
		if errors.Is(err, kind.err) {
			if kind.status == http.StatusServiceUnavailable {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("transaction retries exhausted")
			}
			respondError(w, kind.status, kind.code)
			return
		}
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	respondError(w, http.StatusInternalServerError, "internal_error")
}

// decodeAndValidate reads a JSON body into dst and checks its tags. It
// writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return false
	}
	if err := validator.Struct(dst); err != nil {
		respondInvalid(w, validator.Details(err))
		return false
	}
	return true
}

// decodeOptional is decodeAndValidate for endpoints whose body may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return false
	}
	if err := validator.Struct(dst); err != nil {
		respondInvalid(w, validator.Details(err))
		return false
	}
	return true
}

func identityOrUnauthorized(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return identity, ok
}

// idParam reads a UUID path parameter. A malformed id names no row and is
// answered like an unknown one.
func idParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found")
		return "", false
	}
	return id.String(), true
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// parseBalance accepts zero in addition to what money.ParseAmount accepts.
func parseBalance(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "0" {
		return 0, nil
	}
	return money.ParseAmount(raw)
}

// amountOf converts an amount that already passed the "amount" rule.
func amountOf(raw string) int64 {
	amount, err := money.ParseAmount(raw)
	if err != nil {
		return 0
	}
	return amount
}
