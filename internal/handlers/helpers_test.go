package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wallet/internal/auth"
	"wallet/internal/config"
	"wallet/internal/promo"
	"wallet/internal/services"
	"wallet/internal/store/memstore"
	"wallet/internal/websocket"
)

const testSecret = "secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Config{
		AppEnv:          "test",
		Port:            "0",
		JWTSecret:       testSecret,
		AllowedOrigins:  "*",
		AdminIdentities: "admin-1",
		DefaultCurrency: "IDR",
	}
	mem := memstore.New()
	authz := auth.NewAuthorizer(cfg.Admins())
	hub := websocket.NewHub()
	ledgerService := services.NewLedgerService(mem, mem.Accounts(), mem.Ledger(), mem.Users(), cfg.DefaultCurrency, services.WithHub(hub))
	handler := New(cfg, zerolog.Nop(),
		ledgerService,
		services.NewApprovalService(ledgerService, authz, mem.Audit()),
		services.NewPromoService(ledgerService, mem.Promos(), mem.Audit(), authz, promo.DefaultTable()),
		services.NewGroupService(ledgerService, mem.Groups(), mem.Audit(), authz),
		authz,
		websocket.NewServer(hub, cfg.Origins()),
	)
	return handler.Routes()
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, auth.Identity{UserID: userID, Email: userID + "@example.com"}, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return token
}

func do(t *testing.T, router http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeObject(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var payload []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}
