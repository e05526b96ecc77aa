package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"wallet/internal/config"
	"wallet/internal/logging"
	"wallet/internal/middleware"
	"wallet/internal/websocket"
)

type Handler struct {
	cfg       config.Config
	logger    zerolog.Logger
	ledger    LedgerService
	approvals ApprovalService
	promos    PromoService
	groups    GroupService
	authz     middleware.AdminChecker
	ws        *websocket.Server
}

func New(cfg config.Config, logger zerolog.Logger, ledger LedgerService, approvals ApprovalService, promos PromoService, groups GroupService, authz middleware.AdminChecker, ws *websocket.Server) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    logger,
		ledger:    ledger,
		approvals: approvals,
		promos:    promos,
		groups:    groups,
		authz:     authz,
		ws:        ws,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(logging.RequestLogger(h.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !h.cfg.AnyOrigin(),
		MaxAge:           300,
	}))

	authenticated := middleware.Auth(h.cfg.JWTSecret)
	router.Route("/wallet", func(r chi.Router) {
		r.Use(authenticated)
		r.Get("/", h.GetWallet)
		r.Get("/entries", h.ListEntries)
		r.Post("/deposits", h.Deposit)
		r.Post("/requests", h.SubmitRequest)
	})
	router.Route("/promos", func(r chi.Router) {
		r.Use(authenticated)
		r.Get("/", h.ListPromos)
		r.Post("/", h.LockPromo)
		r.Get("/tiers", h.ListTiers)
	})
	router.Route("/groups", func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/", h.CreatePool)
		r.Get("/{poolID}", h.GetPool)
		r.Post("/{poolID}/join", h.JoinPool)
		r.Post("/{poolID}/rounds", h.OpenRound)
		r.Post("/{poolID}/rounds/{roundID}/contribute", h.Contribute)
		r.Post("/{poolID}/rounds/{roundID}/payout", h.PayoutRound)
	})
	router.Route("/admin", func(r chi.Router) {
		r.Use(authenticated)
		r.Use(middleware.RequireAdmin(h.authz))
		r.Get("/pending", h.ListPending)
		r.Post("/entries/{entryID}/approve", h.ApproveEntry)
		r.Post("/entries/{entryID}/reject", h.RejectEntry)
		r.Post("/accounts/{userID}/adjust", h.AdjustBalance)
		r.Post("/promos/{promoID}/payout", h.PromoPayout)
		r.Post("/promos/{promoID}/resolve", h.PromoResolve)
		r.Get("/audit", h.ListAuditLogs)
		r.Get("/reconcile", h.Reconcile)
	})
	router.Get("/ws/balances", h.WSBalances)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
