package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"wallet/internal/auth"
	"wallet/internal/config"
	"wallet/internal/db"
	"wallet/internal/handlers"
	"wallet/internal/idempotency"
	"wallet/internal/logging"
	"wallet/internal/promo"
	"wallet/internal/services"
	"wallet/internal/store"
	"wallet/internal/store/memstore"
	"wallet/internal/websocket"
)

// backend is the set of stores the services run on, either Postgres or the
// in-process memory store.
type backend struct {
	txRunner db.TxRunner
	accounts services.AccountStore
	entries  services.LedgerStore
	users    services.UserStore
	audit    services.AuditStore
	promos   services.PromoStore
	groups   services.GroupStore
	close    func() error
}

func openBackend(cfg config.Config, logger zerolog.Logger) (backend, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn().Msg("using in-memory store, data is lost on exit")
		mem := memstore.NewWithAttempts(cfg.TxMaxAttempts)
		return backend{
			txRunner: mem,
			accounts: mem.Accounts(),
			entries:  mem.Ledger(),
			users:    mem.Users(),
			audit:    mem.Audit(),
			promos:   mem.Promos(),
			groups:   mem.Groups(),
			close:    func() error { return nil },
		}, nil
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return backend{}, err
	}
	return backend{
		txRunner: db.NewTxRunner(database, cfg.TxMaxAttempts),
		accounts: store.NewAccountStore(database),
		entries:  store.NewLedgerStore(database),
		users:    store.NewUserStore(database),
		audit:    store.NewAuditStore(database),
		promos:   store.NewPromoStore(database),
		groups:   store.NewGroupStore(database),
		close:    database.Close,
	}, nil
}

func loadTiers(path string) (promo.Table, error) {
	if path == "" {
		return promo.DefaultTable(), nil
	}
	return promo.Load(path)
}

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		fallback := logging.New("production")
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.AppEnv)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	stores, err := openBackend(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer stores.close()

	tiers, err := loadTiers(cfg.PromoTiersFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PromoTiersFile).Msg("failed to load promo tiers")
	}
	if len(cfg.Admins()) == 0 {
		logger.Warn().Msg("ADMIN_IDENTITIES is empty, admin endpoints will refuse everyone")
	}

	hub := websocket.NewHub()
	opts := []services.LedgerOption{services.WithHub(hub)}
	if client := idempotency.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); client != nil {
		defer client.Close()
		opts = append(opts, services.WithGuard(idempotency.NewGuard(client, cfg.IdempotencyTTL)))
	}

	authz := auth.NewAuthorizer(cfg.Admins())
	ledgerService := services.NewLedgerService(stores.txRunner, stores.accounts, stores.entries, stores.users, cfg.DefaultCurrency, opts...)
	approvals := services.NewApprovalService(ledgerService, authz, stores.audit)
	promos := services.NewPromoService(ledgerService, stores.promos, stores.audit, authz, tiers)
	groups := services.NewGroupService(ledgerService, stores.groups, stores.audit, authz)

	sweeper := services.NewPendingSweeper(approvals, cfg.PendingTTL, cfg.PendingSweep)
	go sweeper.Run(ctx)

	handler := handlers.New(cfg, logger, ledgerService, approvals, promos, groups, authz, websocket.NewServer(hub, cfg.Origins()))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("driver", cfg.StoreDriver).Msg("wallet API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
