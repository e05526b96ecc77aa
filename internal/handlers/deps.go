package handlers

import (
	"context"
	"time"

	"wallet/internal/auth"
	"wallet/internal/models"
	"wallet/internal/promo"
	"wallet/internal/services"
)

type LedgerService interface {
	GetOrCreateAccount(ctx context.Context, identity auth.Identity) (models.Account, error)
	ListForAccount(ctx context.Context, userID string, opts services.ListOptions) ([]models.LedgerEntry, error)
	Deposit(ctx context.Context, identity auth.Identity, amount int64, note string) (models.LedgerEntry, error)
	Submit(ctx context.Context, identity auth.Identity, in services.SubmitInput) (models.LedgerEntry, bool, error)
}

type ApprovalService interface {
	Approve(ctx context.Context, actor auth.Identity, entryID, note string) (services.ApprovalResult, error)
	Reject(ctx context.Context, actor auth.Identity, entryID, note string) (services.ApprovalResult, error)
	Adjust(ctx context.Context, actor auth.Identity, userID string, newBalance int64, note string) (models.LedgerEntry, error)
	ListPending(ctx context.Context, actor auth.Identity, limit int) ([]models.LedgerEntry, error)
	ListAudit(ctx context.Context, actor auth.Identity, limit, offset int) ([]models.AuditLog, error)
	Reconcile(ctx context.Context, actor auth.Identity) ([]services.ReconcileRow, error)
}

type PromoService interface {
	LockForPromo(ctx context.Context, identity auth.Identity, amount int64) (models.Promo, error)
	PayoutIncrement(ctx context.Context, actor auth.Identity, promoID string, amount int64, note string) (models.Promo, error)
	ResolveBonus(ctx context.Context, actor auth.Identity, promoID, note string) (models.Promo, error)
	ListPromos(ctx context.Context, userID string) ([]models.Promo, error)
	Tiers() []promo.Tier
}

type GroupService interface {
	CreatePool(ctx context.Context, owner auth.Identity, name string) (models.GroupPool, error)
	GetPool(ctx context.Context, poolID string) (services.PoolView, error)
	Join(ctx context.Context, identity auth.Identity, poolID string) (models.GroupMember, error)
	OpenRound(ctx context.Context, actor auth.Identity, poolID string, contribution int64, dueAt time.Time) (models.GroupRound, error)
	Contribute(ctx context.Context, identity auth.Identity, poolID, roundID string) (models.GroupContribution, error)
	AssignWinnerAndPayout(ctx context.Context, actor auth.Identity, poolID, roundID, winnerAccountID string, override *int64) (models.GroupRound, error)
}
