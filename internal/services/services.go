package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"wallet/internal/auth"
	"wallet/internal/models"
	"wallet/internal/store"
	"wallet/internal/websocket"
)

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, account models.Account) (bool, error)
	Get(ctx context.Context, q store.Getter, accountID string) (models.Account, error)
	GetByUser(ctx context.Context, q store.Getter, userID string) (models.Account, error)
	FindByUser(ctx context.Context, userID string) (models.Account, error)
	SwapBalance(ctx context.Context, tx store.Execer, accountID string, expectedVersion, balance int64) error
	Reconcile(ctx context.Context) ([]store.AccountBalanceSummary, error)
}

type LedgerStore interface {
	Insert(ctx context.Context, tx store.Execer, entry models.LedgerEntry) error
	Get(ctx context.Context, q store.Getter, entryID string) (models.LedgerEntry, error)
	FindByRequestID(ctx context.Context, accountID, requestID string) (models.LedgerEntry, error)
	Resolve(ctx context.Context, tx store.Execer, res store.Resolution) error
	ListForAccount(ctx context.Context, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error)
	ListPending(ctx context.Context, filter store.EntryFilter) ([]models.LedgerEntry, error)
	ListChain(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
}

type UserStore interface {
	Upsert(ctx context.Context, tx store.Execer, user models.User) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

type PromoStore interface {
	Insert(ctx context.Context, tx store.Execer, promo models.Promo) error
	Get(ctx context.Context, q store.Getter, promoID string) (models.Promo, error)
	RecordPayout(ctx context.Context, tx store.Execer, promoID string, expectedPaidOut, paidOut int64, closedAt *time.Time) error
	ListByAccount(ctx context.Context, accountID string) ([]models.Promo, error)
}

type GroupStore interface {
	CreatePool(ctx context.Context, tx store.Execer, pool models.GroupPool) error
	GetPool(ctx context.Context, q store.Getter, poolID string) (models.GroupPool, error)
	AddMember(ctx context.Context, tx store.Execer, member models.GroupMember) error
	GetMember(ctx context.Context, q store.Getter, poolID, accountID string) (models.GroupMember, error)
	ListMembers(ctx context.Context, poolID string) ([]models.GroupMember, error)
	NextRoundNumber(ctx context.Context, q store.Getter, poolID string) (int, error)
	CreateRound(ctx context.Context, tx store.Execer, round models.GroupRound) error
	GetRound(ctx context.Context, q store.Getter, poolID, roundID string) (models.GroupRound, error)
	AddContribution(ctx context.Context, tx store.Execer, c models.GroupContribution) error
	HasContributed(ctx context.Context, q store.Getter, roundID, accountID string) (bool, error)
	Pot(ctx context.Context, q store.Getter, roundID string) (int64, error)
	CloseRound(ctx context.Context, tx store.Execer, roundID, winnerAccountID string, payout int64, payoutEntryID string, closedAt time.Time) error
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

// Authorizer decides whether an identity may perform an administrative
// operation and returns ledger.ErrForbidden when it may not.
type Authorizer interface {
	RequireAdmin(ctx context.Context, identity auth.Identity, operation string) error
}

// SubmissionGuard claims client request ids while a submission is in flight.
type SubmissionGuard interface {
	Acquire(ctx context.Context, userID, requestID string) (bool, error)
	Release(ctx context.Context, userID, requestID string) error
}

type noopHub struct{}

func (noopHub) BroadcastBalance(string, websocket.BalanceUpdate) {}

type openGuard struct{}

func (openGuard) Acquire(context.Context, string, string) (bool, error) { return true, nil }
func (openGuard) Release(context.Context, string, string) error         { return nil }

// balanceChange is a committed balance change waiting to be pushed.
type balanceChange struct {
	account models.Account
	entry   models.LedgerEntry
}

func logForbidden(ctx context.Context, actor auth.Identity, operation string) {
	zerolog.Ctx(ctx).Warn().
		Str("event", "security.forbidden").
		Str("actor_id", actor.UserID).
		Str("operation", operation).
		Msg("operation denied")
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}
