package models

import (
	"time"

	"wallet/internal/ledger"
)

type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Account struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Currency  string    `db:"currency" json:"currency"`
	Balance   int64     `db:"balance" json:"balance"`
	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LedgerEntry is one balance-affecting event. BalanceBefore, BalanceAfter and
// AccountSeq are set only once the entry has been applied to the balance.
type LedgerEntry struct {
	ID            string        `db:"id" json:"id"`
	AccountID     string        `db:"account_id" json:"account_id"`
	Kind          ledger.Kind   `db:"kind" json:"kind"`
	Amount        int64         `db:"amount" json:"amount"`
	Delta         int64         `db:"delta" json:"delta"`
	Status        ledger.Status `db:"status" json:"status"`
	BalanceBefore *int64        `db:"balance_before" json:"balance_before,omitempty"`
	BalanceAfter  *int64        `db:"balance_after" json:"balance_after,omitempty"`
	AccountSeq    *int64        `db:"account_seq" json:"account_seq,omitempty"`
	RequestID     *string       `db:"request_id" json:"request_id,omitempty"`
	UserNote      string        `db:"user_note" json:"user_note"`
	AdminNote     string        `db:"admin_note" json:"admin_note"`
	SystemNote    string        `db:"system_note" json:"system_note"`
	ResolvedBy    *string       `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	ResolvedAt    *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

type PromoStatus string

const (
	PromoActive    PromoStatus = "ACTIVE"
	PromoCompleted PromoStatus = "COMPLETED"
)

// Promo tracks funds locked by a PROMO_LOCK entry and what has been paid back.
type Promo struct {
	ID           string      `db:"id" json:"id"`
	AccountID    string      `db:"account_id" json:"account_id"`
	LockEntryID  string      `db:"lock_entry_id" json:"lock_entry_id"`
	Tier         string      `db:"tier" json:"tier"`
	Principal    int64       `db:"principal" json:"principal"`
	BonusPercent string      `db:"bonus_percent" json:"bonus_percent"`
	BonusAmount  int64       `db:"bonus_amount" json:"bonus_amount"`
	PaidOut      int64       `db:"paid_out" json:"paid_out"`
	Status       PromoStatus `db:"status" json:"status"`
	StartsAt     time.Time   `db:"starts_at" json:"starts_at"`
	MaturesAt    time.Time   `db:"matures_at" json:"matures_at"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	ClosedAt     *time.Time  `db:"closed_at" json:"closed_at,omitempty"`
}

// Entitlement is the most that may ever be paid out for the promo.
func (p Promo) Entitlement() int64 {
	return p.Principal + p.BonusAmount
}

type GroupRole string

const (
	RoleOwner  GroupRole = "OWNER"
	RoleMember GroupRole = "MEMBER"
)

type GroupPool struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	OwnerAccountID string    `db:"owner_account_id" json:"owner_account_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type GroupMember struct {
	PoolID    string    `db:"pool_id" json:"pool_id"`
	AccountID string    `db:"account_id" json:"account_id"`
	Role      GroupRole `db:"role" json:"role"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}

type GroupRound struct {
	ID                 string     `db:"id" json:"id"`
	PoolID             string     `db:"pool_id" json:"pool_id"`
	Number             int        `db:"number" json:"number"`
	ContributionAmount int64      `db:"contribution_amount" json:"contribution_amount"`
	DueAt              time.Time  `db:"due_at" json:"due_at"`
	WinnerAccountID    *string    `db:"winner_account_id" json:"winner_account_id,omitempty"`
	PayoutAmount       *int64     `db:"payout_amount" json:"payout_amount,omitempty"`
	PayoutEntryID      *string    `db:"payout_entry_id" json:"payout_entry_id,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	ClosedAt           *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

func (r GroupRound) Closed() bool {
	return r.ClosedAt != nil
}

type GroupContribution struct {
	ID        string    `db:"id" json:"id"`
	RoundID   string    `db:"round_id" json:"round_id"`
	AccountID string    `db:"account_id" json:"account_id"`
	EntryID   string    `db:"entry_id" json:"entry_id"`
	Amount    int64     `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type AuditLog struct {
	ID          string    `db:"id" json:"id"`
	ActorUserID *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action      string    `db:"action" json:"action"`
	EntityType  string    `db:"entity_type" json:"entity_type"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	Data        string    `db:"data" json:"data"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
