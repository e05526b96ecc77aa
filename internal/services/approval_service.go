package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"wallet/internal/auth"
	"wallet/internal/ledger"
	"wallet/internal/models"
	"wallet/internal/money"
	"wallet/internal/store"
)

type Outcome string

const (
	OutcomeApproved     Outcome = "APPROVED"
	OutcomeRejected     Outcome = "REJECTED"
	OutcomeAutoRejected Outcome = "AUTO_REJECTED"
)

const (
	noteInsufficientFunds = "insufficient funds at approval time"
	noteExpired           = "expired without review"
)

type ApprovalResult struct {
	Outcome Outcome            `json:"outcome"`
	Entry   models.LedgerEntry `json:"entry"`
}

// ApprovalService resolves pending requests and performs the other
// administrator-only mutations.
type ApprovalService struct {
	ledger *LedgerService
	authz  Authorizer
	audit  AuditStore
}

func NewApprovalService(ledgerService *LedgerService, authz Authorizer, audit AuditStore) *ApprovalService {
	return &ApprovalService{ledger: ledgerService, authz: authz, audit: audit}
}

// Approve applies a pending entry against the account balance as it stands
// in this transaction. A debit the balance can no longer cover is rejected
// with a system note and reported as OutcomeAutoRejected.
func (s *ApprovalService) Approve(ctx context.Context, actor auth.Identity, entryID, note string) (ApprovalResult, error) {
	if err := s.authz.RequireAdmin(ctx, actor, "entry.approve"); err != nil {
		return ApprovalResult{}, err
	}

	var (
		result ApprovalResult
		change balanceChange
	)
	err := s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		change = balanceChange{}
		entry, err := s.pendingEntry(ctx, tx, entryID)
		if err != nil {
			return err
		}
		account, err := s.ledger.accounts.Get(ctx, tx, entry.AccountID)
		if err != nil {
			return err
		}
		now := s.ledger.now()

		updated, err := s.ledger.applyDelta(ctx, tx, account, entry.Delta)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			res := store.Resolution{
				EntryID:    entry.ID,
				Status:     ledger.StatusRejected,
				AdminNote:  note,
				SystemNote: noteInsufficientFunds,
				ResolvedBy: stringPtr(actor.UserID),
				ResolvedAt: now,
			}
			if err := s.ledger.entries.Resolve(ctx, tx, res); err != nil {
				return err
			}
			if err := s.log(ctx, tx, actor.UserID, "entry.auto_reject", entry.ID, map[string]any{
				"amount":  entry.Amount,
				"balance": account.Balance,
			}); err != nil {
				return err
			}
			result = ApprovalResult{Outcome: OutcomeAutoRejected, Entry: resolved(entry, res)}
			return nil
		}
		if err != nil {
			return err
		}

		res := store.Resolution{
			EntryID:       entry.ID,
			Status:        ledger.StatusApproved,
			BalanceBefore: int64Ptr(account.Balance),
			BalanceAfter:  int64Ptr(updated.Balance),
			AccountSeq:    int64Ptr(updated.Version),
			AdminNote:     note,
			ResolvedBy:    stringPtr(actor.UserID),
			ResolvedAt:    now,
		}
		if err := s.ledger.entries.Resolve(ctx, tx, res); err != nil {
			return err
		}
		if err := s.log(ctx, tx, actor.UserID, "entry.approve", entry.ID, map[string]any{
			"amount":         entry.Amount,
			"balance_before": account.Balance,
			"balance_after":  updated.Balance,
		}); err != nil {
			return err
		}
		result = ApprovalResult{Outcome: OutcomeApproved, Entry: resolved(entry, res)}
		change = balanceChange{account: updated, entry: result.Entry}
		return nil
	})
	if err != nil {
		return ApprovalResult{}, err
	}

	zerolog.Ctx(ctx).Info().
		Str("entry_id", entryID).
		Str("actor_id", actor.UserID).
		Str("outcome", string(result.Outcome)).
		Msg("entry resolved")
	s.ledger.notify(change)
	return result, nil
}

// Reject resolves a pending entry without touching the balance.
func (s *ApprovalService) Reject(ctx context.Context, actor auth.Identity, entryID, note string) (ApprovalResult, error) {
	if err := s.authz.RequireAdmin(ctx, actor, "entry.reject"); err != nil {
		return ApprovalResult{}, err
	}
	var result ApprovalResult
	err := s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		entry, err := s.reject(ctx, tx, entryID, actor.UserID, note, "", "entry.reject")
		result = ApprovalResult{Outcome: OutcomeRejected, Entry: entry}
		return err
	})
	if err != nil {
		return ApprovalResult{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("entry_id", entryID).
		Str("actor_id", actor.UserID).
		Str("outcome", string(result.Outcome)).
		Msg("entry resolved")
	return result, nil
}

func (s *ApprovalService) reject(ctx context.Context, tx *sqlx.Tx, entryID, actorID, note, systemNote, action string) (models.LedgerEntry, error) {
	entry, err := s.pendingEntry(ctx, tx, entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	res := store.Resolution{
		EntryID:    entry.ID,
		Status:     ledger.StatusRejected,
		AdminNote:  note,
		SystemNote: systemNote,
		ResolvedBy: stringPtr(actorID),
		ResolvedAt: s.ledger.now(),
	}
	if err := s.ledger.entries.Resolve(ctx, tx, res); err != nil {
		return models.LedgerEntry{}, err
	}
	if err := s.log(ctx, tx, actorID, action, entry.ID, map[string]any{"amount": entry.Amount}); err != nil {
		return models.LedgerEntry{}, err
	}
	return resolved(entry, res), nil
}

func (s *ApprovalService) pendingEntry(ctx context.Context, tx *sqlx.Tx, entryID string) (models.LedgerEntry, error) {
	entry, err := s.ledger.entries.Get(ctx, tx, entryID)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if entry.Status.Terminal() {
		return models.LedgerEntry{}, ledger.ErrAlreadyResolved
	}
	if entry.Status != ledger.StatusPending {
		return models.LedgerEntry{}, ledger.ErrNotPending
	}
	return entry, nil
}

func resolved(entry models.LedgerEntry, res store.Resolution) models.LedgerEntry {
	at := res.ResolvedAt
	entry.Status = res.Status
	entry.BalanceBefore = res.BalanceBefore
	entry.BalanceAfter = res.BalanceAfter
	entry.AccountSeq = res.AccountSeq
	entry.AdminNote = res.AdminNote
	entry.SystemNote = res.SystemNote
	entry.ResolvedBy = res.ResolvedBy
	entry.ResolvedAt = &at
	return entry
}

// Adjust sets the user's balance to newBalance through an ADJUST entry.
func (s *ApprovalService) Adjust(ctx context.Context, actor auth.Identity, userID string, newBalance int64, note string) (models.LedgerEntry, error) {
	if err := s.authz.RequireAdmin(ctx, actor, "account.adjust"); err != nil {
		return models.LedgerEntry{}, err
	}
	if newBalance < 0 {
		return models.LedgerEntry{}, ledger.ErrInvalidAmount
	}
	account, err := s.ledger.accounts.FindByUser(ctx, userID)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	var change balanceChange
	err = s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.ledger.accounts.Get(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		delta := newBalance - current.Balance
		if delta == 0 {
			return ledger.ErrNoChange
		}
		entry, updated, err := s.ledger.Record(ctx, tx, RecordInput{
			AccountID:  current.ID,
			Kind:       ledger.KindAdjust,
			Amount:     money.Abs(delta),
			Delta:      delta,
			Status:     ledger.StatusApproved,
			AdminNote:  note,
			ResolvedBy: stringPtr(actor.UserID),
		})
		if err != nil {
			return err
		}
		change = balanceChange{account: updated, entry: entry}
		return s.log(ctx, tx, actor.UserID, "account.adjust", entry.ID, map[string]any{
			"user_id":        userID,
			"balance_before": current.Balance,
			"balance_after":  updated.Balance,
		})
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("account_id", account.ID).
		Str("actor_id", actor.UserID).
		Int64("delta", change.entry.Delta).
		Msg("balance adjusted")
	s.ledger.notify(change)
	return change.entry, nil
}

// ExpirePending rejects up to limit entries created before cutoff. Entries
// resolved concurrently are skipped. It reports how many were expired.
func (s *ApprovalService) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.ledger.entries.ListPending(ctx, store.EntryFilter{Limit: limit, CreatedBefore: cutoff})
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, e := range stale {
		err := s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			_, err := s.reject(ctx, tx, e.ID, "", "", noteExpired, "entry.expire")
			return err
		})
		if errors.Is(err, ledger.ErrNotPending) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire entry %s: %w", e.ID, err)
		}
		expired++
	}
	return expired, nil
}

func (s *ApprovalService) ListPending(ctx context.Context, actor auth.Identity, limit int) ([]models.LedgerEntry, error) {
	if err := s.authz.RequireAdmin(ctx, actor, "entry.list_pending"); err != nil {
		return nil, err
	}
	return s.ledger.entries.ListPending(ctx, ListOptions{Limit: limit}.filter())
}

func (s *ApprovalService) ListAudit(ctx context.Context, actor auth.Identity, limit, offset int) ([]models.AuditLog, error) {
	if err := s.authz.RequireAdmin(ctx, actor, "audit.list"); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxListLimit {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.audit.List(ctx, limit, offset)
}

// ReconcileRow pairs the stored-vs-summed balance comparison with the
// account's chain check.
type ReconcileRow struct {
	store.AccountBalanceSummary
	Chain ChainReport `json:"chain"`
}

func (s *ApprovalService) Reconcile(ctx context.Context, actor auth.Identity) ([]ReconcileRow, error) {
	if err := s.authz.RequireAdmin(ctx, actor, "accounts.reconcile"); err != nil {
		return nil, err
	}
	summaries, err := s.ledger.accounts.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]ReconcileRow, 0, len(summaries))
	for _, sum := range summaries {
		chain, err := s.ledger.VerifyChain(ctx, sum.ID, sum.StoredBalance)
		if err != nil {
			return nil, err
		}
		if !chain.Valid || sum.Difference != 0 {
			zerolog.Ctx(ctx).Error().
				Str("account_id", sum.ID).
				Int64("difference", sum.Difference).
				Str("problem", chain.Problem).
				Msg("account out of balance")
		}
		rows = append(rows, ReconcileRow{AccountBalanceSummary: sum, Chain: chain})
	}
	return rows, nil
}

func (s *ApprovalService) log(ctx context.Context, tx *sqlx.Tx, actorID, action, entityID string, data map[string]any) error {
	return logAudit(ctx, s.audit, tx, actorID, action, "ledger_entry", entityID, data)
}

func logAudit(ctx context.Context, audit AuditStore, tx *sqlx.Tx, actorID, action, entityType, entityID string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return audit.Log(ctx, tx, actorID, action, entityType, entityID, string(payload))
}
