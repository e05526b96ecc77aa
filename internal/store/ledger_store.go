package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wallet/internal/db"
	"wallet/internal/ledger"
	"wallet/internal/models"
)

const requestIDConstraint = "ledger_entries_account_request_key"

type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// EntryFilter narrows entry listings. Zero values mean no restriction.
type EntryFilter struct {
	Status        ledger.Status
	Limit         int
	Descending    bool
	CreatedBefore time.Time
}

// Resolution moves a PENDING entry to a terminal status.
type Resolution struct {
	EntryID       string
	Status        ledger.Status
	BalanceBefore *int64
	BalanceAfter  *int64
	AccountSeq    *int64
	AdminNote     string
	SystemNote    string
	ResolvedBy    *string
	ResolvedAt    time.Time
}

const entryColumns = `id, account_id, kind, amount, delta, status, balance_before, balance_after,
		       account_seq, request_id, user_note, admin_note, system_note, resolved_by,
		       created_at, resolved_at`

func (s *LedgerStore) Insert(ctx context.Context, tx Execer, entry models.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount, delta, status, balance_before,
		                            balance_after, account_seq, request_id, user_note, admin_note,
		                            system_note, resolved_by, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, entry.ID, entry.AccountID, entry.Kind, entry.Amount, entry.Delta, entry.Status,
		entry.BalanceBefore, entry.BalanceAfter, entry.AccountSeq, entry.RequestID,
		entry.UserNote, entry.AdminNote, entry.SystemNote, entry.ResolvedBy,
		entry.CreatedAt, entry.ResolvedAt)
	if db.IsUniqueViolation(err, requestIDConstraint) {
		return ledger.ErrDuplicateRequest
	}
	return err
}

func (s *LedgerStore) Get(ctx context.Context, q Getter, entryID string) (models.LedgerEntry, error) {
	var row models.LedgerEntry
	err := q.GetContext(ctx, &row, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID)
	if err != nil {
		return models.LedgerEntry{}, notFound(err, "ledger entry")
	}
	return row, nil
}

func (s *LedgerStore) GetByRequestID(ctx context.Context, q Getter, accountID, requestID string) (models.LedgerEntry, error) {
	var row models.LedgerEntry
	err := q.GetContext(ctx, &row, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1 AND request_id = $2
	`, accountID, requestID)
	if err != nil {
		return models.LedgerEntry{}, notFound(err, "ledger entry")
	}
	return row, nil
}

// FindByRequestID reads outside any transaction.
func (s *LedgerStore) FindByRequestID(ctx context.Context, accountID, requestID string) (models.LedgerEntry, error) {
	return s.GetByRequestID(ctx, s.db, accountID, requestID)
}

// Resolve applies res only while the entry is still PENDING. Losing that
// race returns ledger.ErrNotPending.
func (s *LedgerStore) Resolve(ctx context.Context, tx Execer, res Resolution) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1, balance_before = $2, balance_after = $3, account_seq = $4,
		    admin_note = $5, system_note = $6, resolved_by = $7, resolved_at = $8
		WHERE id = $9 AND status = 'PENDING'
	`, res.Status, res.BalanceBefore, res.BalanceAfter, res.AccountSeq,
		res.AdminNote, res.SystemNote, res.ResolvedBy, res.ResolvedAt, res.EntryID)
	if err != nil {
		return err
	}
	return expectOne(result, ledger.ErrNotPending)
}

func (s *LedgerStore) ListForAccount(ctx context.Context, accountID string, filter EntryFilter) ([]models.LedgerEntry, error) {
	where := []string{"account_id = $1"}
	args := []any{accountID}
	return s.list(ctx, where, args, filter)
}

// ListPending returns PENDING entries across all accounts, oldest first.
func (s *LedgerStore) ListPending(ctx context.Context, filter EntryFilter) ([]models.LedgerEntry, error) {
	filter.Status = ledger.StatusPending
	filter.Descending = false
	return s.list(ctx, nil, nil, filter)
}

func (s *LedgerStore) list(ctx context.Context, where []string, args []any, filter EntryFilter) ([]models.LedgerEntry, error) {
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.CreatedBefore.IsZero() {
		args = append(args, filter.CreatedBefore)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.Descending {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []models.LedgerEntry
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListChain returns the applied entries of an account in the order they
// changed the balance.
func (s *LedgerStore) ListChain(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1 AND status = 'APPROVED'
		ORDER BY account_seq ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
