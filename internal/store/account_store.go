package store

import (
	"context"

	"wallet/internal/ledger"
	"wallet/internal/models"
)

type AccountStore struct {
	db DB
}

// AccountBalanceSummary compares the stored balance with the sum of applied
// ledger deltas.
type AccountBalanceSummary struct {
	ID                string `db:"id" json:"account_id"`
	UserID            string `db:"user_id" json:"user_id"`
	Currency          string `db:"currency" json:"currency"`
	StoredBalance     int64  `db:"stored_balance" json:"stored_balance"`
	CalculatedBalance int64  `db:"calculated_balance" json:"calculated_balance"`
	Difference        int64  `db:"difference" json:"difference"`
	Version           int64  `db:"version" json:"version"`
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `id, user_id, currency, balance, version, created_at, updated_at`

// Create inserts a zero-balance account unless the user already has one.
// It reports whether a row was inserted.
func (s *AccountStore) Create(ctx context.Context, tx Execer, account models.Account) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, currency, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, account.ID, account.UserID, account.Currency, account.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *AccountStore) Get(ctx context.Context, q Getter, accountID string) (models.Account, error) {
	var row models.Account
	err := q.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return models.Account{}, notFound(err, "account")
	}
	return row, nil
}

func (s *AccountStore) GetByUser(ctx context.Context, q Getter, userID string) (models.Account, error) {
	var row models.Account
	err := q.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return models.Account{}, notFound(err, "account")
	}
	return row, nil
}

// FindByUser reads outside any transaction.
func (s *AccountStore) FindByUser(ctx context.Context, userID string) (models.Account, error) {
	return s.GetByUser(ctx, s.db, userID)
}

// SwapBalance writes balance only if the row is still at expectedVersion and
// bumps the version. A lost race returns ledger.ErrStoreConflict.
func (s *AccountStore) SwapBalance(ctx context.Context, tx Execer, accountID string, expectedVersion, balance int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`, balance, accountID, expectedVersion)
	if err != nil {
		return err
	}
	return expectOne(res, ledger.ErrStoreConflict)
}

func (s *AccountStore) Reconcile(ctx context.Context) ([]AccountBalanceSummary, error) {
	var rows []AccountBalanceSummary
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id,
		       a.user_id,
		       a.currency,
		       a.balance AS stored_balance,
		       COALESCE(SUM(l.delta), 0) AS calculated_balance,
		       (a.balance - COALESCE(SUM(l.delta), 0)) AS difference,
		       a.version
		FROM accounts a
		LEFT JOIN ledger_entries l ON l.account_id = a.id AND l.status = 'APPROVED'
		GROUP BY a.id, a.user_id, a.currency, a.balance, a.version
		ORDER BY a.created_at
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
