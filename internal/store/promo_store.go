package store

import (
	"context"
	"time"

	"wallet/internal/ledger"
	"wallet/internal/models"
)

type PromoStore struct {
	db DB
}

func NewPromoStore(db DB) *PromoStore {
	return &PromoStore{db: db}
}

const promoColumns = `id, account_id, lock_entry_id, tier, principal, bonus_percent, bonus_amount,
		       paid_out, status, starts_at, matures_at, created_at, closed_at`

func (s *PromoStore) Insert(ctx context.Context, tx Execer, promo models.Promo) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO promo_entries (id, account_id, lock_entry_id, tier, principal, bonus_percent,
		                           bonus_amount, paid_out, status, starts_at, matures_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, promo.ID, promo.AccountID, promo.LockEntryID, promo.Tier, promo.Principal, promo.BonusPercent,
		promo.BonusAmount, promo.PaidOut, promo.Status, promo.StartsAt, promo.MaturesAt, promo.CreatedAt)
	return err
}

func (s *PromoStore) Get(ctx context.Context, q Getter, promoID string) (models.Promo, error) {
	var row models.Promo
	err := q.GetContext(ctx, &row, `SELECT `+promoColumns+` FROM promo_entries WHERE id = $1`, promoID)
	if err != nil {
		return models.Promo{}, notFound(err, "promo")
	}
	return row, nil
}

// RecordPayout moves paid_out from expectedPaidOut to paidOut. A non-nil
// closedAt also completes the promo. A concurrent payout returns
// ledger.ErrStoreConflict.
func (s *PromoStore) RecordPayout(ctx context.Context, tx Execer, promoID string, expectedPaidOut, paidOut int64, closedAt *time.Time) error {
	status := models.PromoActive
	if closedAt != nil {
		status = models.PromoCompleted
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE promo_entries
		SET paid_out = $1, status = $2, closed_at = $3
		WHERE id = $4 AND paid_out = $5 AND status = 'ACTIVE'
	`, paidOut, status, closedAt, promoID, expectedPaidOut)
	if err != nil {
		return err
	}
	return expectOne(res, ledger.ErrStoreConflict)
}

func (s *PromoStore) ListByAccount(ctx context.Context, accountID string) ([]models.Promo, error) {
	var rows []models.Promo
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+promoColumns+`
		FROM promo_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
