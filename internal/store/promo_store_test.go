package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet/internal/ledger"
	"wallet/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestPromoStoreInsertAndGet(t *testing.T) {
	xdb, mock := newMockDB(t)
	store := NewPromoStore(xdb)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO promo_entries").
		WithArgs("promo-1", "acc-1", "entry-1", "Silver", int64(1_000_000), "7.5", int64(75_000),
			int64(0), "ACTIVE", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Insert(ctx, xdb, models.Promo{
		ID:           "promo-1",
		AccountID:    "acc-1",
		LockEntryID:  "entry-1",
		Tier:         "Silver",
		Principal:    1_000_000,
		BonusPercent: "7.5",
		BonusAmount:  75_000,
		Status:       models.PromoActive,
		StartsAt:     now,
		MaturesAt:    now.AddDate(0, 0, 90),
		CreatedAt:    now,
	})
	require.NoError(t, err)

	mock.ExpectQuery("FROM promo_entries WHERE id = \\$1").
		WithArgs("promo-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "tier", "principal", "bonus_amount", "paid_out", "status"}).
			AddRow("promo-1", "acc-1", "Silver", 1_000_000, 75_000, 0, "ACTIVE"))

	promo, err := store.Get(ctx, xdb, "promo-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_075_000), promo.Entitlement())
	assert.Equal(t, models.PromoActive, promo.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoStoreGetNotFound(t *testing.T) {
	xdb, mock := newMockDB(t)
	mock.ExpectQuery("FROM promo_entries").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewPromoStore(xdb).Get(context.Background(), xdb, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPromoStoreRecordPayout(t *testing.T) {
	xdb, mock := newMockDB(t)
	store := NewPromoStore(xdb)

	t.Run("partial payout keeps promo active", func(t *testing.T) {
		mock.ExpectExec("UPDATE promo_entries").
			WithArgs(int64(400), "ACTIVE", nil, "promo-1", int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.RecordPayout(context.Background(), xdb, "promo-1", 100, 400, nil))
	})

	t.Run("closing payout completes promo", func(t *testing.T) {
		closedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectExec("UPDATE promo_entries").
			WithArgs(int64(1000), "COMPLETED", closedAt, "promo-1", int64(400)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.RecordPayout(context.Background(), xdb, "promo-1", 400, 1000, &closedAt))
	})

	t.Run("concurrent payout conflicts", func(t *testing.T) {
		mock.ExpectExec("UPDATE promo_entries").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.RecordPayout(context.Background(), xdb, "promo-1", 0, 10, nil)
		assert.ErrorIs(t, err, ledger.ErrStoreConflict)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoStoreListByAccount(t *testing.T) {
	xdb, mock := newMockDB(t)
	mock.ExpectQuery("FROM promo_entries\\s+WHERE account_id = \\$1").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id"}).
			AddRow("promo-2", "acc-1").
			AddRow("promo-1", "acc-1"))

	rows, err := NewPromoStore(xdb).ListByAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "promo-2", rows[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
