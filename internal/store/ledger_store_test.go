package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"wallet/internal/ledger"
	"wallet/internal/models"
)

func TestLedgerStoreInsert(t *testing.T) {
	ctx := context.Background()
	before, after := int64(0), int64(500)
	entry := models.LedgerEntry{
		ID:            "entry-1",
		AccountID:     "acc-1",
		Kind:          ledger.KindDeposit,
		Amount:        500,
		Delta:         500,
		Status:        ledger.StatusApproved,
		BalanceBefore: &before,
		BalanceAfter:  &after,
	}
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO ledger_entries") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 16 {
				t.Fatalf("expected 16 args, got %d", len(args))
			}
			if args[0] != "entry-1" || args[2] != ledger.KindDeposit || args[4] != int64(500) || args[5] != ledger.StatusApproved {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	if err := NewLedgerStore(stubDB{}).Insert(ctx, execer, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLedgerStoreInsertDuplicateRequest(t *testing.T) {
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			return nil, &pq.Error{Code: "23505", Constraint: requestIDConstraint}
		},
	}
	err := NewLedgerStore(stubDB{}).Insert(context.Background(), execer, models.LedgerEntry{ID: "entry-2"})
	if !errors.Is(err, ledger.ErrDuplicateRequest) {
		t.Fatalf("expected duplicate request, got %v", err)
	}
}

func TestLedgerStoreResolve(t *testing.T) {
	ctx := context.Background()
	resolvedAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "WHERE id = $9 AND status = 'PENDING'") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != ledger.StatusRejected || args[4] != "no docs" || args[7] != resolvedAt || args[8] != "entry-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	err := NewLedgerStore(stubDB{}).Resolve(ctx, execer, Resolution{
		EntryID:    "entry-1",
		Status:     ledger.StatusRejected,
		AdminNote:  "no docs",
		ResolvedAt: resolvedAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLedgerStoreResolveLostRace(t *testing.T) {
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			return stubResult{rows: 0}, nil
		},
	}
	err := NewLedgerStore(stubDB{}).Resolve(context.Background(), execer, Resolution{EntryID: "entry-1", Status: ledger.StatusApproved})
	if !errors.Is(err, ledger.ErrNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
}

func TestLedgerStoreListForAccountFilters(t *testing.T) {
	store := NewLedgerStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE account_id = $1 AND status = $2") {
				t.Fatalf("unexpected query: %s", query)
			}
			if !strings.Contains(query, "ORDER BY created_at DESC") || !strings.Contains(query, "LIMIT $3") {
				t.Fatalf("unexpected ordering: %s", query)
			}
			if len(args) != 3 || args[0] != "acc-1" || args[1] != ledger.StatusPending || args[2] != 20 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]models.LedgerEntry) = []models.LedgerEntry{{ID: "entry-1"}}
			return nil
		},
	})
	rows, err := store.ListForAccount(context.Background(), "acc-1", EntryFilter{Status: ledger.StatusPending, Limit: 20, Descending: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestLedgerStoreListPendingOldestFirst(t *testing.T) {
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := NewLedgerStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE status = $1 AND created_at < $2") {
				t.Fatalf("unexpected query: %s", query)
			}
			if !strings.Contains(query, "ORDER BY created_at ASC") {
				t.Fatalf("expected oldest first: %s", query)
			}
			if len(args) != 3 || args[1] != cutoff || args[2] != 50 {
				t.Fatalf("unexpected args: %#v", args)
			}
			return nil
		},
	})
	if _, err := store.ListPending(context.Background(), EntryFilter{Limit: 50, Descending: true, CreatedBefore: cutoff}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLedgerStoreListChain(t *testing.T) {
	store := NewLedgerStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "ORDER BY account_seq ASC") || !strings.Contains(query, "status = 'APPROVED'") {
				t.Fatalf("unexpected query: %s", query)
			}
			return nil
		},
	})
	if _, err := store.ListChain(context.Background(), "acc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLedgerStoreGetByRequestIDNotFound(t *testing.T) {
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE account_id = $1 AND request_id = $2") {
				t.Fatalf("unexpected query: %s", query)
			}
			return sql.ErrNoRows
		},
	}
	_, err := NewLedgerStore(stubDB{}).GetByRequestID(context.Background(), getter, "acc-1", "req-1")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
