package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"wallet/internal/auth"
	"wallet/internal/ledger"
	"wallet/internal/models"
	"wallet/internal/store"
	"wallet/internal/websocket"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubAccountStore struct {
	createFn     func(ctx context.Context, tx store.Execer, account models.Account) (bool, error)
	getFn        func(ctx context.Context, q store.Getter, accountID string) (models.Account, error)
	getByUserFn  func(ctx context.Context, q store.Getter, userID string) (models.Account, error)
	findByUserFn func(ctx context.Context, userID string) (models.Account, error)
	swapFn       func(ctx context.Context, tx store.Execer, accountID string, expectedVersion, balance int64) error
	reconcileFn  func(ctx context.Context) ([]store.AccountBalanceSummary, error)
}

func (s stubAccountStore) Create(ctx context.Context, tx store.Execer, account models.Account) (bool, error) {
	if s.createFn == nil {
		return true, nil
	}
	return s.createFn(ctx, tx, account)
}

func (s stubAccountStore) Get(ctx context.Context, q store.Getter, accountID string) (models.Account, error) {
	return s.getFn(ctx, q, accountID)
}

func (s stubAccountStore) GetByUser(ctx context.Context, q store.Getter, userID string) (models.Account, error) {
	return s.getByUserFn(ctx, q, userID)
}

func (s stubAccountStore) FindByUser(ctx context.Context, userID string) (models.Account, error) {
	if s.findByUserFn == nil {
		return models.Account{}, ledger.ErrNotFound
	}
	return s.findByUserFn(ctx, userID)
}

func (s stubAccountStore) SwapBalance(ctx context.Context, tx store.Execer, accountID string, expectedVersion, balance int64) error {
	if s.swapFn == nil {
		return nil
	}
	return s.swapFn(ctx, tx, accountID, expectedVersion, balance)
}

func (s stubAccountStore) Reconcile(ctx context.Context) ([]store.AccountBalanceSummary, error) {
	return s.reconcileFn(ctx)
}

type stubLedgerStore struct {
	insertFn          func(ctx context.Context, tx store.Execer, entry models.LedgerEntry) error
	getFn             func(ctx context.Context, q store.Getter, entryID string) (models.LedgerEntry, error)
	findByRequestIDFn func(ctx context.Context, accountID, requestID string) (models.LedgerEntry, error)
	resolveFn         func(ctx context.Context, tx store.Execer, res store.Resolution) error
	listChainFn       func(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
}

func (s stubLedgerStore) Insert(ctx context.Context, tx store.Execer, entry models.LedgerEntry) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, tx, entry)
}

func (s stubLedgerStore) Get(ctx context.Context, q store.Getter, entryID string) (models.LedgerEntry, error) {
	return s.getFn(ctx, q, entryID)
}

func (s stubLedgerStore) FindByRequestID(ctx context.Context, accountID, requestID string) (models.LedgerEntry, error) {
	if s.findByRequestIDFn == nil {
		return models.LedgerEntry{}, ledger.ErrNotFound
	}
	return s.findByRequestIDFn(ctx, accountID, requestID)
}

func (s stubLedgerStore) Resolve(ctx context.Context, tx store.Execer, res store.Resolution) error {
	if s.resolveFn == nil {
		return nil
	}
	return s.resolveFn(ctx, tx, res)
}

func (s stubLedgerStore) ListForAccount(context.Context, string, store.EntryFilter) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (s stubLedgerStore) ListPending(context.Context, store.EntryFilter) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (s stubLedgerStore) ListChain(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	return s.listChainFn(ctx, accountID)
}

type stubUserStore struct{}

func (stubUserStore) Upsert(context.Context, store.Execer, models.User) error { return nil }

type stubAuditStore struct {
	logFn func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(context.Context, int, int) ([]models.AuditLog, error) {
	return nil, nil
}

type stubHub struct {
	calls []websocket.BalanceUpdate
}

func (s *stubHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	s.calls = append(s.calls, update)
}

type mockGuard struct {
	mock.Mock
}

func (m *mockGuard) Acquire(_ context.Context, userID, requestID string) (bool, error) {
	args := m.Called(userID, requestID)
	return args.Bool(0), args.Error(1)
}

func (m *mockGuard) Release(_ context.Context, userID, requestID string) error {
	args := m.Called(userID, requestID)
	return args.Error(0)
}

var errBoom = errors.New("boom")

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func accountAt(balance, version int64) stubAccountStore {
	return stubAccountStore{
		getFn: func(context.Context, store.Getter, string) (models.Account, error) {
			return models.Account{ID: "acc-1", UserID: "user-1", Currency: "IDR", Balance: balance, Version: version}, nil
		},
		findByUserFn: func(context.Context, string) (models.Account, error) {
			return models.Account{ID: "acc-1", UserID: "user-1", Currency: "IDR", Balance: balance, Version: version}, nil
		},
	}
}

func TestRecordApprovedAppliesDelta(t *testing.T) {
	accounts := accountAt(100, 3)
	var swapped [2]int64
	accounts.swapFn = func(_ context.Context, _ store.Execer, accountID string, expectedVersion, balance int64) error {
		swapped = [2]int64{expectedVersion, balance}
		return nil
	}
	var inserted models.LedgerEntry
	entries := stubLedgerStore{insertFn: func(_ context.Context, _ store.Execer, entry models.LedgerEntry) error {
		inserted = entry
		return nil
	}}
	service := NewLedgerService(fakeTxRunner{}, accounts, entries, stubUserStore{}, "IDR", WithClock(fixedClock))

	entry, account, err := service.Record(context.Background(), nil, RecordInput{
		AccountID: "acc-1", Kind: ledger.KindDeposit, Amount: 50, Status: ledger.StatusApproved,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if swapped != [2]int64{3, 150} {
		t.Fatalf("unexpected swap: %v", swapped)
	}
	if *inserted.BalanceBefore != 100 || *inserted.BalanceAfter != 150 || *inserted.AccountSeq != 4 {
		t.Fatalf("unexpected snapshot: %#v", inserted)
	}
	if entry.Delta != 50 || account.Balance != 150 || account.Version != 4 {
		t.Fatalf("unexpected result: %#v %#v", entry, account)
	}
	if inserted.ResolvedAt == nil || !inserted.ResolvedAt.Equal(fixedClock()) {
		t.Fatalf("expected resolved_at stamp, got %v", inserted.ResolvedAt)
	}
}

func TestRecordPendingLeavesBalance(t *testing.T) {
	accounts := accountAt(100, 1)
	accounts.swapFn = func(context.Context, store.Execer, string, int64, int64) error {
		t.Fatalf("pending entries must not touch the balance")
		return nil
	}
	service := NewLedgerService(fakeTxRunner{}, accounts, stubLedgerStore{}, stubUserStore{}, "IDR")

	entry, _, err := service.Record(context.Background(), nil, RecordInput{
		AccountID: "acc-1", Kind: ledger.KindWithdraw, Amount: 500, Status: ledger.StatusPending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Delta != -500 || entry.BalanceBefore != nil || entry.Status != ledger.StatusPending {
		t.Fatalf("unexpected entry: %#v", entry)
	}
}

func TestRecordInsufficientFunds(t *testing.T) {
	entries := stubLedgerStore{insertFn: func(context.Context, store.Execer, models.LedgerEntry) error {
		t.Fatalf("entry must not be written")
		return nil
	}}
	service := NewLedgerService(fakeTxRunner{}, accountAt(100, 1), entries, stubUserStore{}, "IDR")

	_, _, err := service.Record(context.Background(), nil, RecordInput{
		AccountID: "acc-1", Kind: ledger.KindWithdraw, Amount: 101, Status: ledger.StatusApproved,
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestRecordPropagatesSwapConflict(t *testing.T) {
	accounts := accountAt(100, 1)
	accounts.swapFn = func(context.Context, store.Execer, string, int64, int64) error {
		return ledger.ErrStoreConflict
	}
	service := NewLedgerService(fakeTxRunner{}, accounts, stubLedgerStore{}, stubUserStore{}, "IDR")

	_, _, err := service.Record(context.Background(), nil, RecordInput{
		AccountID: "acc-1", Kind: ledger.KindDeposit, Amount: 1, Status: ledger.StatusApproved,
	})
	if !errors.Is(err, ledger.ErrStoreConflict) {
		t.Fatalf("expected ErrStoreConflict, got %v", err)
	}
}

func TestValidateRecord(t *testing.T) {
	cases := []struct {
		name string
		in   RecordInput
		want error
	}{
		{"zero amount", RecordInput{Kind: ledger.KindDeposit, Status: ledger.StatusApproved}, ledger.ErrInvalidAmount},
		{"unknown kind", RecordInput{Kind: "BONUS", Amount: 1, Status: ledger.StatusApproved}, ledger.ErrInvalidKind},
		{"rejected at creation", RecordInput{Kind: ledger.KindDeposit, Amount: 1, Status: ledger.StatusRejected}, ledger.ErrInvalidKind},
		{"adjust without delta", RecordInput{Kind: ledger.KindAdjust, Amount: 1, Status: ledger.StatusApproved}, ledger.ErrNoChange},
		{"adjust delta mismatch", RecordInput{Kind: ledger.KindAdjust, Amount: 5, Delta: -4, Status: ledger.StatusApproved}, ledger.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := validateRecord(tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	delta, err := validateRecord(RecordInput{Kind: ledger.KindAdjust, Amount: 5, Delta: -5, Status: ledger.StatusApproved})
	if err != nil || delta != -5 {
		t.Fatalf("unexpected adjust delta %d, %v", delta, err)
	}
}

func TestDepositBroadcastsBalance(t *testing.T) {
	hub := &stubHub{}
	service := NewLedgerService(fakeTxRunner{}, accountAt(0, 0), stubLedgerStore{}, stubUserStore{}, "IDR", WithHub(hub))

	entry, err := service.Deposit(context.Background(), auth.Identity{UserID: "user-1"}, 2500, "salary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Status != ledger.StatusApproved || entry.UserNote != "salary" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if len(hub.calls) != 1 || hub.calls[0].Balance != 2500 || hub.calls[0].EntryID != entry.ID {
		t.Fatalf("unexpected broadcasts: %#v", hub.calls)
	}
}

func TestDepositFailureDoesNotBroadcast(t *testing.T) {
	hub := &stubHub{}
	entries := stubLedgerStore{insertFn: func(context.Context, store.Execer, models.LedgerEntry) error {
		return errBoom
	}}
	service := NewLedgerService(fakeTxRunner{}, accountAt(0, 0), entries, stubUserStore{}, "IDR", WithHub(hub))

	if _, err := service.Deposit(context.Background(), auth.Identity{UserID: "user-1"}, 10, ""); !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(hub.calls) != 0 {
		t.Fatalf("unexpected broadcasts: %#v", hub.calls)
	}
}

func TestGetOrCreateAccountCreatesOnFirstAccess(t *testing.T) {
	var created models.Account
	accounts := stubAccountStore{
		createFn: func(_ context.Context, _ store.Execer, account models.Account) (bool, error) {
			created = account
			return true, nil
		},
		getByUserFn: func(_ context.Context, _ store.Getter, userID string) (models.Account, error) {
			return models.Account{ID: created.ID, UserID: userID, Currency: created.Currency}, nil
		},
	}
	service := NewLedgerService(fakeTxRunner{}, accounts, stubLedgerStore{}, stubUserStore{}, "IDR")

	account, err := service.GetOrCreateAccount(context.Background(), auth.Identity{UserID: "user-9", Email: "u9@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.ID == "" || account.ID != created.ID || account.Currency != "IDR" || account.Balance != 0 {
		t.Fatalf("unexpected account: %#v", account)
	}
}

func TestSubmitReturnsExistingRequest(t *testing.T) {
	existing := models.LedgerEntry{ID: "entry-1", Status: ledger.StatusPending}
	entries := stubLedgerStore{
		findByRequestIDFn: func(_ context.Context, accountID, requestID string) (models.LedgerEntry, error) {
			if accountID != "acc-1" || requestID != "req-1" {
				t.Fatalf("unexpected lookup %s/%s", accountID, requestID)
			}
			return existing, nil
		},
		insertFn: func(context.Context, store.Execer, models.LedgerEntry) error {
			t.Fatalf("duplicate submission must not insert")
			return nil
		},
	}
	service := NewLedgerService(fakeTxRunner{}, accountAt(0, 0), entries, stubUserStore{}, "IDR")

	entry, created, err := service.Submit(context.Background(), auth.Identity{UserID: "user-1"}, SubmitInput{
		Kind: ledger.KindDeposit, Amount: 10, RequestID: " req-1 ",
	})
	if err != nil || created || entry.ID != "entry-1" {
		t.Fatalf("unexpected result: %#v %v %v", entry, created, err)
	}
}

func TestSubmitRejectsInFlightDuplicate(t *testing.T) {
	guard := &mockGuard{}
	guard.On("Acquire", "user-1", "req-1").Return(false, nil)
	service := NewLedgerService(fakeTxRunner{}, accountAt(0, 0), stubLedgerStore{}, stubUserStore{}, "IDR", WithGuard(guard))

	_, _, err := service.Submit(context.Background(), auth.Identity{UserID: "user-1"}, SubmitInput{
		Kind: ledger.KindWithdraw, Amount: 10, RequestID: "req-1",
	})
	if !errors.Is(err, ledger.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	guard.AssertExpectations(t)
	guard.AssertNotCalled(t, "Release", "user-1", "req-1")
}

func TestSubmitReleasesGuardOnFailure(t *testing.T) {
	guard := &mockGuard{}
	guard.On("Acquire", "user-1", "req-1").Return(true, nil)
	guard.On("Release", "user-1", "req-1").Return(nil)
	entries := stubLedgerStore{insertFn: func(context.Context, store.Execer, models.LedgerEntry) error {
		return errBoom
	}}
	service := NewLedgerService(fakeTxRunner{}, accountAt(0, 0), entries, stubUserStore{}, "IDR", WithGuard(guard))

	_, _, err := service.Submit(context.Background(), auth.Identity{UserID: "user-1"}, SubmitInput{
		Kind: ledger.KindWithdraw, Amount: 10, RequestID: "req-1",
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
	guard.AssertExpectations(t)
}

func TestSubmitRejectsImmediateKinds(t *testing.T) {
	service := NewLedgerService(fakeTxRunner{}, stubAccountStore{}, stubLedgerStore{}, stubUserStore{}, "IDR")
	_, _, err := service.Submit(context.Background(), auth.Identity{UserID: "user-1"}, SubmitInput{
		Kind: ledger.KindAdjust, Amount: 10,
	})
	if !errors.Is(err, ledger.ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func chainEntry(id string, before, after, seq int64) models.LedgerEntry {
	return models.LedgerEntry{ID: id, Delta: after - before, BalanceBefore: &before, BalanceAfter: &after, AccountSeq: &seq}
}

func TestVerifyChain(t *testing.T) {
	cases := []struct {
		name    string
		chain   []models.LedgerEntry
		balance int64
		valid   bool
	}{
		{"empty", nil, 0, true},
		{"linked", []models.LedgerEntry{chainEntry("a", 0, 100, 1), chainEntry("b", 100, 40, 2)}, 40, true},
		{"gap", []models.LedgerEntry{chainEntry("a", 0, 100, 1), chainEntry("b", 90, 40, 2)}, 40, false},
		{"not from zero", []models.LedgerEntry{chainEntry("a", 10, 100, 1)}, 100, false},
		{"sum mismatch", []models.LedgerEntry{chainEntry("a", 0, 100, 1)}, 120, false},
		{"sequence repeats", []models.LedgerEntry{chainEntry("a", 0, 100, 1), chainEntry("b", 100, 40, 1)}, 40, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries := stubLedgerStore{listChainFn: func(context.Context, string) ([]models.LedgerEntry, error) {
				return tc.chain, nil
			}}
			service := NewLedgerService(fakeTxRunner{}, stubAccountStore{}, entries, stubUserStore{}, "IDR")
			report, err := service.VerifyChain(context.Background(), "acc-1", tc.balance)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if report.Valid != tc.valid {
				t.Fatalf("expected valid=%v, got %#v", tc.valid, report)
			}
		})
	}
}
