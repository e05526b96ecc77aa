package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"wallet/internal/auth"
	"wallet/internal/db"
	"wallet/internal/ledger"
	"wallet/internal/models"
	"wallet/internal/money"
	"wallet/internal/store"
	"wallet/internal/websocket"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// LedgerService owns accounts and the ledger log. Every balance change in
// the wallet goes through Record, inside the caller's transaction.
type LedgerService struct {
	txRunner db.TxRunner
	accounts AccountStore
	entries  LedgerStore
	users    UserStore
	guard    SubmissionGuard
	hub      BalanceHub
	currency string
	now      func() time.Time
}

type LedgerOption func(*LedgerService)

func WithClock(now func() time.Time) LedgerOption {
	return func(s *LedgerService) { s.now = now }
}

func WithGuard(guard SubmissionGuard) LedgerOption {
	return func(s *LedgerService) {
		if guard != nil {
			s.guard = guard
		}
	}
}

func WithHub(hub BalanceHub) LedgerOption {
	return func(s *LedgerService) {
		if hub != nil {
			s.hub = hub
		}
	}
}

func NewLedgerService(txRunner db.TxRunner, accounts AccountStore, entries LedgerStore, users UserStore, currency string, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		txRunner: txRunner,
		accounts: accounts,
		entries:  entries,
		users:    users,
		guard:    openGuard{},
		hub:      noopHub{},
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordInput describes one entry. Delta is only read for ADJUST; every
// other kind derives it from Amount and its sign convention.
type RecordInput struct {
	AccountID  string
	Kind       ledger.Kind
	Amount     int64
	Delta      int64
	Status     ledger.Status
	RequestID  *string
	UserNote   string
	AdminNote  string
	SystemNote string
	ResolvedBy *string
}

// GetOrCreateAccount returns the caller's account, creating it with a zero
// balance on first use. Concurrent first calls converge on one account.
func (s *LedgerService) GetOrCreateAccount(ctx context.Context, identity auth.Identity) (models.Account, error) {
	if identity.UserID == "" {
		return models.Account{}, fmt.Errorf("get account: %w", ledger.ErrNotFound)
	}
	account, err := s.accounts.FindByUser(ctx, identity.UserID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return models.Account{}, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		if err := s.users.Upsert(ctx, tx, models.User{ID: identity.UserID, Email: identity.Email, CreatedAt: now}); err != nil {
			return err
		}
		created, err := s.accounts.Create(ctx, tx, models.Account{
			ID:        uuid.NewString(),
			UserID:    identity.UserID,
			Currency:  s.currency,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		account, err = s.accounts.GetByUser(ctx, tx, identity.UserID)
		if err != nil {
			return err
		}
		if created {
			zerolog.Ctx(ctx).Info().Str("account_id", account.ID).Str("user_id", identity.UserID).Msg("account created")
		}
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

// ReadBalance returns the committed balance of the user's account.
func (s *LedgerService) ReadBalance(ctx context.Context, userID string) (int64, error) {
	account, err := s.accounts.FindByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Record writes one entry inside tx. APPROVED entries are applied to the
// balance in the same transaction and carry their before/after snapshot;
// PENDING entries leave the balance untouched.
func (s *LedgerService) Record(ctx context.Context, tx *sqlx.Tx, in RecordInput) (models.LedgerEntry, models.Account, error) {
	delta, err := validateRecord(in)
	if err != nil {
		return models.LedgerEntry{}, models.Account{}, err
	}
	account, err := s.accounts.Get(ctx, tx, in.AccountID)
	if err != nil {
		return models.LedgerEntry{}, models.Account{}, err
	}

	now := s.now()
	entry := models.LedgerEntry{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		Kind:       in.Kind,
		Amount:     in.Amount,
		Delta:      delta,
		Status:     in.Status,
		RequestID:  in.RequestID,
		UserNote:   in.UserNote,
		AdminNote:  in.AdminNote,
		SystemNote: in.SystemNote,
		ResolvedBy: in.ResolvedBy,
		CreatedAt:  now,
	}
	if in.Status == ledger.StatusApproved {
		updated, err := s.applyDelta(ctx, tx, account, delta)
		if err != nil {
			return models.LedgerEntry{}, models.Account{}, err
		}
		entry.BalanceBefore = int64Ptr(account.Balance)
		entry.BalanceAfter = int64Ptr(updated.Balance)
		entry.AccountSeq = int64Ptr(updated.Version)
		entry.ResolvedAt = &now
		account = updated
	}
	if err := s.entries.Insert(ctx, tx, entry); err != nil {
		return models.LedgerEntry{}, models.Account{}, err
	}
	return entry, account, nil
}

func validateRecord(in RecordInput) (int64, error) {
	if !in.Kind.Valid() {
		return 0, fmt.Errorf("record %q: %w", in.Kind, ledger.ErrInvalidKind)
	}
	if in.Status != ledger.StatusPending && in.Status != ledger.StatusApproved {
		return 0, fmt.Errorf("record with status %q: %w", in.Status, ledger.ErrInvalidKind)
	}
	if in.Amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	if in.Kind == ledger.KindAdjust {
		if in.Delta == 0 {
			return 0, ledger.ErrNoChange
		}
		if money.Abs(in.Delta) != in.Amount {
			return 0, ledger.ErrInvalidAmount
		}
		return in.Delta, nil
	}
	return in.Kind.Delta(in.Amount), nil
}

// applyDelta moves account (as read in tx) by delta using a versioned
// compare-and-swap. A lost race surfaces as ledger.ErrStoreConflict, which
// the transaction runner retries from a fresh read.
func (s *LedgerService) applyDelta(ctx context.Context, tx *sqlx.Tx, account models.Account, delta int64) (models.Account, error) {
	next, err := money.Add(account.Balance, delta)
	if err != nil {
		return models.Account{}, ledger.ErrInvalidAmount
	}
	if next < 0 {
		return models.Account{}, ledger.ErrInsufficientFunds
	}
	if err := s.accounts.SwapBalance(ctx, tx, account.ID, account.Version, next); err != nil {
		return models.Account{}, err
	}
	account.Balance = next
	account.Version++
	account.UpdatedAt = s.now()
	return account, nil
}

// Deposit credits the caller immediately.
func (s *LedgerService) Deposit(ctx context.Context, identity auth.Identity, amount int64, note string) (models.LedgerEntry, error) {
	if amount <= 0 {
		return models.LedgerEntry{}, ledger.ErrInvalidAmount
	}
	account, err := s.GetOrCreateAccount(ctx, identity)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	var change balanceChange
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		entry, updated, err := s.Record(ctx, tx, RecordInput{
			AccountID: account.ID,
			Kind:      ledger.KindDeposit,
			Amount:    amount,
			Status:    ledger.StatusApproved,
			UserNote:  note,
		})
		change = balanceChange{account: updated, entry: entry}
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	s.notify(change)
	return change.entry, nil
}

type SubmitInput struct {
	Kind      ledger.Kind
	Amount    int64
	Note      string
	RequestID string
}

// Submit records a PENDING deposit or withdrawal request for admin review.
// Resubmitting a request id returns the entry created the first time with
// created=false.
func (s *LedgerService) Submit(ctx context.Context, identity auth.Identity, in SubmitInput) (entry models.LedgerEntry, created bool, err error) {
	if !in.Kind.Submittable() {
		return models.LedgerEntry{}, false, ledger.ErrInvalidKind
	}
	if in.Amount <= 0 {
		return models.LedgerEntry{}, false, ledger.ErrInvalidAmount
	}
	requestID := strings.TrimSpace(in.RequestID)
	account, err := s.GetOrCreateAccount(ctx, identity)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}

	if requestID != "" {
		existing, findErr := s.entries.FindByRequestID(ctx, account.ID, requestID)
		if findErr == nil {
			return existing, false, nil
		}
		if !errors.Is(findErr, ledger.ErrNotFound) {
			return models.LedgerEntry{}, false, findErr
		}
		ok, guardErr := s.guard.Acquire(ctx, identity.UserID, requestID)
		if guardErr != nil {
			zerolog.Ctx(ctx).Warn().Err(guardErr).Msg("submission guard unavailable")
		} else if !ok {
			return models.LedgerEntry{}, false, ledger.ErrDuplicateRequest
		}
		defer func() {
			if err != nil {
				_ = s.guard.Release(ctx, identity.UserID, requestID)
			}
		}()
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var recErr error
		entry, _, recErr = s.Record(ctx, tx, RecordInput{
			AccountID: account.ID,
			Kind:      in.Kind,
			Amount:    in.Amount,
			Status:    ledger.StatusPending,
			RequestID: stringPtr(requestID),
			UserNote:  in.Note,
		})
		return recErr
	})
	if errors.Is(err, ledger.ErrDuplicateRequest) && requestID != "" {
		existing, findErr := s.entries.FindByRequestID(ctx, account.ID, requestID)
		if findErr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	zerolog.Ctx(ctx).Info().
		Str("entry_id", entry.ID).
		Str("kind", string(entry.Kind)).
		Int64("amount", entry.Amount).
		Msg("request submitted")
	return entry, true, nil
}

type ListOptions struct {
	Status     ledger.Status
	Limit      int
	Descending bool
}

func (o ListOptions) filter() store.EntryFilter {
	limit := o.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return store.EntryFilter{Status: o.Status, Limit: limit, Descending: o.Descending}
}

// ListForAccount lists the user's entries by creation time. A user without
// an account has no entries.
func (s *LedgerService) ListForAccount(ctx context.Context, userID string, opts ListOptions) ([]models.LedgerEntry, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, ledger.ErrInvalidKind
	}
	account, err := s.accounts.FindByUser(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return []models.LedgerEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.entries.ListForAccount(ctx, account.ID, opts.filter())
}

// ChainReport is the result of walking an account's applied entries.
type ChainReport struct {
	AccountID string `json:"account_id"`
	Entries   int    `json:"entries"`
	Sum       int64  `json:"sum"`
	Balance   int64  `json:"balance"`
	Valid     bool   `json:"valid"`
	Problem   string `json:"problem,omitempty"`
}

// VerifyChain checks that applied entries, ordered by the account version
// they produced, link before-to-after without gaps and sum to balance.
func (s *LedgerService) VerifyChain(ctx context.Context, accountID string, balance int64) (ChainReport, error) {
	chain, err := s.entries.ListChain(ctx, accountID)
	if err != nil {
		return ChainReport{}, err
	}
	report := ChainReport{AccountID: accountID, Entries: len(chain), Balance: balance, Valid: true}
	fail := func(format string, args ...any) (ChainReport, error) {
		report.Valid = false
		report.Problem = fmt.Sprintf(format, args...)
		return report, nil
	}

	var prevAfter, prevSeq int64
	for i, e := range chain {
		if e.BalanceBefore == nil || e.BalanceAfter == nil || e.AccountSeq == nil {
			return fail("entry %s has no balance snapshot", e.ID)
		}
		if *e.BalanceAfter-*e.BalanceBefore != e.Delta {
			return fail("entry %s snapshot does not match delta", e.ID)
		}
		if i > 0 && *e.BalanceBefore != prevAfter {
			return fail("entry %s starts at %d, previous ended at %d", e.ID, *e.BalanceBefore, prevAfter)
		}
		if i == 0 && *e.BalanceBefore != 0 {
			return fail("first entry %s does not start from zero", e.ID)
		}
		if i > 0 && *e.AccountSeq <= prevSeq {
			return fail("entry %s is out of sequence", e.ID)
		}
		report.Sum += e.Delta
		prevAfter = *e.BalanceAfter
		prevSeq = *e.AccountSeq
	}
	if report.Sum != balance {
		return fail("entries sum to %d, balance is %d", report.Sum, balance)
	}
	return report, nil
}

func (s *LedgerService) notify(changes ...balanceChange) {
	for _, c := range changes {
		if c.account.ID == "" {
			continue
		}
		s.hub.BroadcastBalance(c.account.UserID, websocket.BalanceUpdate{
			AccountID: c.account.ID,
			Balance:   c.account.Balance,
			Currency:  c.account.Currency,
			Version:   c.account.Version,
			EntryID:   c.entry.ID,
			Kind:      string(c.entry.Kind),
		})
	}
}
