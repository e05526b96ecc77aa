package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wallet/internal/ledger"
	"wallet/internal/models"
	"wallet/internal/store"
)

// Methods taking a tx or getter argument must run inside Store.WithTx.
// The remaining read methods lock on their own.

type AccountStore struct{ s *Store }

func (a *AccountStore) Create(ctx context.Context, tx store.Execer, account models.Account) (bool, error) {
	if err := a.s.check("accounts.create"); err != nil {
		return false, err
	}
	st := a.s.st
	if _, ok := st.accountByUser[account.UserID]; ok {
		return false, nil
	}
	account.Balance = 0
	account.Version = 0
	account.UpdatedAt = account.CreatedAt
	st.accounts[account.ID] = account
	st.accountByUser[account.UserID] = account.ID
	return true, nil
}

func (a *AccountStore) Get(ctx context.Context, q store.Getter, accountID string) (models.Account, error) {
	account, ok := a.s.st.accounts[accountID]
	if !ok {
		return models.Account{}, fmt.Errorf("account: %w", ledger.ErrNotFound)
	}
	return account, nil
}

func (a *AccountStore) GetByUser(ctx context.Context, q store.Getter, userID string) (models.Account, error) {
	return getByUser(a.s.st, userID)
}

func getByUser(st *state, userID string) (models.Account, error) {
	id, ok := st.accountByUser[userID]
	if !ok {
		return models.Account{}, fmt.Errorf("account: %w", ledger.ErrNotFound)
	}
	return st.accounts[id], nil
}

func (a *AccountStore) FindByUser(ctx context.Context, userID string) (models.Account, error) {
	var (
		account models.Account
		err     error
	)
	a.s.read(func(st *state) { account, err = getByUser(st, userID) })
	return account, err
}

func (a *AccountStore) SwapBalance(ctx context.Context, tx store.Execer, accountID string, expectedVersion, balance int64) error {
	if err := a.s.check("accounts.swap"); err != nil {
		return err
	}
	account, ok := a.s.st.accounts[accountID]
	if !ok || account.Version != expectedVersion {
		return ledger.ErrStoreConflict
	}
	account.Balance = balance
	account.Version++
	account.UpdatedAt = time.Now().UTC()
	a.s.st.accounts[accountID] = account
	return nil
}

func (a *AccountStore) Reconcile(ctx context.Context) ([]store.AccountBalanceSummary, error) {
	var rows []store.AccountBalanceSummary
	a.s.read(func(st *state) {
		sums := map[string]int64{}
		for _, e := range st.entries {
			if e.Status == ledger.StatusApproved {
				sums[e.AccountID] += e.Delta
			}
		}
		accounts := make([]models.Account, 0, len(st.accounts))
		for _, acc := range st.accounts {
			accounts = append(accounts, acc)
		}
		sortByTime(accounts, func(a models.Account) time.Time { return a.CreatedAt }, func(models.Account) int64 { return 0 }, false)
		for _, acc := range accounts {
			rows = append(rows, store.AccountBalanceSummary{
				ID:                acc.ID,
				UserID:            acc.UserID,
				Currency:          acc.Currency,
				StoredBalance:     acc.Balance,
				CalculatedBalance: sums[acc.ID],
				Difference:        acc.Balance - sums[acc.ID],
				Version:           acc.Version,
			})
		}
	})
	return rows, nil
}

type LedgerStore struct{ s *Store }

func (l *LedgerStore) Insert(ctx context.Context, tx store.Execer, entry models.LedgerEntry) error {
	if err := l.s.check("ledger.insert"); err != nil {
		return err
	}
	st := l.s.st
	if entry.RequestID != nil {
		k := key(entry.AccountID, *entry.RequestID)
		if _, ok := st.requests[k]; ok {
			return ledger.ErrDuplicateRequest
		}
		st.requests[k] = entry.ID
	}
	st.nextSeq++
	st.entries[entry.ID] = entry
	st.entrySeq[entry.ID] = st.nextSeq
	return nil
}

func (l *LedgerStore) Get(ctx context.Context, q store.Getter, entryID string) (models.LedgerEntry, error) {
	entry, ok := l.s.st.entries[entryID]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("ledger entry: %w", ledger.ErrNotFound)
	}
	return entry, nil
}

func (l *LedgerStore) GetByRequestID(ctx context.Context, q store.Getter, accountID, requestID string) (models.LedgerEntry, error) {
	return byRequestID(l.s.st, accountID, requestID)
}

func byRequestID(st *state, accountID, requestID string) (models.LedgerEntry, error) {
	id, ok := st.requests[key(accountID, requestID)]
	if !ok {
		return models.LedgerEntry{}, fmt.Errorf("ledger entry: %w", ledger.ErrNotFound)
	}
	return st.entries[id], nil
}

func (l *LedgerStore) FindByRequestID(ctx context.Context, accountID, requestID string) (models.LedgerEntry, error) {
	var (
		entry models.LedgerEntry
		err   error
	)
	l.s.read(func(st *state) { entry, err = byRequestID(st, accountID, requestID) })
	return entry, err
}

func (l *LedgerStore) Resolve(ctx context.Context, tx store.Execer, res store.Resolution) error {
	if err := l.s.check("ledger.resolve"); err != nil {
		return err
	}
	entry, ok := l.s.st.entries[res.EntryID]
	if !ok || entry.Status != ledger.StatusPending {
		return ledger.ErrNotPending
	}
	resolvedAt := res.ResolvedAt
	entry.Status = res.Status
	entry.BalanceBefore = res.BalanceBefore
	entry.BalanceAfter = res.BalanceAfter
	entry.AccountSeq = res.AccountSeq
	entry.AdminNote = res.AdminNote
	entry.SystemNote = res.SystemNote
	entry.ResolvedBy = res.ResolvedBy
	entry.ResolvedAt = &resolvedAt
	l.s.st.entries[res.EntryID] = entry
	return nil
}

func (l *LedgerStore) ListForAccount(ctx context.Context, accountID string, filter store.EntryFilter) ([]models.LedgerEntry, error) {
	return l.list(func(e models.LedgerEntry) bool { return e.AccountID == accountID }, filter), nil
}

func (l *LedgerStore) ListPending(ctx context.Context, filter store.EntryFilter) ([]models.LedgerEntry, error) {
	filter.Status = ledger.StatusPending
	filter.Descending = false
	return l.list(func(models.LedgerEntry) bool { return true }, filter), nil
}

func (l *LedgerStore) list(match func(models.LedgerEntry) bool, filter store.EntryFilter) []models.LedgerEntry {
	var (
		rows []models.LedgerEntry
		seqs map[string]int64
	)
	l.s.read(func(st *state) {
		seqs = cloneMap(st.entrySeq)
		for _, e := range st.entries {
			if !match(e) {
				continue
			}
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			if !filter.CreatedBefore.IsZero() && !e.CreatedAt.Before(filter.CreatedBefore) {
				continue
			}
			rows = append(rows, e)
		}
	})
	sortByTime(rows,
		func(e models.LedgerEntry) time.Time { return e.CreatedAt },
		func(e models.LedgerEntry) int64 { return seqs[e.ID] },
		filter.Descending)
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows
}

func (l *LedgerStore) ListChain(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	l.s.read(func(st *state) {
		for _, e := range st.entries {
			if e.AccountID == accountID && e.Status == ledger.StatusApproved {
				rows = append(rows, e)
			}
		}
	})
	seqOf := func(e models.LedgerEntry) int64 {
		if e.AccountSeq == nil {
			return 0
		}
		return *e.AccountSeq
	}
	sortByTime(rows, func(models.LedgerEntry) time.Time { return time.Time{} }, seqOf, false)
	return rows, nil
}

type AuditStore struct{ s *Store }

func (a *AuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if err := a.s.check("audit.log"); err != nil {
		return err
	}
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	if data == "" {
		data = "{}"
	}
	a.s.st.audit = append(a.s.st.audit, models.AuditLog{
		ID:          uuid.NewString(),
		ActorUserID: actor,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (a *AuditStore) List(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	a.s.read(func(st *state) {
		for i := len(st.audit) - 1 - offset; i >= 0; i-- {
			if limit > 0 && len(rows) >= limit {
				break
			}
			rows = append(rows, st.audit[i])
		}
	})
	return rows, nil
}

type UserStore struct{ s *Store }

func (u *UserStore) Upsert(ctx context.Context, tx store.Execer, user models.User) error {
	if err := u.s.check("users.upsert"); err != nil {
		return err
	}
	if existing, ok := u.s.st.users[user.ID]; ok {
		existing.Email = user.Email
		u.s.st.users[user.ID] = existing
		return nil
	}
	u.s.st.users[user.ID] = user
	return nil
}

type PromoStore struct{ s *Store }

func (p *PromoStore) Insert(ctx context.Context, tx store.Execer, promo models.Promo) error {
	if err := p.s.check("promos.insert"); err != nil {
		return err
	}
	p.s.st.promos[promo.ID] = promo
	return nil
}

func (p *PromoStore) Get(ctx context.Context, q store.Getter, promoID string) (models.Promo, error) {
	promo, ok := p.s.st.promos[promoID]
	if !ok {
		return models.Promo{}, fmt.Errorf("promo: %w", ledger.ErrNotFound)
	}
	return promo, nil
}

func (p *PromoStore) RecordPayout(ctx context.Context, tx store.Execer, promoID string, expectedPaidOut, paidOut int64, closedAt *time.Time) error {
	if err := p.s.check("promos.payout"); err != nil {
		return err
	}
	promo, ok := p.s.st.promos[promoID]
	if !ok || promo.PaidOut != expectedPaidOut || promo.Status != models.PromoActive {
		return ledger.ErrStoreConflict
	}
	promo.PaidOut = paidOut
	if closedAt != nil {
		at := *closedAt
		promo.Status = models.PromoCompleted
		promo.ClosedAt = &at
	}
	p.s.st.promos[promoID] = promo
	return nil
}

func (p *PromoStore) ListByAccount(ctx context.Context, accountID string) ([]models.Promo, error) {
	var rows []models.Promo
	p.s.read(func(st *state) {
		for _, promo := range st.promos {
			if promo.AccountID == accountID {
				rows = append(rows, promo)
			}
		}
	})
	sortByTime(rows, func(p models.Promo) time.Time { return p.CreatedAt }, func(models.Promo) int64 { return 0 }, true)
	return rows, nil
}

type GroupStore struct{ s *Store }

func (g *GroupStore) CreatePool(ctx context.Context, tx store.Execer, pool models.GroupPool) error {
	if err := g.s.check("groups.pool"); err != nil {
		return err
	}
	g.s.st.pools[pool.ID] = pool
	return nil
}

func (g *GroupStore) GetPool(ctx context.Context, q store.Getter, poolID string) (models.GroupPool, error) {
	pool, ok := g.s.st.pools[poolID]
	if !ok {
		return models.GroupPool{}, fmt.Errorf("group pool: %w", ledger.ErrNotFound)
	}
	return pool, nil
}

func (g *GroupStore) AddMember(ctx context.Context, tx store.Execer, member models.GroupMember) error {
	if err := g.s.check("groups.member"); err != nil {
		return err
	}
	k := key(member.PoolID, member.AccountID)
	if _, ok := g.s.st.members[k]; ok {
		return ledger.ErrAlreadyMember
	}
	g.s.st.members[k] = member
	return nil
}

func (g *GroupStore) GetMember(ctx context.Context, q store.Getter, poolID, accountID string) (models.GroupMember, error) {
	member, ok := g.s.st.members[key(poolID, accountID)]
	if !ok {
		return models.GroupMember{}, fmt.Errorf("group member: %w", ledger.ErrNotFound)
	}
	return member, nil
}

func (g *GroupStore) ListMembers(ctx context.Context, poolID string) ([]models.GroupMember, error) {
	var rows []models.GroupMember
	g.s.read(func(st *state) {
		for _, m := range st.members {
			if m.PoolID == poolID {
				rows = append(rows, m)
			}
		}
	})
	sortByTime(rows, func(m models.GroupMember) time.Time { return m.JoinedAt }, func(models.GroupMember) int64 { return 0 }, false)
	return rows, nil
}

func (g *GroupStore) NextRoundNumber(ctx context.Context, q store.Getter, poolID string) (int, error) {
	highest := 0
	for _, r := range g.s.st.rounds {
		if r.PoolID == poolID && r.Number > highest {
			highest = r.Number
		}
	}
	return highest + 1, nil
}

func (g *GroupStore) CreateRound(ctx context.Context, tx store.Execer, round models.GroupRound) error {
	if err := g.s.check("groups.round"); err != nil {
		return err
	}
	g.s.st.rounds[round.ID] = round
	return nil
}

func (g *GroupStore) GetRound(ctx context.Context, q store.Getter, poolID, roundID string) (models.GroupRound, error) {
	round, ok := g.s.st.rounds[roundID]
	if !ok || round.PoolID != poolID {
		return models.GroupRound{}, fmt.Errorf("group round: %w", ledger.ErrNotFound)
	}
	return round, nil
}

func (g *GroupStore) AddContribution(ctx context.Context, tx store.Execer, c models.GroupContribution) error {
	if err := g.s.check("groups.contribution"); err != nil {
		return err
	}
	k := key(c.RoundID, c.AccountID)
	if _, ok := g.s.st.contributions[k]; ok {
		return ledger.ErrAlreadyContributed
	}
	g.s.st.contributions[k] = c
	return nil
}

func (g *GroupStore) HasContributed(ctx context.Context, q store.Getter, roundID, accountID string) (bool, error) {
	_, ok := g.s.st.contributions[key(roundID, accountID)]
	return ok, nil
}

func (g *GroupStore) Pot(ctx context.Context, q store.Getter, roundID string) (int64, error) {
	var pot int64
	for _, c := range g.s.st.contributions {
		if c.RoundID == roundID {
			pot += c.Amount
		}
	}
	return pot, nil
}

func (g *GroupStore) CloseRound(ctx context.Context, tx store.Execer, roundID, winnerAccountID string, payout int64, payoutEntryID string, closedAt time.Time) error {
	if err := g.s.check("groups.close"); err != nil {
		return err
	}
	round, ok := g.s.st.rounds[roundID]
	if !ok || round.Closed() {
		return ledger.ErrRoundClosed
	}
	at := closedAt
	round.WinnerAccountID = &winnerAccountID
	round.PayoutAmount = &payout
	round.PayoutEntryID = &payoutEntryID
	round.ClosedAt = &at
	g.s.st.rounds[roundID] = round
	return nil
}
