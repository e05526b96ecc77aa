// Package memstore keeps wallet state in process memory behind the same
// contracts as the Postgres stores. A transaction holds the store lock for
// its whole closure and restores a snapshot when the closure fails.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"wallet/internal/db"
	"wallet/internal/models"
)

type state struct {
	users         map[string]models.User
	accounts      map[string]models.Account
	accountByUser map[string]string
	entries       map[string]models.LedgerEntry
	entrySeq      map[string]int64
	requests      map[string]string
	audit         []models.AuditLog
	promos        map[string]models.Promo
	pools         map[string]models.GroupPool
	members       map[string]models.GroupMember
	rounds        map[string]models.GroupRound
	contributions map[string]models.GroupContribution
	nextSeq       int64
}

func newState() *state {
	return &state{
		users:         map[string]models.User{},
		accounts:      map[string]models.Account{},
		accountByUser: map[string]string{},
		entries:       map[string]models.LedgerEntry{},
		entrySeq:      map[string]int64{},
		requests:      map[string]string{},
		promos:        map[string]models.Promo{},
		pools:         map[string]models.GroupPool{},
		members:       map[string]models.GroupMember{},
		rounds:        map[string]models.GroupRound{},
		contributions: map[string]models.GroupContribution{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:         cloneMap(s.users),
		accounts:      cloneMap(s.accounts),
		accountByUser: cloneMap(s.accountByUser),
		entries:       cloneMap(s.entries),
		entrySeq:      cloneMap(s.entrySeq),
		requests:      cloneMap(s.requests),
		audit:         append([]models.AuditLog(nil), s.audit...),
		promos:        cloneMap(s.promos),
		pools:         cloneMap(s.pools),
		members:       cloneMap(s.members),
		rounds:        cloneMap(s.rounds),
		contributions: cloneMap(s.contributions),
		nextSeq:       s.nextSeq,
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is the shared in-memory state. Use its accessors to obtain the
// individual stores.
type Store struct {
	mu          sync.Mutex
	st          *state
	fault       func(op string) error
	maxAttempts int
}

func New() *Store {
	return &Store{st: newState(), maxAttempts: db.DefaultMaxAttempts}
}

func NewWithAttempts(maxAttempts int) *Store {
	s := New()
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	return s
}

// SetFault installs a hook consulted before every write. A non-nil return
// fails that write. Pass nil to clear.
func (s *Store) SetFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Store) check(op string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

// WithTx runs fn with exclusive access to the state. The tx handed to fn is
// nil; memstore stores ignore it. Transient conflicts re-run fn against the
// restored snapshot.
func (s *Store) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.attempt(fn)
		if err == nil || !db.Retryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) attempt(fn func(*sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(nil); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) Accounts() *AccountStore { return &AccountStore{s: s} }
func (s *Store) Ledger() *LedgerStore    { return &LedgerStore{s: s} }
func (s *Store) Audit() *AuditStore      { return &AuditStore{s: s} }
func (s *Store) Users() *UserStore       { return &UserStore{s: s} }
func (s *Store) Promos() *PromoStore     { return &PromoStore{s: s} }
func (s *Store) Groups() *GroupStore     { return &GroupStore{s: s} }

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func key(parts ...string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\x00"
		}
		out += p
	}
	return out
}

func sortByTime[T any](items []T, at func(T) time.Time, seq func(T) int64, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := at(items[i]), at(items[j])
		if !ti.Equal(tj) {
			if desc {
				return ti.After(tj)
			}
			return ti.Before(tj)
		}
		if desc {
			return seq(items[i]) > seq(items[j])
		}
		return seq(items[i]) < seq(items[j])
	})
}
