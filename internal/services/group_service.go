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
	"wallet/internal/ledger"
	"wallet/internal/models"
)

// GroupService runs rotating-savings pools. Contributions and payouts are
// ordinary ledger entries on the members' accounts.
type GroupService struct {
	ledger *LedgerService
	groups GroupStore
	audit  AuditStore
	authz  Authorizer
}

func NewGroupService(ledgerService *LedgerService, groups GroupStore, audit AuditStore, authz Authorizer) *GroupService {
	return &GroupService{ledger: ledgerService, groups: groups, audit: audit, authz: authz}
}

// PoolView is a pool with its current membership.
type PoolView struct {
	models.GroupPool
	Members []models.GroupMember `json:"members"`
}

func (s *GroupService) CreatePool(ctx context.Context, owner auth.Identity, name string) (models.GroupPool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.GroupPool{}, ledger.ErrInvalidName
	}
	account, err := s.ledger.GetOrCreateAccount(ctx, owner)
	if err != nil {
		return models.GroupPool{}, err
	}
	now := s.ledger.now()
	pool := models.GroupPool{ID: uuid.NewString(), Name: name, OwnerAccountID: account.ID, CreatedAt: now}
	err = s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.groups.CreatePool(ctx, tx, pool); err != nil {
			return err
		}
		return s.groups.AddMember(ctx, tx, models.GroupMember{
			PoolID:    pool.ID,
			AccountID: account.ID,
			Role:      models.RoleOwner,
			JoinedAt:  now,
		})
	})
	if err != nil {
		return models.GroupPool{}, err
	}
	zerolog.Ctx(ctx).Info().Str("pool_id", pool.ID).Str("owner_account_id", account.ID).Msg("group pool created")
	return pool, nil
}

func (s *GroupService) GetPool(ctx context.Context, poolID string) (PoolView, error) {
	var pool models.GroupPool
	err := s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		pool, err = s.groups.GetPool(ctx, tx, poolID)
		return err
	})
	if err != nil {
		return PoolView{}, err
	}
	members, err := s.groups.ListMembers(ctx, poolID)
	if err != nil {
		return PoolView{}, err
	}
	return PoolView{GroupPool: pool, Members: members}, nil
}

func (s *GroupService) Join(ctx context.Context, identity auth.Identity, poolID string) (models.GroupMember, error) {
	account, err := s.ledger.GetOrCreateAccount(ctx, identity)
	if err != nil {
		return models.GroupMember{}, err
	}
	member := models.GroupMember{
		PoolID:    poolID,
		AccountID: account.ID,
		Role:      models.RoleMember,
		JoinedAt:  s.ledger.now(),
	}
	err = s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.groups.GetPool(ctx, tx, poolID); err != nil {
			return err
		}
		return s.groups.AddMember(ctx, tx, member)
	})
	if err != nil {
		return models.GroupMember{}, err
	}
	return member, nil
}

// OpenRound starts the next round of the pool. Only the owner may open one.
func (s *GroupService) OpenRound(ctx context.Context, actor auth.Identity, poolID string, contribution int64, dueAt time.Time) (models.GroupRound, error) {
	if contribution <= 0 {
		return models.GroupRound{}, ledger.ErrInvalidAmount
	}
	account, err := s.ledger.accounts.FindByUser(ctx, actor.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		logForbidden(ctx, actor, "group.open_round")
		return models.GroupRound{}, ledger.ErrForbidden
	}
	if err != nil {
		return models.GroupRound{}, err
	}

	var round models.GroupRound
	err = s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.requireOwner(ctx, tx, actor, poolID, account.ID, "group.open_round"); err != nil {
			return err
		}
		number, err := s.groups.NextRoundNumber(ctx, tx, poolID)
		if err != nil {
			return err
		}
		round = models.GroupRound{
			ID:                 uuid.NewString(),
			PoolID:             poolID,
			Number:             number,
			ContributionAmount: contribution,
			DueAt:              dueAt.UTC(),
			CreatedAt:          s.ledger.now(),
		}
		return s.groups.CreateRound(ctx, tx, round)
	})
	if err != nil {
		return models.GroupRound{}, err
	}
	return round, nil
}

// Contribute debits the round's fixed amount from the caller, once per round.
func (s *GroupService) Contribute(ctx context.Context, identity auth.Identity, poolID, roundID string) (models.GroupContribution, error) {
	account, err := s.ledger.accounts.FindByUser(ctx, identity.UserID)
	hasAccount := err == nil
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return models.GroupContribution{}, err
	}

	var (
		contribution models.GroupContribution
		change       balanceChange
	)
	err = s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.groups.GetPool(ctx, tx, poolID); err != nil {
			return err
		}
		if !hasAccount {
			return ledger.ErrNotMember
		}
		if _, err := s.groups.GetMember(ctx, tx, poolID, account.ID); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return ledger.ErrNotMember
			}
			return err
		}
		round, err := s.groups.GetRound(ctx, tx, poolID, roundID)
		if err != nil {
			return err
		}
		if round.Closed() {
			return ledger.ErrRoundClosed
		}
		done, err := s.groups.HasContributed(ctx, tx, roundID, account.ID)
		if err != nil {
			return err
		}
		if done {
			return ledger.ErrAlreadyContributed
		}

		entry, updated, err := s.ledger.Record(ctx, tx, RecordInput{
			AccountID:  account.ID,
			Kind:       ledger.KindGroupContribution,
			Amount:     round.ContributionAmount,
			Status:     ledger.StatusApproved,
			SystemNote: fmt.Sprintf("round %d", round.Number),
		})
		if err != nil {
			return err
		}
		contribution = models.GroupContribution{
			ID:        uuid.NewString(),
			RoundID:   roundID,
			AccountID: account.ID,
			EntryID:   entry.ID,
			Amount:    round.ContributionAmount,
			CreatedAt: entry.CreatedAt,
		}
		change = balanceChange{account: updated, entry: entry}
		return s.groups.AddContribution(ctx, tx, contribution)
	})
	if err != nil {
		return models.GroupContribution{}, err
	}
	s.ledger.notify(change)
	return contribution, nil
}

// AssignWinnerAndPayout credits the round's pot to winnerAccountID and
// closes the round. override replaces the pot as the payout amount; an
// override above the pot additionally requires an admin.
func (s *GroupService) AssignWinnerAndPayout(ctx context.Context, actor auth.Identity, poolID, roundID, winnerAccountID string, override *int64) (models.GroupRound, error) {
	if override != nil && *override <= 0 {
		return models.GroupRound{}, ledger.ErrInvalidAmount
	}
	account, err := s.ledger.accounts.FindByUser(ctx, actor.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		logForbidden(ctx, actor, "group.payout")
		return models.GroupRound{}, ledger.ErrForbidden
	}
	if err != nil {
		return models.GroupRound{}, err
	}

	var (
		round  models.GroupRound
		change balanceChange
	)
	err = s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		change = balanceChange{}
		if err := s.requireOwner(ctx, tx, actor, poolID, account.ID, "group.payout"); err != nil {
			return err
		}
		var err error
		round, err = s.groups.GetRound(ctx, tx, poolID, roundID)
		if err != nil {
			return err
		}
		if round.Closed() {
			return ledger.ErrRoundClosed
		}
		if _, err := s.groups.GetMember(ctx, tx, poolID, winnerAccountID); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return ledger.ErrNotMember
			}
			return err
		}
		pot, err := s.groups.Pot(ctx, tx, roundID)
		if err != nil {
			return err
		}
		payout := pot
		if override != nil {
			if *override > pot {
				if err := s.authz.RequireAdmin(ctx, actor, "group.payout_override"); err != nil {
					return err
				}
			}
			payout = *override
		}
		if payout <= 0 {
			return ledger.ErrNoContributions
		}

		entry, updated, err := s.ledger.Record(ctx, tx, RecordInput{
			AccountID:  winnerAccountID,
			Kind:       ledger.KindGroupPayout,
			Amount:     payout,
			Status:     ledger.StatusApproved,
			SystemNote: fmt.Sprintf("round %d payout", round.Number),
			ResolvedBy: stringPtr(actor.UserID),
		})
		if err != nil {
			return err
		}
		closedAt := s.ledger.now()
		if err := s.groups.CloseRound(ctx, tx, roundID, winnerAccountID, payout, entry.ID, closedAt); err != nil {
			return err
		}
		round.WinnerAccountID = &winnerAccountID
		round.PayoutAmount = &payout
		round.PayoutEntryID = &entry.ID
		round.ClosedAt = &closedAt
		change = balanceChange{account: updated, entry: entry}
		return logAudit(ctx, s.audit, tx, actor.UserID, "group.payout", "group_round", roundID, map[string]any{
			"pool_id":  poolID,
			"winner":   winnerAccountID,
			"pot":      pot,
			"payout":   payout,
			"override": override != nil,
		})
	})
	if err != nil {
		return models.GroupRound{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("round_id", roundID).
		Str("winner_account_id", winnerAccountID).
		Int64("payout", *round.PayoutAmount).
		Msg("round paid out")
	s.ledger.notify(change)
	return round, nil
}

func (s *GroupService) requireOwner(ctx context.Context, tx *sqlx.Tx, actor auth.Identity, poolID, accountID, operation string) error {
	pool, err := s.groups.GetPool(ctx, tx, poolID)
	if err != nil {
		return err
	}
	if pool.OwnerAccountID != accountID {
		logForbidden(ctx, actor, operation)
		return ledger.ErrForbidden
	}
	return nil
}
