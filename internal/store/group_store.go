package store

import (
	"context"
	"time"

	"wallet/internal/db"
	"wallet/internal/ledger"
	"wallet/internal/models"
)

const (
	memberConstraint       = "group_members_pkey"
	contributionConstraint = "group_contributions_round_account_key"
)

type GroupStore struct {
	db DB
}

func NewGroupStore(db DB) *GroupStore {
	return &GroupStore{db: db}
}

func (s *GroupStore) CreatePool(ctx context.Context, tx Execer, pool models.GroupPool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO group_pools (id, name, owner_account_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, pool.ID, pool.Name, pool.OwnerAccountID, pool.CreatedAt)
	return err
}

func (s *GroupStore) GetPool(ctx context.Context, q Getter, poolID string) (models.GroupPool, error) {
	var row models.GroupPool
	err := q.GetContext(ctx, &row, `
		SELECT id, name, owner_account_id, created_at
		FROM group_pools
		WHERE id = $1
	`, poolID)
	if err != nil {
		return models.GroupPool{}, notFound(err, "group pool")
	}
	return row, nil
}

func (s *GroupStore) AddMember(ctx context.Context, tx Execer, member models.GroupMember) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (pool_id, account_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, member.PoolID, member.AccountID, member.Role, member.JoinedAt)
	if db.IsUniqueViolation(err, memberConstraint) {
		return ledger.ErrAlreadyMember
	}
	return err
}

func (s *GroupStore) GetMember(ctx context.Context, q Getter, poolID, accountID string) (models.GroupMember, error) {
	var row models.GroupMember
	err := q.GetContext(ctx, &row, `
		SELECT pool_id, account_id, role, joined_at
		FROM group_members
		WHERE pool_id = $1 AND account_id = $2
	`, poolID, accountID)
	if err != nil {
		return models.GroupMember{}, notFound(err, "group member")
	}
	return row, nil
}

func (s *GroupStore) ListMembers(ctx context.Context, poolID string) ([]models.GroupMember, error) {
	var rows []models.GroupMember
	err := s.db.SelectContext(ctx, &rows, `
		SELECT pool_id, account_id, role, joined_at
		FROM group_members
		WHERE pool_id = $1
		ORDER BY joined_at ASC
	`, poolID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GroupStore) NextRoundNumber(ctx context.Context, q Getter, poolID string) (int, error) {
	var next int
	err := q.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(number), 0) + 1
		FROM group_rounds
		WHERE pool_id = $1
	`, poolID)
	return next, err
}

func (s *GroupStore) CreateRound(ctx context.Context, tx Execer, round models.GroupRound) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO group_rounds (id, pool_id, number, contribution_amount, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, round.ID, round.PoolID, round.Number, round.ContributionAmount, round.DueAt, round.CreatedAt)
	return err
}

func (s *GroupStore) GetRound(ctx context.Context, q Getter, poolID, roundID string) (models.GroupRound, error) {
	var row models.GroupRound
	err := q.GetContext(ctx, &row, `
		SELECT id, pool_id, number, contribution_amount, due_at, winner_account_id,
		       payout_amount, payout_entry_id, created_at, closed_at
		FROM group_rounds
		WHERE id = $1 AND pool_id = $2
	`, roundID, poolID)
	if err != nil {
		return models.GroupRound{}, notFound(err, "group round")
	}
	return row, nil
}

func (s *GroupStore) AddContribution(ctx context.Context, tx Execer, c models.GroupContribution) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO group_contributions (id, round_id, account_id, entry_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.RoundID, c.AccountID, c.EntryID, c.Amount, c.CreatedAt)
	if db.IsUniqueViolation(err, contributionConstraint) {
		return ledger.ErrAlreadyContributed
	}
	return err
}

func (s *GroupStore) HasContributed(ctx context.Context, q Getter, roundID, accountID string) (bool, error) {
	var exists bool
	err := q.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM group_contributions WHERE round_id = $1 AND account_id = $2
		)
	`, roundID, accountID)
	return exists, err
}

// Pot is the sum of all contributions to the round.
func (s *GroupStore) Pot(ctx context.Context, q Getter, roundID string) (int64, error) {
	var pot int64
	err := q.GetContext(ctx, &pot, `
		SELECT COALESCE(SUM(amount), 0)
		FROM group_contributions
		WHERE round_id = $1
	`, roundID)
	return pot, err
}

// CloseRound records the winner and payout. A round that is already closed
// returns ledger.ErrRoundClosed.
func (s *GroupStore) CloseRound(ctx context.Context, tx Execer, roundID, winnerAccountID string, payout int64, payoutEntryID string, closedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE group_rounds
		SET winner_account_id = $1, payout_amount = $2, payout_entry_id = $3, closed_at = $4
		WHERE id = $5 AND closed_at IS NULL
	`, winnerAccountID, payout, payoutEntryID, closedAt, roundID)
	if err != nil {
		return err
	}
	return expectOne(res, ledger.ErrRoundClosed)
}
