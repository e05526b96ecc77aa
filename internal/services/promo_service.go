package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"wallet/internal/auth"
	"wallet/internal/ledger"
	"wallet/internal/models"
	"wallet/internal/promo"
)

const notePromoRemainder = "promo resolved"

type PromoService struct {
	ledger *LedgerService
	promos PromoStore
	audit  AuditStore
	authz  Authorizer
	tiers  promo.Table
}

func NewPromoService(ledgerService *LedgerService, promos PromoStore, audit AuditStore, authz Authorizer, tiers promo.Table) *PromoService {
	return &PromoService{ledger: ledgerService, promos: promos, audit: audit, authz: authz, tiers: tiers}
}

// LockForPromo debits amount into a new promo on the caller's account. The
// tier is chosen before anything is written.
func (s *PromoService) LockForPromo(ctx context.Context, identity auth.Identity, amount int64) (models.Promo, error) {
	tier, err := s.tiers.Classify(amount)
	if err != nil {
		return models.Promo{}, err
	}
	account, err := s.ledger.GetOrCreateAccount(ctx, identity)
	if err != nil {
		return models.Promo{}, err
	}

	var (
		created models.Promo
		change  balanceChange
	)
	err = s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		entry, updated, err := s.ledger.Record(ctx, tx, RecordInput{
			AccountID:  account.ID,
			Kind:       ledger.KindPromoLock,
			Amount:     amount,
			Status:     ledger.StatusApproved,
			SystemNote: "promo tier " + tier.Name,
		})
		if err != nil {
			return err
		}
		now := s.ledger.now()
		created = models.Promo{
			ID:           uuid.NewString(),
			AccountID:    account.ID,
			LockEntryID:  entry.ID,
			Tier:         tier.Name,
			Principal:    amount,
			BonusPercent: tier.Percent().String(),
			BonusAmount:  tier.Bonus(amount),
			Status:       models.PromoActive,
			StartsAt:     now,
			MaturesAt:    now.AddDate(0, 0, tier.TermDays),
			CreatedAt:    now,
		}
		change = balanceChange{account: updated, entry: entry}
		return s.promos.Insert(ctx, tx, created)
	})
	if err != nil {
		return models.Promo{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("promo_id", created.ID).
		Str("tier", created.Tier).
		Int64("principal", created.Principal).
		Msg("promo locked")
	s.ledger.notify(change)
	return created, nil
}

// PayoutIncrement credits part of the promo's entitlement back to its
// account. The promo closes once everything has been paid.
func (s *PromoService) PayoutIncrement(ctx context.Context, actor auth.Identity, promoID string, amount int64, note string) (models.Promo, error) {
	if err := s.authz.RequireAdmin(ctx, actor, "promo.payout"); err != nil {
		return models.Promo{}, err
	}
	if amount <= 0 {
		return models.Promo{}, ledger.ErrInvalidAmount
	}
	return s.pay(ctx, actor, promoID, note, "promo.payout", func(p models.Promo) (int64, error) {
		if amount > p.Entitlement()-p.PaidOut {
			return 0, ledger.ErrPayoutExceedsEntitlement
		}
		return amount, nil
	})
}

// ResolveBonus pays whatever remains of the entitlement and closes the promo.
func (s *PromoService) ResolveBonus(ctx context.Context, actor auth.Identity, promoID, note string) (models.Promo, error) {
	if err := s.authz.RequireAdmin(ctx, actor, "promo.resolve"); err != nil {
		return models.Promo{}, err
	}
	return s.pay(ctx, actor, promoID, note, "promo.resolve", func(p models.Promo) (int64, error) {
		return p.Entitlement() - p.PaidOut, nil
	})
}

func (s *PromoService) pay(ctx context.Context, actor auth.Identity, promoID, note, action string, amountFor func(models.Promo) (int64, error)) (models.Promo, error) {
	var (
		result models.Promo
		change balanceChange
	)
	err := s.ledger.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		change = balanceChange{}
		current, err := s.promos.Get(ctx, tx, promoID)
		if err != nil {
			return err
		}
		if current.Status != models.PromoActive {
			return ledger.ErrPromoClosed
		}
		amount, err := amountFor(current)
		if err != nil {
			return err
		}

		now := s.ledger.now()
		paidOut := current.PaidOut + amount
		var closedAt *time.Time
		if paidOut == current.Entitlement() {
			closedAt = &now
		}
		if amount > 0 {
			systemNote := ""
			if closedAt != nil {
				systemNote = notePromoRemainder
			}
			entry, updated, err := s.ledger.Record(ctx, tx, RecordInput{
				AccountID:  current.AccountID,
				Kind:       ledger.KindPromoPayout,
				Amount:     amount,
				Status:     ledger.StatusApproved,
				AdminNote:  note,
				SystemNote: systemNote,
				ResolvedBy: stringPtr(actor.UserID),
			})
			if err != nil {
				return err
			}
			change = balanceChange{account: updated, entry: entry}
		}
		if err := s.promos.RecordPayout(ctx, tx, current.ID, current.PaidOut, paidOut, closedAt); err != nil {
			return err
		}

		result = current
		result.PaidOut = paidOut
		if closedAt != nil {
			result.Status = models.PromoCompleted
			result.ClosedAt = closedAt
		}
		return logAudit(ctx, s.audit, tx, actor.UserID, action, "promo", current.ID, map[string]any{
			"amount":   amount,
			"paid_out": paidOut,
			"closed":   closedAt != nil,
		})
	})
	if err != nil {
		return models.Promo{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("promo_id", promoID).
		Str("actor_id", actor.UserID).
		Int64("paid_out", result.PaidOut).
		Str("status", string(result.Status)).
		Msg("promo payout recorded")
	s.ledger.notify(change)
	return result, nil
}

func (s *PromoService) ListPromos(ctx context.Context, userID string) ([]models.Promo, error) {
	account, err := s.ledger.accounts.FindByUser(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return []models.Promo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.promos.ListByAccount(ctx, account.ID)
}

func (s *PromoService) Tiers() []promo.Tier {
	return s.tiers.Tiers()
}
