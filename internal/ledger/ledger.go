// Package ledger holds the wallet domain vocabulary shared by stores, services
// and handlers: entry kinds and their sign convention, entry statuses, and the
// error kinds every operation reports.
package ledger

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindDeposit           Kind = "DEPOSIT"
	KindWithdraw          Kind = "WITHDRAW"
	KindAdjust            Kind = "ADJUST"
	KindPromoLock         Kind = "PROMO_LOCK"
	KindPromoPayout       Kind = "PROMO_PAYOUT"
	KindGroupContribution Kind = "GROUP_CONTRIBUTION"
	KindGroupPayout       Kind = "GROUP_PAYOUT"
)

var kinds = map[Kind]struct{}{
	KindDeposit:           {},
	KindWithdraw:          {},
	KindAdjust:            {},
	KindPromoLock:         {},
	KindPromoPayout:       {},
	KindGroupContribution: {},
	KindGroupPayout:       {},
}

func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// IsDebit reports whether entries of this kind remove funds from the account.
// ADJUST has no fixed direction and reports false; its delta is carried on
// the entry itself.
func (k Kind) IsDebit() bool {
	switch k {
	case KindWithdraw, KindPromoLock, KindGroupContribution:
		return true
	default:
		return false
	}
}

// Delta converts a positive amount into the signed balance change for k.
func (k Kind) Delta(amount int64) int64 {
	if k.IsDebit() {
		return -amount
	}
	return amount
}

// Submittable kinds may be created as PENDING requests by account owners.
func (k Kind) Submittable() bool {
	return k == KindDeposit || k == KindWithdraw
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNotPending         = errors.New("entry is not pending")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyMember      = errors.New("already a member")
	ErrAlreadyContributed = errors.New("already contributed to round")
	ErrRoundClosed        = errors.New("round closed")
	ErrBelowMinimum       = errors.New("amount below promo minimum")
	ErrNoMatchingTier     = errors.New("no matching promo tier")
	ErrStoreConflict      = errors.New("store conflict")
	ErrNoChange           = errors.New("balance unchanged")

	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidKind              = errors.New("invalid entry kind")
	ErrInvalidName              = errors.New("invalid name")
	ErrNotFound                 = errors.New("not found")
	ErrNotMember                = errors.New("not a member")
	ErrNoContributions          = errors.New("round has no contributions")
	ErrPromoClosed              = errors.New("promo closed")
	ErrPayoutExceedsEntitlement = errors.New("payout exceeds entitlement")
	ErrDuplicateRequest         = errors.New("duplicate request in flight")
)

// ErrAlreadyResolved is reported when a transition targets an entry that has
// already reached a terminal status. It matches ErrNotPending under errors.Is.
var ErrAlreadyResolved = fmt.Errorf("%w: already resolved", ErrNotPending)

// Permanent reports whether err must not be retried automatically.
func Permanent(err error) bool {
	return err != nil && !errors.Is(err, ErrStoreConflict)
}
