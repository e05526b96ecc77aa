package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const sweepBatch = 100

type pendingExpirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// PendingSweeper periodically rejects PENDING entries older than ttl. A zero
// ttl disables it.
type PendingSweeper struct {
	approvals pendingExpirer
	ttl       time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewPendingSweeper(approvals *ApprovalService, ttl, interval time.Duration) *PendingSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PendingSweeper{
		approvals: approvals,
		ttl:       ttl,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *PendingSweeper) Enabled() bool {
	return s.ttl > 0
}

// Run sweeps every interval until ctx is done.
func (s *PendingSweeper) Run(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	log := zerolog.Ctx(ctx)
	log.Info().Dur("ttl", s.ttl).Dur("interval", s.interval).Msg("pending sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pending sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pending sweep failed")
			}
		}
	}
}

// SweepOnce expires stale entries in batches until none are left.
func (s *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl)
	total := 0
	for {
		n, err := s.approvals.ExpirePending(ctx, cutoff, sweepBatch)
		total += n
		if err != nil {
			return total, err
		}
		if n < sweepBatch {
			break
		}
	}
	if total > 0 {
		zerolog.Ctx(ctx).Info().Int("expired", total).Msg("pending entries expired")
	}
	return total, nil
}
