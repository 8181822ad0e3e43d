package deposit

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/ledgerpay/internal/processor"
)

const sweepBatch = 100

// SweepPending re-verifies payments that have been pending for longer than
// grace. Payments the processor has not confirmed stay pending.
func (s *Service) SweepPending(ctx context.Context, grace time.Duration) (int, error) {
	pending, err := s.store.PendingPayments(ctx, time.Now().UTC().Add(-grace), sweepBatch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		res, err := s.Reconcile(ctx, p.Reference)
		switch {
		case err == nil:
			if !res.AlreadyApplied {
				resolved++
			}
		case errors.Is(err, ErrVerificationFailed), errors.Is(err, processor.ErrOutcomeUnknown):
			s.logger.Debug("pending payment still unconfirmed", "reference", p.Reference, "error", err)
		default:
			s.logger.Warn("pending payment sweep failed", "reference", p.Reference, "error", err)
		}
	}
	return resolved, nil
}
