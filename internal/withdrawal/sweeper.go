package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/processor"
)

const sweepBatch = 100

// SweepStale resolves withdrawals that have not moved for longer than grace.
// Ones whose initiation outcome was never learned are looked up by reference;
// the rest by transfer code. OTPs left unanswered past the expiry fail the
// withdrawal and release the reserved funds.
func (s *Service) SweepStale(ctx context.Context, grace time.Duration) (int, error) {
	stale, err := s.store.StaleWithdrawals(ctx, time.Now().UTC().Add(-grace), sweepBatch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, tx := range stale {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		done, err := s.resolve(ctx, tx)
		if err != nil {
			s.logger.Warn("stale withdrawal sweep failed", "reference", tx.Reference, "error", err)
			continue
		}
		if done {
			resolved++
		}
	}
	return resolved, nil
}

func (s *Service) resolve(ctx context.Context, tx ledger.Transaction) (bool, error) {
	var (
		tr  processor.Transfer
		err error
	)
	if tx.TransferCode == "" {
		tr, err = s.payouts.VerifyTransfer(ctx, tx.Reference)
		if errors.Is(err, processor.ErrNotFound) {
			// The processor never saw the payout.
			_, err = s.store.FailWithdrawal(ctx, tx.Reference, "payout was never initiated")
			return err == nil, err
		}
	} else {
		tr, err = s.payouts.TransferStatus(ctx, tx.TransferCode)
	}
	if err != nil {
		return false, err
	}

	if tr.Status == processor.TransferOTP && tx.Status == ledger.StatusAwaitingOTP &&
		time.Since(tx.UpdatedAt) > s.otpExpiry {
		failed, err := s.store.FailWithdrawal(ctx, tx.Reference, "otp expired")
		if err != nil {
			return false, err
		}
		s.notifyFailed(ctx, failed)
		return true, nil
	}

	settled, err := s.settle(ctx, tx, tr)
	if err != nil {
		return false, err
	}
	return settled.Status != tx.Status, nil
}
