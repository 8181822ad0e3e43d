package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/ledgerpay/internal/idempotency"
	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/metrics"
	"github.com/congo-pay/ledgerpay/internal/money"
	"github.com/congo-pay/ledgerpay/internal/notification"
	"github.com/congo-pay/ledgerpay/internal/processor"
	"github.com/congo-pay/ledgerpay/internal/reference"
)

const (
	guardScope         = "withdrawal"
	DefaultOTPAttempts = 3
	DefaultOTPExpiry   = 30 * time.Minute
)

var (
	// ErrOTPInvalid is returned when the processor rejects the OTP. The
	// withdrawal stays awaiting_otp until the attempt budget runs out.
	ErrOTPInvalid = errors.New("invalid otp")
	// ErrPayoutInitiationFailed means the processor definitely did not start
	// the payout. Any reservation made for it has been released.
	ErrPayoutInitiationFailed = errors.New("payout initiation failed")
)

// Store is the subset of the ledger the withdrawal flow needs.
type Store interface {
	Wallet(ctx context.Context, ownerID string) (ledger.Wallet, error)
	Credit(ctx context.Context, ownerID string, amount int64, reference, note string) (ledger.PostingResult, error)
	OpenWithdrawal(ctx context.Context, input ledger.WithdrawalInput) (ledger.PostingResult, error)
	AttachTransferCode(ctx context.Context, reference, transferCode string, status ledger.Status) (ledger.Transaction, error)
	FinalizeWithdrawal(ctx context.Context, transferCode string) (ledger.PostingResult, error)
	FailWithdrawal(ctx context.Context, reference, reason string) (ledger.Transaction, error)
	RecordOTPFailure(ctx context.Context, transferCode string, maxAttempts int) (ledger.Transaction, error)
	StaleWithdrawals(ctx context.Context, olderThan time.Time, limit int) ([]ledger.Transaction, error)
	FlagForReview(ctx context.Context, reference, note string) (ledger.Transaction, error)
	TransactionByReference(ctx context.Context, reference string) (ledger.Transaction, error)
	TransactionByTransferCode(ctx context.Context, transferCode string) (ledger.Transaction, error)
}

// Recipients resolves and caches payout recipients on users.
type Recipients interface {
	Get(ctx context.Context, id string) (identity.User, error)
	SaveRecipientCode(ctx context.Context, userID, code string) (string, error)
}

// Options carries the tunables and optional collaborators of the service.
type Options struct {
	Guard          *idempotency.Guard
	Notifier       notification.Notifier
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	MaxOTPAttempts int
	OTPExpiry      time.Duration
}

// Service runs the OTP-gated withdrawal state machine:
// requested -> awaiting_otp -> (pending ->) completed, with failed reachable
// from every non-terminal state.
type Service struct {
	store       Store
	payouts     processor.Payouts
	recipients  Recipients
	guard       *idempotency.Guard
	notifier    notification.Notifier
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxAttempts int
	otpExpiry   time.Duration
}

// NewService builds a withdrawal service.
func NewService(store Store, payouts processor.Payouts, recipients Recipients, opts Options) (*Service, error) {
	if store == nil || payouts == nil || recipients == nil {
		return nil, fmt.Errorf("withdrawal store, payouts and recipients are required")
	}
	s := &Service{
		store:       store,
		payouts:     payouts,
		recipients:  recipients,
		guard:       opts.Guard,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxOTPAttempts,
		otpExpiry:   opts.OTPExpiry,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultOTPAttempts
	}
	if s.otpExpiry <= 0 {
		s.otpExpiry = DefaultOTPExpiry
	}
	return s, nil
}

// Withdrawal is the client-facing view of a withdrawal transaction.
type Withdrawal struct {
	Reference     string        `json:"reference"`
	TransferCode  string        `json:"transfer_code,omitempty"`
	Status        ledger.Status `json:"status"`
	Amount        int64         `json:"amount"`
	Balance       int64         `json:"balance"`
	Available     int64         `json:"available"`
	RequiresOTP   bool          `json:"requires_otp"`
	AttemptsLeft  int           `json:"otp_attempts_left,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// RequestInput captures a withdrawal request.
type RequestInput struct {
	OwnerID string
	Amount  int64
	Reason  string
}

// Request reserves the amount, starts the payout with the processor and
// returns the transfer code the OTP must be presented against. The balance
// itself is only debited once the payout completes.
func (s *Service) Request(ctx context.Context, input RequestInput) (Withdrawal, error) {
	if input.Amount <= 0 {
		return Withdrawal{}, ledger.ErrInvalidAmount
	}
	w, err := s.store.Wallet(ctx, input.OwnerID)
	if errors.Is(err, ledger.ErrWalletNotFound) || (err == nil && w.Available() < input.Amount) {
		return Withdrawal{}, ledger.ErrInsufficientFunds
	}
	if err != nil {
		return Withdrawal{}, err
	}

	recipient, err := s.ensureRecipient(ctx, input.OwnerID)
	if err != nil {
		return Withdrawal{}, err
	}

	reason := input.Reason
	if reason == "" {
		reason = "wallet withdrawal"
	}
	ref := reference.New(reference.Withdrawal)
	opened, err := s.store.OpenWithdrawal(ctx, ledger.WithdrawalInput{
		OwnerID:   input.OwnerID,
		Amount:    input.Amount,
		Reference: ref,
		Recipient: ledger.External(recipient),
		Note:      reason,
	})
	s.metrics.ObserveLedgerOp("withdrawal_open", err)
	if err != nil {
		return Withdrawal{}, err
	}

	tr, err := s.payouts.InitiateTransfer(ctx, recipient, input.Amount, ref, reason)
	switch {
	case errors.Is(err, processor.ErrOutcomeUnknown):
		// Left in requested; the sweeper resolves it by reference.
		s.logger.Warn("payout initiation outcome unknown", "reference", ref, "owner_id", input.OwnerID, "error", err)
		return s.view(ctx, opened.Transaction), err
	case err != nil:
		s.logger.Warn("payout initiation failed", "reference", ref, "owner_id", input.OwnerID, "error", err)
		if _, ferr := s.store.FailWithdrawal(ctx, ref, "payout initiation failed"); ferr != nil {
			return Withdrawal{}, fmt.Errorf("release withdrawal %s: %w", ref, ferr)
		}
		return Withdrawal{}, fmt.Errorf("%w: %v", ErrPayoutInitiationFailed, err)
	}

	tx, err := s.settle(ctx, opened.Transaction, tr)
	if err != nil {
		return Withdrawal{}, err
	}
	s.logger.Info("withdrawal requested", "reference", ref, "transfer_code", tx.TransferCode, "status", tx.Status, "amount", input.Amount)
	return s.view(ctx, tx), nil
}

// Confirm submits the OTP for the withdrawal identified by transferCode.
// Repeating a confirmation that already succeeded returns the recorded
// outcome without debiting again.
func (s *Service) Confirm(ctx context.Context, ownerID, transferCode, otp string) (Withdrawal, error) {
	tx, err := s.owned(ctx, ownerID, transferCode)
	if err != nil {
		return Withdrawal{}, err
	}
	if tx.Status == ledger.StatusCompleted {
		return s.view(ctx, tx), nil
	}

	out, _, err := idempotency.Run(ctx, s.guard, guardScope, transferCode, func(ctx context.Context) (Withdrawal, error) {
		return s.confirm(ctx, transferCode, otp)
	})
	return out, err
}

func (s *Service) confirm(ctx context.Context, transferCode, otp string) (Withdrawal, error) {
	tx, err := s.store.TransactionByTransferCode(ctx, transferCode)
	if err != nil {
		return Withdrawal{}, err
	}
	switch tx.Status {
	case ledger.StatusCompleted, ledger.StatusPending:
		return s.view(ctx, tx), nil
	case ledger.StatusAwaitingOTP:
	default:
		return s.view(ctx, tx), fmt.Errorf("%w: withdrawal is %s", ledger.ErrStateConflict, tx.Status)
	}

	tr, err := s.payouts.FinalizeTransfer(ctx, transferCode, otp)
	s.metrics.ObserveLedgerOp("withdrawal_finalize", err)
	switch {
	case errors.Is(err, processor.ErrOTPRejected):
		updated, rerr := s.store.RecordOTPFailure(ctx, transferCode, s.maxAttempts)
		if rerr != nil {
			return Withdrawal{}, rerr
		}
		if updated.Status == ledger.StatusFailed {
			s.logger.Warn("withdrawal failed after otp attempts", "reference", updated.Reference, "attempts", updated.OTPAttempts)
			s.notifyFailed(ctx, updated)
			return s.view(ctx, updated), fmt.Errorf("%w: no attempts left, withdrawal failed", ErrOTPInvalid)
		}
		return s.view(ctx, updated), fmt.Errorf("%w: %d attempts left", ErrOTPInvalid, s.maxAttempts-updated.OTPAttempts)
	case err != nil:
		// Finalize may or may not have gone through; ask for the transfer's state.
		status, perr := s.payouts.TransferStatus(ctx, transferCode)
		if perr != nil || !status.Status.Final() {
			s.logger.Warn("withdrawal finalize unresolved", "transfer_code", transferCode, "error", err, "poll_error", perr)
			return s.view(ctx, tx), err
		}
		tr = status
	}

	settled, err := s.settle(ctx, tx, tr)
	if err != nil {
		return Withdrawal{}, err
	}
	return s.view(ctx, settled), nil
}

// ApplyTransferStatus applies a transfer outcome reported by the processor
// out of band (webhook). Either reference or transferCode may be empty.
func (s *Service) ApplyTransferStatus(ctx context.Context, ref, transferCode string, state processor.TransferState) (Withdrawal, error) {
	var (
		tx  ledger.Transaction
		err error
	)
	if ref != "" {
		tx, err = s.store.TransactionByReference(ctx, ref)
	} else {
		err = ledger.ErrTransactionNotFound
	}
	if errors.Is(err, ledger.ErrTransactionNotFound) && transferCode != "" {
		tx, err = s.store.TransactionByTransferCode(ctx, transferCode)
	}
	if err != nil {
		return Withdrawal{}, err
	}
	if tx.Type != ledger.TypeWithdrawal {
		return Withdrawal{}, ledger.ErrTransactionNotFound
	}
	settled, err := s.settle(ctx, tx, processor.Transfer{TransferCode: transferCode, Reference: tx.Reference, Status: state})
	if err != nil {
		return Withdrawal{}, err
	}
	return s.view(ctx, settled), nil
}

// Status returns the caller's withdrawal identified by transferCode or reference.
func (s *Service) Status(ctx context.Context, ownerID, handle string) (Withdrawal, error) {
	tx, err := s.owned(ctx, ownerID, handle)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		tx, err = s.store.TransactionByReference(ctx, handle)
		if err == nil && (tx.Type != ledger.TypeWithdrawal || !tx.Sender.IsUser(ownerID)) {
			err = ledger.ErrTransactionNotFound
		}
	}
	if err != nil {
		return Withdrawal{}, err
	}
	return s.view(ctx, tx), nil
}

func (s *Service) owned(ctx context.Context, ownerID, transferCode string) (ledger.Transaction, error) {
	tx, err := s.store.TransactionByTransferCode(ctx, transferCode)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.Type != ledger.TypeWithdrawal || !tx.Sender.IsUser(ownerID) {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

// settle moves tx to match the processor's view of the transfer. Every branch
// is safe to repeat.
func (s *Service) settle(ctx context.Context, tx ledger.Transaction, tr processor.Transfer) (ledger.Transaction, error) {
	code := tx.TransferCode
	if code == "" {
		code = tr.TransferCode
	}

	var (
		out ledger.Transaction
		err error
	)
	switch tr.Status {
	case processor.TransferSuccess:
		if tx.Status == ledger.StatusFailed {
			return s.flagMismatch(ctx, tx, tr, reviewSettledAfterFailure)
		}
		if tx.TransferCode == "" {
			if code == "" {
				return tx, fmt.Errorf("%w: processor reported success without a transfer code", ledger.ErrMissingReference)
			}
			out, err = s.store.AttachTransferCode(ctx, tx.Reference, code, ledger.StatusCompleted)
		} else {
			var posting ledger.PostingResult
			posting, err = s.store.FinalizeWithdrawal(ctx, code)
			out = posting.Transaction
		}
		if err == nil {
			s.logger.Info("withdrawal completed", "reference", tx.Reference, "transfer_code", code, "amount", tx.Amount)
			s.notifySettled(ctx, out)
		}
	case processor.TransferFailed:
		if tx.Status == ledger.StatusCompleted {
			return s.flagMismatch(ctx, tx, tr, reviewFailedAfterCompletion)
		}
		out, err = s.store.FailWithdrawal(ctx, tx.Reference, "payout failed at processor")
		if err == nil {
			s.notifyFailed(ctx, out)
		}
	case processor.TransferReversed:
		if tx.Status == ledger.StatusCompleted {
			return s.refund(ctx, tx)
		}
		out, err = s.store.FailWithdrawal(ctx, tx.Reference, "payout reversed by processor")
		if err == nil {
			s.notifyFailed(ctx, out)
		}
	case processor.TransferOTP:
		if tx.Status != ledger.StatusRequested || code == "" {
			return tx, nil
		}
		out, err = s.store.AttachTransferCode(ctx, tx.Reference, code, ledger.StatusAwaitingOTP)
	default:
		// Anything not final (pending, queued, received, processing) means
		// the processor holds the payout.
		if tr.Status != processor.TransferPending {
			s.logger.Warn("unrecognised transfer state treated as pending", "reference", tx.Reference, "state", tr.Status)
		}
		if tx.Status == ledger.StatusPending || tx.Status.Terminal() || code == "" {
			return tx, nil
		}
		out, err = s.store.AttachTransferCode(ctx, tx.Reference, code, ledger.StatusPending)
	}

	if errors.Is(err, ledger.ErrDuplicateReference) {
		return out, nil
	}
	return out, err
}

const (
	reviewSettledAfterFailure   = "processor settled a payout already failed locally"
	reviewFailedAfterCompletion = "processor failed a payout already completed locally"
)

// flagMismatch records a processor outcome that contradicts a terminal local
// status. Funds are not moved; the withdrawal is marked for manual
// reconciliation instead.
func (s *Service) flagMismatch(ctx context.Context, tx ledger.Transaction, tr processor.Transfer, note string) (ledger.Transaction, error) {
	s.logger.Error("withdrawal settlement mismatch",
		"reference", tx.Reference,
		"transfer_code", tr.TransferCode,
		"local_status", tx.Status,
		"processor_status", tr.Status,
		"amount", tx.Amount,
	)
	s.metrics.ObserveSettlementMismatch(string(tr.Status))
	out, err := s.store.FlagForReview(ctx, tx.Reference, note)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return out, nil
	}
	if err != nil {
		return tx, fmt.Errorf("flag withdrawal for review: %w", err)
	}
	return out, nil
}

// refund credits back a completed withdrawal the processor later reversed.
func (s *Service) refund(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	ownerID, ok := tx.Sender.UserID()
	if !ok {
		return tx, ledger.ErrStateConflict
	}
	_, err := s.store.Credit(ctx, ownerID, tx.Amount, tx.Reference+"-REVERSAL", "reversed withdrawal "+tx.Reference)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		return tx, fmt.Errorf("refund reversed withdrawal: %w", err)
	}
	if err == nil {
		s.logger.Warn("completed withdrawal reversed, funds returned", "reference", tx.Reference, "amount", tx.Amount)
	}
	return tx, nil
}

func (s *Service) ensureRecipient(ctx context.Context, ownerID string) (string, error) {
	user, err := s.recipients.Get(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if user.RecipientCode != "" {
		return user.RecipientCode, nil
	}
	if user.PayoutAccount == nil {
		return "", identity.ErrNoPayoutAccount
	}

	code, err := s.payouts.CreateRecipient(ctx, processor.PayoutDetails{
		Name:          user.PayoutAccount.AccountName,
		AccountNumber: user.PayoutAccount.AccountNumber,
		BankCode:      user.PayoutAccount.BankCode,
	})
	if err != nil {
		return "", fmt.Errorf("%w: create recipient: %v", ErrPayoutInitiationFailed, err)
	}
	return s.recipients.SaveRecipientCode(ctx, ownerID, code)
}

func (s *Service) view(ctx context.Context, tx ledger.Transaction) Withdrawal {
	out := Withdrawal{
		Reference:     tx.Reference,
		TransferCode:  tx.TransferCode,
		Status:        tx.Status,
		Amount:        tx.Amount,
		RequiresOTP:   tx.Status == ledger.StatusAwaitingOTP,
		FailureReason: tx.FailureReason,
	}
	if out.RequiresOTP {
		out.AttemptsLeft = s.maxAttempts - tx.OTPAttempts
	}
	if ownerID, ok := tx.Sender.UserID(); ok {
		if w, err := s.store.Wallet(ctx, ownerID); err == nil {
			out.Balance = w.Balance
			out.Available = w.Available()
		}
	}
	return out
}

func (s *Service) notifySettled(ctx context.Context, tx ledger.Transaction) {
	ownerID, _ := tx.Sender.UserID()
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindWithdrawalSettled,
		Destination: ownerID,
		Body:        fmt.Sprintf("Your withdrawal of %s %s has been sent", money.Format(tx.Amount), money.Currency),
	})
}

func (s *Service) notifyFailed(ctx context.Context, tx ledger.Transaction) {
	ownerID, _ := tx.Sender.UserID()
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindWithdrawalFailed,
		Destination: ownerID,
		Body:        fmt.Sprintf("Your withdrawal of %s %s failed: %s", money.Format(tx.Amount), money.Currency, tx.FailureReason),
	})
}
