package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/ledgerpay/internal/idempotency"
	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/metrics"
	"github.com/congo-pay/ledgerpay/internal/money"
	"github.com/congo-pay/ledgerpay/internal/notification"
	"github.com/congo-pay/ledgerpay/internal/processor"
	"github.com/congo-pay/ledgerpay/internal/reference"
)

const guardScope = "deposit"

var (
	// ErrVerificationFailed means the processor did not confirm the payment,
	// or confirmed a different amount than was recorded.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrEmailRequired is returned when the payer has no email for the checkout.
	ErrEmailRequired = errors.New("email is required to initiate a deposit")
)

// Store is the subset of the ledger the deposit flow needs.
type Store interface {
	CreatePayment(ctx context.Context, payment ledger.Payment) (ledger.Payment, error)
	Payment(ctx context.Context, reference string) (ledger.Payment, error)
	ReconcilePayment(ctx context.Context, reference string) (ledger.PostingResult, error)
	PendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]ledger.Payment, error)
}

// Service coordinates hosted-checkout deposits: it opens a checkout with the
// processor and later turns the processor's confirmation into a wallet credit,
// exactly once per reference.
type Service struct {
	store       Store
	gateway     processor.Gateway
	guard       *idempotency.Guard
	notifier    notification.Notifier
	callbackURL string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Options carries the optional collaborators of the service.
type Options struct {
	Guard       *idempotency.Guard
	Notifier    notification.Notifier
	CallbackURL string
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// NewService builds a deposit service.
func NewService(store Store, gateway processor.Gateway, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("deposit store is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		gateway:     gateway,
		guard:       opts.Guard,
		notifier:    opts.Notifier,
		callbackURL: opts.CallbackURL,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// InitiateInput captures a deposit request.
type InitiateInput struct {
	OwnerID string
	Email   string
	Amount  int64
}

// Initiation is returned to the client, which redirects the payer to
// AuthorizationURL.
type Initiation struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Amount           int64  `json:"amount"`
}

// Result is the outcome of a reconciliation.
type Result struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	OwnerID       string `json:"owner_id"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance"`
	// AlreadyApplied is true when an earlier call credited the wallet.
	AlreadyApplied bool `json:"already_applied"`
}

// Initiate opens a checkout with the processor and records a pending payment.
// The wallet is not touched until the payment is reconciled.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (Initiation, error) {
	if input.Amount <= 0 {
		return Initiation{}, ledger.ErrInvalidAmount
	}
	if input.Email == "" {
		return Initiation{}, ErrEmailRequired
	}

	ref := reference.New(reference.Deposit)
	checkout, err := s.gateway.InitializePayment(ctx, input.Email, input.Amount, s.callbackURL, ref)
	s.metrics.ObserveLedgerOp("deposit_initiate", err)
	if err != nil {
		return Initiation{}, fmt.Errorf("initialize payment: %w", err)
	}
	if checkout.Reference != "" && checkout.Reference != ref {
		ref = checkout.Reference
	}

	if _, err := s.store.CreatePayment(ctx, ledger.Payment{
		Reference:        ref,
		OwnerID:          input.OwnerID,
		Amount:           input.Amount,
		AuthorizationURL: checkout.AuthorizationURL,
	}); err != nil {
		return Initiation{}, fmt.Errorf("record pending payment: %w", err)
	}

	s.logger.Info("deposit initiated", "reference", ref, "owner_id", input.OwnerID, "amount", input.Amount)
	return Initiation{Reference: ref, AuthorizationURL: checkout.AuthorizationURL, Amount: input.Amount}, nil
}

// Reconcile verifies reference with the processor and credits the wallet.
// Calling it again after success returns the original result.
func (s *Service) Reconcile(ctx context.Context, ref string) (Result, error) {
	res, _, err := idempotency.Run(ctx, s.guard, guardScope, ref, func(ctx context.Context) (Result, error) {
		return s.reconcile(ctx, ref, nil)
	})
	return res, err
}

// ApplyConfirmed reconciles a payment the processor has already confirmed
// through a signed webhook, without another verification round-trip.
func (s *Service) ApplyConfirmed(ctx context.Context, ref string, amount int64) (Result, error) {
	res, _, err := idempotency.Run(ctx, s.guard, guardScope, ref, func(ctx context.Context) (Result, error) {
		return s.reconcile(ctx, ref, &amount)
	})
	return res, err
}

func (s *Service) reconcile(ctx context.Context, ref string, confirmedAmount *int64) (Result, error) {
	payment, err := s.store.Payment(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	if payment.Status == ledger.PaymentCompleted {
		return s.apply(ctx, payment)
	}

	if confirmedAmount == nil {
		verification, err := s.gateway.VerifyPayment(ctx, ref)
		if err != nil {
			if errors.Is(err, processor.ErrRejected) || errors.Is(err, processor.ErrNotFound) {
				return Result{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
			}
			return Result{}, fmt.Errorf("verify payment: %w", err)
		}
		if !verification.Succeeded() {
			return Result{}, fmt.Errorf("%w: processor status %q", ErrVerificationFailed, verification.Status)
		}
		confirmedAmount = &verification.Amount
	}
	if *confirmedAmount != payment.Amount {
		s.logger.Warn("deposit amount mismatch", "reference", ref, "recorded", payment.Amount, "confirmed", *confirmedAmount)
		return Result{}, fmt.Errorf("%w: confirmed amount %d does not match %d", ErrVerificationFailed, *confirmedAmount, payment.Amount)
	}
	return s.apply(ctx, payment)
}

func (s *Service) apply(ctx context.Context, payment ledger.Payment) (Result, error) {
	posting, err := s.store.ReconcilePayment(ctx, payment.Reference)
	s.metrics.ObserveLedgerOp("deposit_reconcile", ignoreDuplicate(err))
	res := Result{
		Reference:     payment.Reference,
		TransactionID: posting.Transaction.ID,
		OwnerID:       payment.OwnerID,
		Amount:        payment.Amount,
		Balance:       posting.Balance,
	}
	switch {
	case errors.Is(err, ledger.ErrDuplicateReference):
		res.AlreadyApplied = true
		return res, nil
	case err != nil:
		return Result{}, fmt.Errorf("reconcile payment: %w", err)
	}

	s.logger.Info("deposit reconciled", "reference", payment.Reference, "owner_id", payment.OwnerID, "amount", payment.Amount)
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindDepositCompleted,
		Destination: payment.OwnerID,
		Body:        fmt.Sprintf("Your wallet was credited with %s %s", money.Format(payment.Amount), money.Currency),
	})
	return res, nil
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return nil
	}
	return err
}
