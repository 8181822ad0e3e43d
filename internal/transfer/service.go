package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/metrics"
	"github.com/congo-pay/ledgerpay/internal/money"
	"github.com/congo-pay/ledgerpay/internal/notification"
	"github.com/congo-pay/ledgerpay/internal/reference"
)

// ErrRecipientNotFound indicates the recipient identifier does not match a user.
var ErrRecipientNotFound = errors.New("recipient not found")

// Store moves funds between two wallets in one atomic unit.
type Store interface {
	Transfer(ctx context.Context, input ledger.TransferInput) (ledger.TransferResult, error)
}

// Directory resolves a user by id, email or phone.
type Directory interface {
	Resolve(ctx context.Context, identifier string) (identity.User, error)
}

// Service wires wallet ledger postings for P2P transfers.
type Service struct {
	store     Store
	directory Directory
	notifier  notification.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewService constructs a transfer service. notifier, logger and m may be nil.
func NewService(store Store, directory Directory, notifier notification.Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, directory: directory, notifier: notifier, logger: logger, metrics: m}
}

// Input captures the data needed to move funds between wallets.
type Input struct {
	SenderID string
	// Recipient is a user id, email address or phone number.
	Recipient string
	Amount    int64
	Note      string
	// Reference is optional; one is minted when empty.
	Reference string
}

// Result describes the ledger outcome of a P2P transfer.
type Result struct {
	TransactionID  string    `json:"transaction_id"`
	Reference      string    `json:"reference"`
	RecipientID    string    `json:"recipient_id"`
	Amount         int64     `json:"amount"`
	Balance        int64     `json:"balance"`
	CompletedAt    time.Time `json:"completed_at"`
	AlreadyApplied bool      `json:"already_applied"`
}

// Transfer moves Amount from the sender's wallet to the recipient's.
func (s *Service) Transfer(ctx context.Context, input Input) (Result, error) {
	if input.Amount <= 0 {
		return Result{}, ledger.ErrInvalidAmount
	}

	recipient, err := s.directory.Resolve(ctx, input.Recipient)
	if errors.Is(err, identity.ErrUserNotFound) {
		return Result{}, ErrRecipientNotFound
	}
	if err != nil {
		return Result{}, err
	}
	if recipient.ID == input.SenderID {
		return Result{}, ledger.ErrSelfTransfer
	}
	if input.Reference == "" {
		input.Reference = reference.New(reference.Transfer)
	}

	res, err := s.store.Transfer(ctx, ledger.TransferInput{
		From:      input.SenderID,
		To:        recipient.ID,
		Amount:    input.Amount,
		Reference: input.Reference,
		Note:      input.Note,
	})
	s.metrics.ObserveLedgerOp("transfer", ignoreDuplicate(err))
	switch {
	case errors.Is(err, ledger.ErrDuplicateReference):
		if !res.Transaction.Sender.IsUser(input.SenderID) {
			return Result{}, err
		}
		return toResult(res, recipient.ID, true), nil
	case errors.Is(err, ledger.ErrWalletNotFound):
		return Result{}, ledger.ErrInsufficientFunds
	case err != nil:
		return Result{}, err
	}

	s.logger.Info("transfer completed", "reference", input.Reference, "from", input.SenderID, "to", recipient.ID, "amount", input.Amount)
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindTransferReceived,
		Destination: recipient.ID,
		Body:        fmt.Sprintf("You received %s %s", money.Format(input.Amount), money.Currency),
	})
	return toResult(res, recipient.ID, false), nil
}

func toResult(res ledger.TransferResult, recipientID string, replayed bool) Result {
	out := Result{
		TransactionID:  res.Transaction.ID,
		Reference:      res.Transaction.Reference,
		RecipientID:    recipientID,
		Amount:         res.Transaction.Amount,
		Balance:        res.FromBalance,
		AlreadyApplied: replayed,
	}
	if res.Transaction.CompletedAt != nil {
		out.CompletedAt = *res.Transaction.CompletedAt
	}
	return out
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return nil
	}
	return err
}
