package moneyrequest

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

var (
	// ErrPayerNotFound indicates the payer identifier does not match a user.
	ErrPayerNotFound = errors.New("payer not found")

	// ErrAlreadyProcessed is returned when a request was already approved or
	// declined. It matches ledger.ErrStateConflict.
	ErrAlreadyProcessed = fmt.Errorf("money request already processed: %w", ledger.ErrStateConflict)
)

// Store persists money requests and settles approved ones.
type Store interface {
	CreateRequest(ctx context.Context, req ledger.MoneyRequest) (ledger.MoneyRequest, error)
	Request(ctx context.Context, id string) (ledger.MoneyRequest, error)
	RequestsFor(ctx context.Context, ownerID string) ([]ledger.MoneyRequest, error)
	ApproveRequest(ctx context.Context, id, approverID, reference string) (ledger.MoneyRequest, ledger.TransferResult, error)
	DeclineRequest(ctx context.Context, id, approverID string) (ledger.MoneyRequest, error)
}

// Directory resolves a user by id, email or phone.
type Directory interface {
	Resolve(ctx context.Context, identifier string) (identity.User, error)
}

// Service implements the request/approve/decline flow between two users.
type Service struct {
	store     Store
	directory Directory
	notifier  notification.Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewService constructs a money-request service. notifier, logger and m may be nil.
func NewService(store Store, directory Directory, notifier notification.Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, directory: directory, notifier: notifier, logger: logger, metrics: m}
}

// CreateInput describes a new request for funds.
type CreateInput struct {
	RequesterID string
	// Payer is a user id, email address or phone number.
	Payer  string
	Amount int64
	Note   string
}

// Request is the client view of a money request.
type Request struct {
	ID            string               `json:"id"`
	RequesterID   string               `json:"requester_id"`
	PayerID       string               `json:"payer_id"`
	Amount        int64                `json:"amount"`
	Note          string               `json:"note,omitempty"`
	Status        ledger.RequestStatus `json:"status"`
	TransactionID string               `json:"transaction_id,omitempty"`
	// Balance is the payer's balance after an approval.
	Balance   *int64    `json:"balance,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Create records a pending request and notifies the payer.
func (s *Service) Create(ctx context.Context, input CreateInput) (Request, error) {
	if input.Amount <= 0 {
		return Request{}, ledger.ErrInvalidAmount
	}
	payer, err := s.directory.Resolve(ctx, input.Payer)
	if errors.Is(err, identity.ErrUserNotFound) {
		return Request{}, ErrPayerNotFound
	}
	if err != nil {
		return Request{}, err
	}

	req, err := s.store.CreateRequest(ctx, ledger.MoneyRequest{
		RequesterID: input.RequesterID,
		PayerID:     payer.ID,
		Amount:      input.Amount,
		Note:        input.Note,
	})
	if err != nil {
		return Request{}, err
	}

	s.logger.Info("money request created", "request_id", req.ID, "requester", req.RequesterID, "payer", req.PayerID, "amount", req.Amount)
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindMoneyRequested,
		Destination: payer.ID,
		Body:        fmt.Sprintf("You have a request for %s %s", money.Format(req.Amount), money.Currency),
	})
	return toView(req), nil
}

// Approve pays a pending request from the approver's wallet. Only the payer
// may approve, and the balance is checked at approval time. A request the
// payer cannot afford stays pending.
func (s *Service) Approve(ctx context.Context, id, approverID string) (Request, error) {
	req, res, err := s.store.ApproveRequest(ctx, id, approverID, reference.New(reference.Request))
	s.metrics.ObserveLedgerOp("approve_request", err)
	switch {
	case errors.Is(err, ledger.ErrStateConflict):
		return Request{}, ErrAlreadyProcessed
	case errors.Is(err, ledger.ErrWalletNotFound):
		return Request{}, ledger.ErrInsufficientFunds
	case err != nil:
		return Request{}, err
	}

	s.logger.Info("money request approved", "request_id", req.ID, "reference", res.Transaction.Reference)
	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindMoneyRequestClosed,
		Destination: req.RequesterID,
		Body:        fmt.Sprintf("Your request for %s %s was paid", money.Format(req.Amount), money.Currency),
	})
	view := toView(req)
	view.Balance = &res.FromBalance
	return view, nil
}

// Decline closes a pending request without moving funds.
func (s *Service) Decline(ctx context.Context, id, approverID string) (Request, error) {
	req, err := s.store.DeclineRequest(ctx, id, approverID)
	if errors.Is(err, ledger.ErrStateConflict) {
		return Request{}, ErrAlreadyProcessed
	}
	if err != nil {
		return Request{}, err
	}

	notification.Notify(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindMoneyRequestClosed,
		Destination: req.RequesterID,
		Body:        fmt.Sprintf("Your request for %s %s was declined", money.Format(req.Amount), money.Currency),
	})
	return toView(req), nil
}

// List returns requests the owner sent or received, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Request, error) {
	reqs, err := s.store.RequestsFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toView(r))
	}
	return out, nil
}

func toView(r ledger.MoneyRequest) Request {
	return Request{
		ID:            r.ID,
		RequesterID:   r.RequesterID,
		PayerID:       r.PayerID,
		Amount:        r.Amount,
		Note:          r.Note,
		Status:        r.Status,
		TransactionID: r.TransactionID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
