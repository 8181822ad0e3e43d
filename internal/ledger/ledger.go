package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds occurs when the wallet's available balance cannot
	// cover the requested debit or reservation.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateReference indicates the reference (or transfer code) was already
	// applied. It is returned together with the existing result and callers treat
	// it as "already handled".
	ErrDuplicateReference = errors.New("duplicate reference")

	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrMissingReference    = errors.New("reference is required")
	ErrSelfTransfer        = errors.New("sender and recipient must differ")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPaymentNotFound     = errors.New("payment record not found")
	ErrRequestNotFound     = errors.New("money request not found")

	// ErrStateConflict is returned for transitions out of a terminal or
	// mismatched status.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotPayer indicates the approver of a money request is not its payer.
	ErrNotPayer = errors.New("approver is not the payer of this request")
)

// TransactionType classifies a money movement.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeTransfer   TransactionType = "transfer"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeRequest    TransactionType = "request"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeTransfer, TypeWithdrawal, TypeRequest:
		return true
	}
	return false
}

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusRequested   Status = "requested"
	StatusAwaitingOTP Status = "awaiting_otp"
	// StatusPending marks a withdrawal the processor accepted but has not
	// settled yet.
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a transaction may move from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusRequested:
		return to == StatusAwaitingOTP || to == StatusPending || to == StatusCompleted || to == StatusFailed
	case StatusAwaitingOTP:
		return to == StatusPending || to == StatusCompleted || to == StatusFailed
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// PaymentStatus is the lifecycle state of a deposit-side Payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// RequestStatus is the lifecycle state of a MoneyRequest.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDeclined RequestStatus = "declined"
)

// Wallet is a user's stored balance. Held tracks funds reserved by open
// withdrawals; they still count towards Balance until the payout completes.
type Wallet struct {
	OwnerID   string
	Balance   int64
	Held      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available is the portion of the balance not reserved by pending withdrawals.
func (w Wallet) Available() int64 {
	return w.Balance - w.Held
}

// Transaction is the append-only record of one money movement.
type Transaction struct {
	ID            string
	Reference     string
	TransferCode  string
	Type          TransactionType
	Status        Status
	Amount        int64
	Sender        Party
	Recipient     Party
	Note          string
	OTPAttempts   int
	FailureReason string
	// ReviewNote is set when the processor's outcome contradicts the
	// recorded status and the record needs manual reconciliation.
	ReviewNote  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Payment is the deposit-side record kept until the processor confirms it.
type Payment struct {
	Reference        string
	OwnerID          string
	Amount           int64
	Status           PaymentStatus
	AuthorizationURL string
	TransactionID    string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// MoneyRequest asks PayerID to send Amount to RequesterID.
type MoneyRequest struct {
	ID            string
	RequesterID   string
	PayerID       string
	Amount        int64
	Note          string
	Status        RequestStatus
	TransactionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PostingResult is the outcome of a single-wallet mutation.
type PostingResult struct {
	Transaction Transaction
	Balance     int64
}

// TransferResult captures the outcome of a two-wallet posting.
type TransferResult struct {
	Transaction Transaction
	FromBalance int64
	ToBalance   int64
}

// TransferInput moves Amount from one user wallet to another.
type TransferInput struct {
	From      string
	To        string
	Amount    int64
	Reference string
	Note      string
}

// WithdrawalInput reserves funds for an external payout.
type WithdrawalInput struct {
	OwnerID   string
	Amount    int64
	Reference string
	Recipient Party
	Note      string
}

// HistoryFilter narrows a wallet's transaction history.
type HistoryFilter struct {
	OwnerID string
	Type    TransactionType
	From    time.Time
	To      time.Time
	Limit   int
}

// Wallets covers balance reads and the credit/debit primitives.
type Wallets interface {
	EnsureWallet(ctx context.Context, ownerID string) (Wallet, error)
	Wallet(ctx context.Context, ownerID string) (Wallet, error)
	Credit(ctx context.Context, ownerID string, amount int64, reference, note string) (PostingResult, error)
	Debit(ctx context.Context, ownerID string, amount int64, reference, note string) (PostingResult, error)
	Transfer(ctx context.Context, input TransferInput) (TransferResult, error)
}

// Payments is the deposit-side store.
type Payments interface {
	CreatePayment(ctx context.Context, payment Payment) (Payment, error)
	Payment(ctx context.Context, reference string) (Payment, error)
	ReconcilePayment(ctx context.Context, reference string) (PostingResult, error)
	PendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error)
}

// Withdrawals is the payout-side store.
type Withdrawals interface {
	OpenWithdrawal(ctx context.Context, input WithdrawalInput) (PostingResult, error)
	AttachTransferCode(ctx context.Context, reference, transferCode string, status Status) (Transaction, error)
	FinalizeWithdrawal(ctx context.Context, transferCode string) (PostingResult, error)
	FailWithdrawal(ctx context.Context, reference, reason string) (Transaction, error)
	RecordOTPFailure(ctx context.Context, transferCode string, maxAttempts int) (Transaction, error)
	StaleWithdrawals(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error)
	FlagForReview(ctx context.Context, reference, note string) (Transaction, error)
}

// Requests is the money-request store.
type Requests interface {
	CreateRequest(ctx context.Context, req MoneyRequest) (MoneyRequest, error)
	Request(ctx context.Context, id string) (MoneyRequest, error)
	RequestsFor(ctx context.Context, ownerID string) ([]MoneyRequest, error)
	ApproveRequest(ctx context.Context, id, approverID, reference string) (MoneyRequest, TransferResult, error)
	DeclineRequest(ctx context.Context, id, approverID string) (MoneyRequest, error)
}

// Transactions exposes read access to the transaction log.
type Transactions interface {
	TransactionByReference(ctx context.Context, reference string) (Transaction, error)
	TransactionByTransferCode(ctx context.Context, transferCode string) (Transaction, error)
	History(ctx context.Context, filter HistoryFilter) ([]Transaction, error)
}

// Ledger defines the contract implemented by ledger backends (in-memory and Postgres).
// Every balance mutation and the transaction record it produces commit together.
type Ledger interface {
	Wallets
	Payments
	Withdrawals
	Requests
	Transactions
}
