package processor

import (
	"context"
	"errors"
)

var (
	// ErrRejected means the processor definitively refused the call.
	ErrRejected = errors.New("payment processor rejected the request")
	// ErrOutcomeUnknown means the call may or may not have taken effect
	// (timeout, dropped connection, 5xx). Callers must not assume failure.
	ErrOutcomeUnknown = errors.New("payment processor outcome unknown")
	// ErrOTPRejected is returned by FinalizeTransfer for a wrong or expired OTP.
	ErrOTPRejected = errors.New("otp rejected by payment processor")
	// ErrNotFound is returned when the processor has no record of a reference or transfer code.
	ErrNotFound = errors.New("not found at payment processor")
)

// TransferState is the processor's view of an outbound transfer.
type TransferState string

const (
	TransferOTP      TransferState = "otp"
	TransferPending  TransferState = "pending"
	TransferSuccess  TransferState = "success"
	TransferFailed   TransferState = "failed"
	TransferReversed TransferState = "reversed"
)

// Final reports whether the processor will not move the transfer any further.
func (s TransferState) Final() bool {
	return s == TransferSuccess || s == TransferFailed || s == TransferReversed
}

// PaymentInit is returned when a hosted checkout is opened.
type PaymentInit struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
}

// PaymentVerification is the processor's verdict on a hosted checkout.
type PaymentVerification struct {
	Reference string
	Status    string
	Amount    int64
	Currency  string
}

// Succeeded reports whether the payer was charged.
func (v PaymentVerification) Succeeded() bool {
	return v.Status == "success"
}

// PayoutDetails identifies a destination bank account.
type PayoutDetails struct {
	Name          string
	AccountNumber string
	BankCode      string
}

// Transfer is the processor's record of an outbound transfer.
type Transfer struct {
	TransferCode string
	Reference    string
	Status       TransferState
}

// Gateway opens and verifies hosted checkouts for deposits.
type Gateway interface {
	InitializePayment(ctx context.Context, email string, amount int64, callbackURL, reference string) (PaymentInit, error)
	VerifyPayment(ctx context.Context, reference string) (PaymentVerification, error)
}

// Payouts sends money out to bank accounts.
type Payouts interface {
	CreateRecipient(ctx context.Context, details PayoutDetails) (string, error)
	InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reference, reason string) (Transfer, error)
	FinalizeTransfer(ctx context.Context, transferCode, otp string) (Transfer, error)
	TransferStatus(ctx context.Context, transferCode string) (Transfer, error)
	VerifyTransfer(ctx context.Context, reference string) (Transfer, error)
}

// Processor is the full surface of a payment processor connector.
type Processor interface {
	Gateway
	Payouts
}
