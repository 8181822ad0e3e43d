package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// StaticOTP is the code StaticProcessor accepts when finalizing transfers.
const StaticOTP = "123456"

type staticPayment struct {
	amount int64
	status string
}

// StaticProcessor simulates a processor in memory. It is used for local
// development when no secret key is configured, and by tests that need to
// script processor outcomes.
type StaticProcessor struct {
	mu        sync.Mutex
	payments  map[string]*staticPayment
	transfers map[string]*Transfer
	byRef     map[string]string

	// RequireOTP makes new transfers wait for FinalizeTransfer.
	RequireOTP bool
	// FailNext makes the next mutating call return the error instead.
	FailNext error
	// Calls counts invocations per method name.
	Calls map[string]int
}

func NewStaticProcessor() *StaticProcessor {
	return &StaticProcessor{
		payments:   make(map[string]*staticPayment),
		transfers:  make(map[string]*Transfer),
		byRef:      make(map[string]string),
		RequireOTP: true,
		Calls:      make(map[string]int),
	}
}

func (p *StaticProcessor) track(name string) error {
	p.Calls[name]++
	if err := p.FailNext; err != nil {
		p.FailNext = nil
		return err
	}
	return nil
}

func (p *StaticProcessor) InitializePayment(_ context.Context, _ string, amount int64, callbackURL, reference string) (PaymentInit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.track("InitializePayment"); err != nil {
		return PaymentInit{}, err
	}
	p.payments[reference] = &staticPayment{amount: amount, status: "abandoned"}
	return PaymentInit{
		Reference:        reference,
		AuthorizationURL: fmt.Sprintf("https://checkout.static.local/%s?callback=%s", reference, callbackURL),
		AccessCode:       uuid.NewString(),
	}, nil
}

// CompletePayment marks a checkout as paid, as if the payer finished it.
// A non-zero amount overrides the charged amount.
func (p *StaticProcessor) CompletePayment(reference string, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay, ok := p.payments[reference]
	if !ok {
		pay = &staticPayment{amount: amount}
		p.payments[reference] = pay
	}
	if amount > 0 {
		pay.amount = amount
	}
	pay.status = "success"
}

func (p *StaticProcessor) VerifyPayment(_ context.Context, reference string) (PaymentVerification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["VerifyPayment"]++
	pay, ok := p.payments[reference]
	if !ok {
		return PaymentVerification{}, ErrNotFound
	}
	return PaymentVerification{Reference: reference, Status: pay.status, Amount: pay.amount, Currency: "NGN"}, nil
}

func (p *StaticProcessor) CreateRecipient(_ context.Context, details PayoutDetails) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.track("CreateRecipient"); err != nil {
		return "", err
	}
	if details.AccountNumber == "" || details.BankCode == "" {
		return "", fmt.Errorf("%w: account number and bank code are required", ErrRejected)
	}
	return "RCP_" + details.BankCode + "_" + details.AccountNumber, nil
}

func (p *StaticProcessor) InitiateTransfer(_ context.Context, _ string, _ int64, reference, _ string) (Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.track("InitiateTransfer"); err != nil {
		return Transfer{}, err
	}
	if code, ok := p.byRef[reference]; ok {
		return *p.transfers[code], nil
	}
	state := TransferPending
	if p.RequireOTP {
		state = TransferOTP
	}
	tr := &Transfer{TransferCode: "TRF_" + uuid.NewString()[:8], Reference: reference, Status: state}
	p.transfers[tr.TransferCode] = tr
	p.byRef[reference] = tr.TransferCode
	return *tr, nil
}

func (p *StaticProcessor) FinalizeTransfer(_ context.Context, transferCode, otp string) (Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.track("FinalizeTransfer"); err != nil {
		return Transfer{}, err
	}
	tr, ok := p.transfers[transferCode]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	if tr.Status != TransferOTP {
		return Transfer{}, fmt.Errorf("%w: transfer is not awaiting otp", ErrRejected)
	}
	if otp != StaticOTP {
		return Transfer{}, ErrOTPRejected
	}
	tr.Status = TransferSuccess
	return *tr, nil
}

// SetTransferState forces the processor-side state of a transfer.
func (p *StaticProcessor) SetTransferState(transferCode string, state TransferState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tr, ok := p.transfers[transferCode]; ok {
		tr.Status = state
	}
}

func (p *StaticProcessor) TransferStatus(_ context.Context, transferCode string) (Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["TransferStatus"]++
	tr, ok := p.transfers[transferCode]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return *tr, nil
}

func (p *StaticProcessor) VerifyTransfer(_ context.Context, reference string) (Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["VerifyTransfer"]++
	code, ok := p.byRef[reference]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return *p.transfers[code], nil
}

// TransferByReference returns the simulated transfer for reference.
func (p *StaticProcessor) TransferByReference(reference string) (Transfer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	code, ok := p.byRef[reference]
	if !ok {
		return Transfer{}, false
	}
	return *p.transfers[code], true
}

var _ Processor = (*StaticProcessor)(nil)
