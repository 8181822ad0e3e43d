package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	wallets      map[string]*Wallet
	transactions map[string]*Transaction
	byCode       map[string]string
	payments     map[string]*Payment
	requests     map[string]*MoneyRequest
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and local development. A single mutex serialises every mutation, which gives
// the same all-or-nothing behaviour as the Postgres transaction.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		wallets:      make(map[string]*Wallet),
		transactions: make(map[string]*Transaction),
		byCode:       make(map[string]string),
		payments:     make(map[string]*Payment),
		requests:     make(map[string]*MoneyRequest),
	}
}

func now() time.Time { return time.Now().UTC() }

func (l *inMemoryLedger) getOrCreate(ownerID string) *Wallet {
	w, ok := l.wallets[ownerID]
	if !ok {
		ts := now()
		w = &Wallet{OwnerID: ownerID, CreatedAt: ts, UpdatedAt: ts}
		l.wallets[ownerID] = w
	}
	return w
}

func (l *inMemoryLedger) balanceOf(ownerID string) int64 {
	if w, ok := l.wallets[ownerID]; ok {
		return w.Balance
	}
	return 0
}

func (l *inMemoryLedger) appendTx(tx Transaction) Transaction {
	ts := now()
	tx.ID = uuid.NewString()
	tx.CreatedAt = ts
	tx.UpdatedAt = ts
	if tx.Status == StatusCompleted {
		tx.CompletedAt = &ts
	}
	stored := tx
	l.transactions[tx.Reference] = &stored
	if tx.TransferCode != "" {
		l.byCode[tx.TransferCode] = tx.Reference
	}
	return tx
}

func (l *inMemoryLedger) EnsureWallet(_ context.Context, ownerID string) (Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.getOrCreate(ownerID), nil
}

func (l *inMemoryLedger) Wallet(_ context.Context, ownerID string) (Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wallets[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *w, nil
}

func (l *inMemoryLedger) Credit(_ context.Context, ownerID string, amount int64, reference, note string) (PostingResult, error) {
	if err := validatePosting(amount, reference); err != nil {
		return PostingResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.transactions[reference]; ok {
		return PostingResult{Transaction: *existing, Balance: l.balanceOf(ownerID)}, ErrDuplicateReference
	}

	w := l.getOrCreate(ownerID)
	w.Balance += amount
	w.UpdatedAt = now()

	tx := l.appendTx(Transaction{
		Reference: reference,
		Type:      TypeDeposit,
		Status:    StatusCompleted,
		Amount:    amount,
		Sender:    ProcessorParty,
		Recipient: InternalUser(ownerID),
		Note:      note,
	})
	return PostingResult{Transaction: tx, Balance: w.Balance}, nil
}

func (l *inMemoryLedger) Debit(_ context.Context, ownerID string, amount int64, reference, note string) (PostingResult, error) {
	if err := validatePosting(amount, reference); err != nil {
		return PostingResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.transactions[reference]; ok {
		return PostingResult{Transaction: *existing, Balance: l.balanceOf(ownerID)}, ErrDuplicateReference
	}

	w, ok := l.wallets[ownerID]
	if !ok {
		return PostingResult{}, ErrWalletNotFound
	}
	if w.Available() < amount {
		return PostingResult{}, ErrInsufficientFunds
	}
	w.Balance -= amount
	w.UpdatedAt = now()

	tx := l.appendTx(Transaction{
		Reference: reference,
		Type:      TypeWithdrawal,
		Status:    StatusCompleted,
		Amount:    amount,
		Sender:    InternalUser(ownerID),
		Recipient: ProcessorParty,
		Note:      note,
	})
	return PostingResult{Transaction: tx, Balance: w.Balance}, nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, input TransferInput) (TransferResult, error) {
	if err := validateTransfer(input); err != nil {
		return TransferResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.transferLocked(input, TypeTransfer)
}

func (l *inMemoryLedger) transferLocked(input TransferInput, typ TransactionType) (TransferResult, error) {
	if existing, ok := l.transactions[input.Reference]; ok {
		return TransferResult{
			Transaction: *existing,
			FromBalance: l.balanceOf(input.From),
			ToBalance:   l.balanceOf(input.To),
		}, ErrDuplicateReference
	}

	from, ok := l.wallets[input.From]
	if !ok {
		return TransferResult{}, ErrWalletNotFound
	}
	if from.Available() < input.Amount {
		return TransferResult{}, ErrInsufficientFunds
	}
	to := l.getOrCreate(input.To)

	ts := now()
	from.Balance -= input.Amount
	from.UpdatedAt = ts
	to.Balance += input.Amount
	to.UpdatedAt = ts

	tx := l.appendTx(Transaction{
		Reference: input.Reference,
		Type:      typ,
		Status:    StatusCompleted,
		Amount:    input.Amount,
		Sender:    InternalUser(input.From),
		Recipient: InternalUser(input.To),
		Note:      input.Note,
	})
	return TransferResult{Transaction: tx, FromBalance: from.Balance, ToBalance: to.Balance}, nil
}

func (l *inMemoryLedger) CreatePayment(_ context.Context, payment Payment) (Payment, error) {
	if err := validatePosting(payment.Amount, payment.Reference); err != nil {
		return Payment{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.payments[payment.Reference]; ok {
		return *existing, ErrDuplicateReference
	}
	payment.Status = PaymentPending
	payment.CreatedAt = now()
	payment.CompletedAt = nil
	payment.TransactionID = ""
	stored := payment
	l.payments[payment.Reference] = &stored
	return payment, nil
}

func (l *inMemoryLedger) Payment(_ context.Context, reference string) (Payment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.payments[reference]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return *p, nil
}

func (l *inMemoryLedger) ReconcilePayment(_ context.Context, reference string) (PostingResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.payments[reference]
	if !ok {
		return PostingResult{}, ErrPaymentNotFound
	}
	if p.Status == PaymentCompleted {
		existing := l.transactions[reference]
		res := PostingResult{Balance: l.balanceOf(p.OwnerID)}
		if existing != nil {
			res.Transaction = *existing
		}
		return res, ErrDuplicateReference
	}
	if existing, taken := l.transactions[reference]; taken {
		return PostingResult{Transaction: *existing, Balance: l.balanceOf(p.OwnerID)}, ErrDuplicateReference
	}

	w := l.getOrCreate(p.OwnerID)
	w.Balance += p.Amount
	w.UpdatedAt = now()

	tx := l.appendTx(Transaction{
		Reference: reference,
		Type:      TypeDeposit,
		Status:    StatusCompleted,
		Amount:    p.Amount,
		Sender:    ProcessorParty,
		Recipient: InternalUser(p.OwnerID),
		Note:      "wallet deposit",
	})
	p.Status = PaymentCompleted
	p.TransactionID = tx.ID
	p.CompletedAt = tx.CompletedAt
	return PostingResult{Transaction: tx, Balance: w.Balance}, nil
}

func (l *inMemoryLedger) PendingPayments(_ context.Context, olderThan time.Time, limit int) ([]Payment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Payment
	for _, p := range l.payments {
		if p.Status == PaymentPending && p.CreatedAt.Before(olderThan) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *inMemoryLedger) OpenWithdrawal(_ context.Context, input WithdrawalInput) (PostingResult, error) {
	if err := validateWithdrawal(input); err != nil {
		return PostingResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.transactions[input.Reference]; ok {
		return PostingResult{Transaction: *existing, Balance: l.balanceOf(input.OwnerID)}, ErrDuplicateReference
	}

	w, ok := l.wallets[input.OwnerID]
	if !ok {
		return PostingResult{}, ErrWalletNotFound
	}
	if w.Available() < input.Amount {
		return PostingResult{}, ErrInsufficientFunds
	}
	w.Held += input.Amount
	w.UpdatedAt = now()

	tx := l.appendTx(Transaction{
		Reference: input.Reference,
		Type:      TypeWithdrawal,
		Status:    StatusRequested,
		Amount:    input.Amount,
		Sender:    InternalUser(input.OwnerID),
		Recipient: input.Recipient,
		Note:      input.Note,
	})
	return PostingResult{Transaction: tx, Balance: w.Balance}, nil
}

func (l *inMemoryLedger) AttachTransferCode(_ context.Context, reference, transferCode string, status Status) (Transaction, error) {
	if transferCode == "" {
		return Transaction{}, ErrMissingReference
	}
	if status != StatusAwaitingOTP && status != StatusPending && status != StatusCompleted {
		return Transaction{}, ErrStateConflict
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[reference]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	if tx.Type != TypeWithdrawal {
		return Transaction{}, ErrStateConflict
	}
	if tx.TransferCode == transferCode && tx.Status == status {
		return *tx, ErrDuplicateReference
	}
	if owner, taken := l.byCode[transferCode]; taken && owner != reference {
		return Transaction{}, ErrDuplicateReference
	}
	if !CanTransition(tx.Status, status) {
		return *tx, ErrStateConflict
	}

	tx.TransferCode = transferCode
	l.byCode[transferCode] = reference
	if status == StatusCompleted {
		l.completeWithdrawal(tx)
	} else {
		tx.Status = status
		tx.UpdatedAt = now()
	}
	return *tx, nil
}

func (l *inMemoryLedger) completeWithdrawal(tx *Transaction) int64 {
	ownerID, _ := tx.Sender.UserID()
	w := l.wallets[ownerID]
	ts := now()
	w.Balance -= tx.Amount
	w.Held -= tx.Amount
	w.UpdatedAt = ts
	tx.Status = StatusCompleted
	tx.UpdatedAt = ts
	tx.CompletedAt = &ts
	return w.Balance
}

func (l *inMemoryLedger) releaseHold(tx *Transaction, reason string) {
	ownerID, _ := tx.Sender.UserID()
	ts := now()
	if w, ok := l.wallets[ownerID]; ok {
		w.Held -= tx.Amount
		w.UpdatedAt = ts
	}
	tx.Status = StatusFailed
	tx.FailureReason = reason
	tx.UpdatedAt = ts
}

func (l *inMemoryLedger) FinalizeWithdrawal(_ context.Context, transferCode string) (PostingResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ref, ok := l.byCode[transferCode]
	if !ok {
		return PostingResult{}, ErrTransactionNotFound
	}
	tx := l.transactions[ref]
	ownerID, _ := tx.Sender.UserID()
	switch tx.Status {
	case StatusCompleted:
		return PostingResult{Transaction: *tx, Balance: l.balanceOf(ownerID)}, ErrDuplicateReference
	case StatusFailed:
		return PostingResult{Transaction: *tx, Balance: l.balanceOf(ownerID)}, ErrStateConflict
	}

	balance := l.completeWithdrawal(tx)
	return PostingResult{Transaction: *tx, Balance: balance}, nil
}

func (l *inMemoryLedger) FailWithdrawal(_ context.Context, reference, reason string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[reference]
	if !ok || tx.Type != TypeWithdrawal {
		return Transaction{}, ErrTransactionNotFound
	}
	switch tx.Status {
	case StatusFailed:
		return *tx, ErrDuplicateReference
	case StatusCompleted:
		return *tx, ErrStateConflict
	}
	l.releaseHold(tx, reason)
	return *tx, nil
}

func (l *inMemoryLedger) RecordOTPFailure(_ context.Context, transferCode string, maxAttempts int) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ref, ok := l.byCode[transferCode]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	tx := l.transactions[ref]
	if tx.Status != StatusAwaitingOTP {
		return *tx, ErrStateConflict
	}
	tx.OTPAttempts++
	tx.UpdatedAt = now()
	if maxAttempts > 0 && tx.OTPAttempts >= maxAttempts {
		l.releaseHold(tx, FailureOTPExhausted)
	}
	return *tx, nil
}

func (l *inMemoryLedger) StaleWithdrawals(_ context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Transaction
	for _, tx := range l.transactions {
		if tx.Type != TypeWithdrawal || tx.Status.Terminal() {
			continue
		}
		if tx.UpdatedAt.Before(olderThan) {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *inMemoryLedger) FlagForReview(_ context.Context, reference, note string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[reference]
	if !ok || tx.Type != TypeWithdrawal {
		return Transaction{}, ErrTransactionNotFound
	}
	if tx.ReviewNote == note {
		return *tx, ErrDuplicateReference
	}
	tx.ReviewNote = note
	tx.UpdatedAt = now()
	return *tx, nil
}

func (l *inMemoryLedger) TransactionByReference(_ context.Context, reference string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.transactions[reference]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return *tx, nil
}

func (l *inMemoryLedger) TransactionByTransferCode(_ context.Context, transferCode string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ref, ok := l.byCode[transferCode]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return *l.transactions[ref], nil
}

func (l *inMemoryLedger) History(_ context.Context, filter HistoryFilter) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Transaction
	for _, tx := range l.transactions {
		if !tx.Sender.IsUser(filter.OwnerID) && !tx.Recipient.IsUser(filter.OwnerID) {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && tx.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && tx.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (l *inMemoryLedger) CreateRequest(_ context.Context, req MoneyRequest) (MoneyRequest, error) {
	if err := validateRequest(req); err != nil {
		return MoneyRequest{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, exists := l.requests[req.ID]; exists {
		return MoneyRequest{}, ErrDuplicateReference
	}
	ts := now()
	req.Status = RequestPending
	req.TransactionID = ""
	req.CreatedAt = ts
	req.UpdatedAt = ts
	stored := req
	l.requests[req.ID] = &stored
	return req, nil
}

func (l *inMemoryLedger) Request(_ context.Context, id string) (MoneyRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	req, ok := l.requests[id]
	if !ok {
		return MoneyRequest{}, ErrRequestNotFound
	}
	return *req, nil
}

func (l *inMemoryLedger) RequestsFor(_ context.Context, ownerID string) ([]MoneyRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []MoneyRequest
	for _, req := range l.requests {
		if req.RequesterID == ownerID || req.PayerID == ownerID {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *inMemoryLedger) ApproveRequest(_ context.Context, id, approverID, reference string) (MoneyRequest, TransferResult, error) {
	if reference == "" {
		return MoneyRequest{}, TransferResult{}, ErrMissingReference
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[id]
	if !ok {
		return MoneyRequest{}, TransferResult{}, ErrRequestNotFound
	}
	if req.PayerID != approverID {
		return *req, TransferResult{}, ErrNotPayer
	}
	if req.Status != RequestPending {
		return *req, TransferResult{}, ErrStateConflict
	}

	res, err := l.transferLocked(TransferInput{
		From:      req.PayerID,
		To:        req.RequesterID,
		Amount:    req.Amount,
		Reference: reference,
		Note:      req.Note,
	}, TypeRequest)
	if err != nil {
		return *req, TransferResult{}, err
	}

	req.Status = RequestApproved
	req.TransactionID = res.Transaction.ID
	req.UpdatedAt = now()
	return *req, res, nil
}

func (l *inMemoryLedger) DeclineRequest(_ context.Context, id, approverID string) (MoneyRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[id]
	if !ok {
		return MoneyRequest{}, ErrRequestNotFound
	}
	if req.PayerID != approverID {
		return *req, ErrNotPayer
	}
	if req.Status != RequestPending {
		return *req, ErrStateConflict
	}
	req.Status = RequestDeclined
	req.UpdatedAt = now()
	return *req, nil
}
