package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `reference, owner_id, amount, status, authorization_url,
        COALESCE(transaction_id::text, ''), created_at, completed_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p      Payment
		status string
	)
	if err := row.Scan(&p.Reference, &p.OwnerID, &p.Amount, &status, &p.AuthorizationURL,
		&p.TransactionID, &p.CreatedAt, &p.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	p.Status = PaymentStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// CreatePayment stores a pending deposit keyed by its processor reference.
func (l *PostgresLedger) CreatePayment(ctx context.Context, payment Payment) (Payment, error) {
	if err := validatePosting(payment.Amount, payment.Reference); err != nil {
		return Payment{}, err
	}
	payment.Status = PaymentPending
	payment.CreatedAt = now()
	payment.TransactionID = ""
	payment.CompletedAt = nil

	_, err := l.db.Exec(ctx, `INSERT INTO payments (reference, owner_id, amount, status, authorization_url, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		payment.Reference, payment.OwnerID, payment.Amount, string(payment.Status), payment.AuthorizationURL, payment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, findErr := l.Payment(ctx, payment.Reference)
			if findErr != nil {
				return Payment{}, findErr
			}
			return existing, ErrDuplicateReference
		}
		return Payment{}, err
	}
	return payment, nil
}

// Payment fetches a deposit record by reference.
func (l *PostgresLedger) Payment(ctx context.Context, reference string) (Payment, error) {
	return scanPayment(l.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM payments WHERE reference = $1`, paymentColumns), reference))
}

// ReconcilePayment marks the payment completed, credits the wallet and records
// the deposit transaction in one unit. A second call returns the first result
// with ErrDuplicateReference.
func (l *PostgresLedger) ReconcilePayment(ctx context.Context, reference string) (PostingResult, error) {
	var res PostingResult
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		p, err := scanPayment(tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM payments WHERE reference = $1 FOR UPDATE`, paymentColumns), reference))
		if err != nil {
			return err
		}
		if p.Status == PaymentCompleted {
			existing, err := findTx(ctx, tx, "reference", reference, false)
			if err != nil && !errors.Is(err, ErrTransactionNotFound) {
				return err
			}
			res = PostingResult{Transaction: existing, Balance: walletBalance(ctx, tx, p.OwnerID)}
			return ErrDuplicateReference
		}

		if _, err := lockWallet(ctx, tx, p.OwnerID, true); err != nil {
			return err
		}
		balance, err := adjustWallet(ctx, tx, p.OwnerID, p.Amount, 0)
		if err != nil {
			return err
		}
		t, err := insertTx(ctx, tx, Transaction{
			Reference: reference,
			Type:      TypeDeposit,
			Status:    StatusCompleted,
			Amount:    p.Amount,
			Sender:    ProcessorParty,
			Recipient: InternalUser(p.OwnerID),
			Note:      "wallet deposit",
		})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE payments SET status = $2, transaction_id = $3, completed_at = $4
            WHERE reference = $1`, reference, string(PaymentCompleted), t.ID, t.CompletedAt); err != nil {
			return err
		}
		res = PostingResult{Transaction: t, Balance: balance}
		return nil
	})
	if errors.Is(err, ErrDuplicateReference) && res.Transaction.ID == "" {
		p, findErr := l.Payment(ctx, reference)
		if findErr != nil {
			return PostingResult{}, findErr
		}
		return l.existingPosting(ctx, reference, p.OwnerID)
	}
	return res, err
}

// PendingPayments lists deposits still awaiting confirmation, oldest first.
func (l *PostgresLedger) PendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM payments
        WHERE status = 'pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2`, paymentColumns), olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OpenWithdrawal reserves funds for a payout and records it as requested. The
// balance itself is only debited when the payout completes.
func (l *PostgresLedger) OpenWithdrawal(ctx context.Context, input WithdrawalInput) (PostingResult, error) {
	if err := validateWithdrawal(input); err != nil {
		return PostingResult{}, err
	}

	var res PostingResult
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		w, err := lockWallet(ctx, tx, input.OwnerID, false)
		if err != nil {
			return err
		}
		if w.Available() < input.Amount {
			return ErrInsufficientFunds
		}
		balance, err := adjustWallet(ctx, tx, input.OwnerID, 0, input.Amount)
		if err != nil {
			return err
		}
		t, err := insertTx(ctx, tx, Transaction{
			Reference: input.Reference,
			Type:      TypeWithdrawal,
			Status:    StatusRequested,
			Amount:    input.Amount,
			Sender:    InternalUser(input.OwnerID),
			Recipient: input.Recipient,
			Note:      input.Note,
		})
		if err != nil {
			return err
		}
		res = PostingResult{Transaction: t, Balance: balance}
		return nil
	})
	if errors.Is(err, ErrDuplicateReference) {
		return l.existingPosting(ctx, input.Reference, input.OwnerID)
	}
	return res, err
}

// AttachTransferCode records the processor's transfer code on a requested
// withdrawal. Moving straight to completed also settles the hold.
func (l *PostgresLedger) AttachTransferCode(ctx context.Context, reference, transferCode string, status Status) (Transaction, error) {
	if transferCode == "" {
		return Transaction{}, ErrMissingReference
	}
	if status != StatusAwaitingOTP && status != StatusPending && status != StatusCompleted {
		return Transaction{}, ErrStateConflict
	}

	var out Transaction
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		t, err := findTx(ctx, tx, "reference", reference, true)
		if err != nil {
			return err
		}
		out = t
		if t.Type != TypeWithdrawal {
			return ErrStateConflict
		}
		if t.TransferCode == transferCode && t.Status == status {
			return ErrDuplicateReference
		}
		if !CanTransition(t.Status, status) {
			return ErrStateConflict
		}

		if status == StatusCompleted {
			ownerID, _ := t.Sender.UserID()
			if _, err := lockWallet(ctx, tx, ownerID, false); err != nil {
				return err
			}
			if _, err := adjustWallet(ctx, tx, ownerID, -t.Amount, -t.Amount); err != nil {
				return err
			}
		}
		out, err = scanTx(tx.QueryRow(ctx, fmt.Sprintf(`UPDATE transactions
            SET transfer_code = $2, status = $3, updated_at = $4,
                completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END
            WHERE reference = $1 RETURNING %s`, txColumns), reference, transferCode, string(status), now()))
		if err != nil && isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	})
	return out, err
}

// FinalizeWithdrawal debits the wallet, releases the hold and completes the
// withdrawal identified by transferCode. It is safe to call repeatedly.
func (l *PostgresLedger) FinalizeWithdrawal(ctx context.Context, transferCode string) (PostingResult, error) {
	var res PostingResult
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		t, err := findTx(ctx, tx, "transfer_code", transferCode, true)
		if err != nil {
			return err
		}
		ownerID, _ := t.Sender.UserID()
		switch t.Status {
		case StatusCompleted:
			res = PostingResult{Transaction: t, Balance: walletBalance(ctx, tx, ownerID)}
			return ErrDuplicateReference
		case StatusFailed:
			res = PostingResult{Transaction: t, Balance: walletBalance(ctx, tx, ownerID)}
			return ErrStateConflict
		}

		if _, err := lockWallet(ctx, tx, ownerID, false); err != nil {
			return err
		}
		balance, err := adjustWallet(ctx, tx, ownerID, -t.Amount, -t.Amount)
		if err != nil {
			return err
		}
		ts := now()
		t, err = scanTx(tx.QueryRow(ctx, fmt.Sprintf(`UPDATE transactions
            SET status = 'completed', updated_at = $2, completed_at = $2
            WHERE transfer_code = $1 RETURNING %s`, txColumns), transferCode, ts))
		if err != nil {
			return err
		}
		res = PostingResult{Transaction: t, Balance: balance}
		return nil
	})
	return res, err
}

func failTx(ctx context.Context, tx pgx.Tx, t Transaction, reason string) (Transaction, error) {
	ownerID, _ := t.Sender.UserID()
	if _, err := lockWallet(ctx, tx, ownerID, false); err != nil {
		return Transaction{}, err
	}
	if _, err := adjustWallet(ctx, tx, ownerID, 0, -t.Amount); err != nil {
		return Transaction{}, err
	}
	return scanTx(tx.QueryRow(ctx, fmt.Sprintf(`UPDATE transactions
        SET status = 'failed', failure_reason = $2, updated_at = $3
        WHERE id = $1 RETURNING %s`, txColumns), t.ID, reason, now()))
}

// FailWithdrawal releases the hold and marks the withdrawal failed.
func (l *PostgresLedger) FailWithdrawal(ctx context.Context, reference, reason string) (Transaction, error) {
	var out Transaction
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		t, err := findTx(ctx, tx, "reference", reference, true)
		if err != nil {
			return err
		}
		out = t
		if t.Type != TypeWithdrawal {
			return ErrTransactionNotFound
		}
		switch t.Status {
		case StatusFailed:
			return ErrDuplicateReference
		case StatusCompleted:
			return ErrStateConflict
		}
		out, err = failTx(ctx, tx, t, reason)
		return err
	})
	return out, err
}

// RecordOTPFailure counts a rejected OTP and fails the withdrawal once
// maxAttempts is reached.
func (l *PostgresLedger) RecordOTPFailure(ctx context.Context, transferCode string, maxAttempts int) (Transaction, error) {
	var out Transaction
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		t, err := findTx(ctx, tx, "transfer_code", transferCode, true)
		if err != nil {
			return err
		}
		out = t
		if t.Status != StatusAwaitingOTP {
			return ErrStateConflict
		}
		t, err = scanTx(tx.QueryRow(ctx, fmt.Sprintf(`UPDATE transactions
            SET otp_attempts = otp_attempts + 1, updated_at = $2
            WHERE id = $1 RETURNING %s`, txColumns), t.ID, now()))
		if err != nil {
			return err
		}
		out = t
		if maxAttempts > 0 && t.OTPAttempts >= maxAttempts {
			out, err = failTx(ctx, tx, t, FailureOTPExhausted)
		}
		return err
	})
	return out, err
}

// StaleWithdrawals lists non-terminal withdrawals untouched since olderThan.
func (l *PostgresLedger) StaleWithdrawals(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM transactions
        WHERE type = 'withdrawal' AND status IN ('requested', 'awaiting_otp') AND updated_at < $1
        ORDER BY updated_at ASC LIMIT $2`, txColumns), olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectTxs(rows)
}

// FlagForReview records note on a withdrawal whose processor outcome
// contradicts its recorded status. Balances are left untouched.
func (l *PostgresLedger) FlagForReview(ctx context.Context, reference, note string) (Transaction, error) {
	var out Transaction
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		t, err := findTx(ctx, tx, "reference", reference, true)
		if err != nil {
			return err
		}
		out = t
		if t.Type != TypeWithdrawal {
			return ErrTransactionNotFound
		}
		if t.ReviewNote == note {
			return ErrDuplicateReference
		}
		out, err = scanTx(tx.QueryRow(ctx, fmt.Sprintf(`UPDATE transactions
            SET review_note = $2, updated_at = $3
            WHERE id = $1 RETURNING %s`, txColumns), t.ID, note, now()))
		return err
	})
	return out, err
}

const requestColumns = `id, requester_id, payer_id, amount, note, status,
        COALESCE(transaction_id::text, ''), created_at, updated_at`

func scanRequest(row pgx.Row) (MoneyRequest, error) {
	var (
		r      MoneyRequest
		status string
	)
	if err := row.Scan(&r.ID, &r.RequesterID, &r.PayerID, &r.Amount, &r.Note, &status,
		&r.TransactionID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MoneyRequest{}, ErrRequestNotFound
		}
		return MoneyRequest{}, err
	}
	r.Status = RequestStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// CreateRequest stores a pending money request.
func (l *PostgresLedger) CreateRequest(ctx context.Context, req MoneyRequest) (MoneyRequest, error) {
	if err := validateRequest(req); err != nil {
		return MoneyRequest{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ts := now()
	req.Status = RequestPending
	req.TransactionID = ""
	req.CreatedAt = ts
	req.UpdatedAt = ts

	_, err := l.db.Exec(ctx, `INSERT INTO money_requests (id, requester_id, payer_id, amount, note, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		req.ID, req.RequesterID, req.PayerID, req.Amount, req.Note, string(req.Status), ts)
	if err != nil {
		if isUniqueViolation(err) {
			return MoneyRequest{}, ErrDuplicateReference
		}
		return MoneyRequest{}, err
	}
	return req, nil
}

// Request fetches a money request by id.
func (l *PostgresLedger) Request(ctx context.Context, id string) (MoneyRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return MoneyRequest{}, ErrRequestNotFound
	}
	return scanRequest(l.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM money_requests WHERE id = $1`, requestColumns), id))
}

// RequestsFor lists requests the owner sent or must pay, newest first.
func (l *PostgresLedger) RequestsFor(ctx context.Context, ownerID string) ([]MoneyRequest, error) {
	rows, err := l.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM money_requests
        WHERE requester_id = $1 OR payer_id = $1 ORDER BY created_at DESC`, requestColumns), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MoneyRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApproveRequest pays a pending request: the transfer, the link to the
// resulting transaction and the status change commit together.
func (l *PostgresLedger) ApproveRequest(ctx context.Context, id, approverID, reference string) (MoneyRequest, TransferResult, error) {
	if reference == "" {
		return MoneyRequest{}, TransferResult{}, ErrMissingReference
	}
	if _, err := uuid.Parse(id); err != nil {
		return MoneyRequest{}, TransferResult{}, ErrRequestNotFound
	}

	var (
		req MoneyRequest
		res TransferResult
	)
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		r, err := scanRequest(tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM money_requests WHERE id = $1 FOR UPDATE`, requestColumns), id))
		if err != nil {
			return err
		}
		req = r
		if r.PayerID != approverID {
			return ErrNotPayer
		}
		if r.Status != RequestPending {
			return ErrStateConflict
		}

		res, err = transferTx(ctx, tx, TransferInput{
			From:      r.PayerID,
			To:        r.RequesterID,
			Amount:    r.Amount,
			Reference: reference,
			Note:      r.Note,
		}, TypeRequest)
		if err != nil {
			return err
		}

		req, err = scanRequest(tx.QueryRow(ctx, fmt.Sprintf(`UPDATE money_requests
            SET status = $2, transaction_id = $3, updated_at = $4
            WHERE id = $1 RETURNING %s`, requestColumns), id, string(RequestApproved), res.Transaction.ID, now()))
		return err
	})
	if err != nil {
		return req, TransferResult{}, err
	}
	return req, res, nil
}

// DeclineRequest rejects a pending request.
func (l *PostgresLedger) DeclineRequest(ctx context.Context, id, approverID string) (MoneyRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return MoneyRequest{}, ErrRequestNotFound
	}

	var req MoneyRequest
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		r, err := scanRequest(tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM money_requests WHERE id = $1 FOR UPDATE`, requestColumns), id))
		if err != nil {
			return err
		}
		req = r
		if r.PayerID != approverID {
			return ErrNotPayer
		}
		if r.Status != RequestPending {
			return ErrStateConflict
		}
		req, err = scanRequest(tx.QueryRow(ctx, fmt.Sprintf(`UPDATE money_requests
            SET status = $2, updated_at = $3 WHERE id = $1 RETURNING %s`, requestColumns), id, string(RequestDeclined), now()))
		return err
	})
	return req, err
}
