package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists wallets and transactions in PostgreSQL. Every
// mutation runs in one database transaction holding row locks on the wallets
// it touches, always taken in ascending owner id order.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

var _ Ledger = (*PostgresLedger)(nil)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const txColumns = `id, reference, COALESCE(transfer_code, ''), type, status, amount,
        sender_kind, sender_ref, recipient_kind, recipient_ref, note,
        otp_attempts, failure_reason, review_note, created_at, updated_at, completed_at`

func (l *PostgresLedger) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanTx(row pgx.Row) (Transaction, error) {
	var (
		t                        Transaction
		typ, status              string
		senderKind, senderRef    string
		recipientKind, recipient string
	)
	err := row.Scan(&t.ID, &t.Reference, &t.TransferCode, &typ, &status, &t.Amount,
		&senderKind, &senderRef, &recipientKind, &recipient, &t.Note,
		&t.OTPAttempts, &t.FailureReason, &t.ReviewNote, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.Type = TransactionType(typ)
	t.Status = Status(status)
	t.Sender = Party{Kind: PartyKind(senderKind), ID: senderRef}
	t.Recipient = Party{Kind: PartyKind(recipientKind), ID: recipient}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func collectTxs(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func findTx(ctx context.Context, q querier, column, value string, forUpdate bool) (Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s = $1`, txColumns, column)
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanTx(q.QueryRow(ctx, query, value))
}

func insertTx(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	ts := now()
	t.ID = uuid.NewString()
	t.CreatedAt = ts
	t.UpdatedAt = ts
	if t.Status == StatusCompleted {
		t.CompletedAt = &ts
	}
	var transferCode *string
	if t.TransferCode != "" {
		transferCode = &t.TransferCode
	}
	_, err := tx.Exec(ctx, `INSERT INTO transactions (id, reference, transfer_code, type, status, amount,
        sender_kind, sender_ref, recipient_kind, recipient_ref, note, created_at, updated_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.Reference, transferCode, string(t.Type), string(t.Status), t.Amount,
		string(t.Sender.Kind), t.Sender.ID, string(t.Recipient.Kind), t.Recipient.ID, t.Note,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Transaction{}, ErrDuplicateReference
		}
		return Transaction{}, err
	}
	return t, nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.OwnerID, &w.Balance, &w.Held, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

// lockWallet takes the row lock on a wallet, creating it first when create is
// set so that get-or-create happens inside the caller's transaction.
func lockWallet(ctx context.Context, tx pgx.Tx, ownerID string, create bool) (Wallet, error) {
	if create {
		if _, err := tx.Exec(ctx, `INSERT INTO wallets (owner_id) VALUES ($1)
            ON CONFLICT (owner_id) DO NOTHING`, ownerID); err != nil {
			return Wallet{}, err
		}
	}
	return scanWallet(tx.QueryRow(ctx, `SELECT owner_id, balance, held, created_at, updated_at
        FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID))
}

func adjustWallet(ctx context.Context, tx pgx.Tx, ownerID string, balanceDelta, heldDelta int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `UPDATE wallets SET balance = balance + $2, held = held + $3, updated_at = $4
        WHERE owner_id = $1 RETURNING balance`, ownerID, balanceDelta, heldDelta, now()).Scan(&balance)
	return balance, err
}

func walletBalance(ctx context.Context, q querier, ownerID string) int64 {
	var balance int64
	if err := q.QueryRow(ctx, `SELECT balance FROM wallets WHERE owner_id = $1`, ownerID).Scan(&balance); err != nil {
		return 0
	}
	return balance
}

// EnsureWallet creates the wallet if it does not exist yet.
func (l *PostgresLedger) EnsureWallet(ctx context.Context, ownerID string) (Wallet, error) {
	if _, err := l.db.Exec(ctx, `INSERT INTO wallets (owner_id) VALUES ($1)
        ON CONFLICT (owner_id) DO NOTHING`, ownerID); err != nil {
		return Wallet{}, err
	}
	return l.Wallet(ctx, ownerID)
}

// Wallet returns the current balance snapshot.
func (l *PostgresLedger) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	return scanWallet(l.db.QueryRow(ctx, `SELECT owner_id, balance, held, created_at, updated_at
        FROM wallets WHERE owner_id = $1`, ownerID))
}

// Credit adds funds to a wallet, creating it on first use.
func (l *PostgresLedger) Credit(ctx context.Context, ownerID string, amount int64, reference, note string) (PostingResult, error) {
	if err := validatePosting(amount, reference); err != nil {
		return PostingResult{}, err
	}

	var res PostingResult
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockWallet(ctx, tx, ownerID, true); err != nil {
			return err
		}
		balance, err := adjustWallet(ctx, tx, ownerID, amount, 0)
		if err != nil {
			return err
		}
		t, err := insertTx(ctx, tx, Transaction{
			Reference: reference,
			Type:      TypeDeposit,
			Status:    StatusCompleted,
			Amount:    amount,
			Sender:    ProcessorParty,
			Recipient: InternalUser(ownerID),
			Note:      note,
		})
		if err != nil {
			return err
		}
		res = PostingResult{Transaction: t, Balance: balance}
		return nil
	})
	if errors.Is(err, ErrDuplicateReference) {
		return l.existingPosting(ctx, reference, ownerID)
	}
	return res, err
}

// Debit removes funds from an existing wallet.
func (l *PostgresLedger) Debit(ctx context.Context, ownerID string, amount int64, reference, note string) (PostingResult, error) {
	if err := validatePosting(amount, reference); err != nil {
		return PostingResult{}, err
	}

	var res PostingResult
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		w, err := lockWallet(ctx, tx, ownerID, false)
		if err != nil {
			return err
		}
		if w.Available() < amount {
			return ErrInsufficientFunds
		}
		balance, err := adjustWallet(ctx, tx, ownerID, -amount, 0)
		if err != nil {
			return err
		}
		t, err := insertTx(ctx, tx, Transaction{
			Reference: reference,
			Type:      TypeWithdrawal,
			Status:    StatusCompleted,
			Amount:    amount,
			Sender:    InternalUser(ownerID),
			Recipient: ProcessorParty,
			Note:      note,
		})
		if err != nil {
			return err
		}
		res = PostingResult{Transaction: t, Balance: balance}
		return nil
	})
	if errors.Is(err, ErrDuplicateReference) {
		return l.existingPosting(ctx, reference, ownerID)
	}
	return res, err
}

func (l *PostgresLedger) existingPosting(ctx context.Context, reference, ownerID string) (PostingResult, error) {
	t, err := findTx(ctx, l.db, "reference", reference, false)
	if err != nil {
		return PostingResult{}, err
	}
	return PostingResult{Transaction: t, Balance: walletBalance(ctx, l.db, ownerID)}, ErrDuplicateReference
}

// Transfer moves funds between two wallets in one database transaction.
func (l *PostgresLedger) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if err := validateTransfer(input); err != nil {
		return TransferResult{}, err
	}

	var res TransferResult
	err := l.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		res, err = transferTx(ctx, tx, input, TypeTransfer)
		return err
	})
	if errors.Is(err, ErrDuplicateReference) {
		t, findErr := findTx(ctx, l.db, "reference", input.Reference, false)
		if findErr != nil {
			return TransferResult{}, findErr
		}
		return TransferResult{
			Transaction: t,
			FromBalance: walletBalance(ctx, l.db, input.From),
			ToBalance:   walletBalance(ctx, l.db, input.To),
		}, ErrDuplicateReference
	}
	return res, err
}

func transferTx(ctx context.Context, tx pgx.Tx, input TransferInput, typ TransactionType) (TransferResult, error) {
	if _, err := findTx(ctx, tx, "reference", input.Reference, false); err == nil {
		return TransferResult{}, ErrDuplicateReference
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return TransferResult{}, err
	}

	first, second := input.From, input.To
	if second < first {
		first, second = second, first
	}
	locked := make(map[string]Wallet, 2)
	for _, owner := range []string{first, second} {
		w, err := lockWallet(ctx, tx, owner, owner == input.To)
		if err != nil {
			return TransferResult{}, err
		}
		locked[owner] = w
	}

	if locked[input.From].Available() < input.Amount {
		return TransferResult{}, ErrInsufficientFunds
	}

	fromBalance, err := adjustWallet(ctx, tx, input.From, -input.Amount, 0)
	if err != nil {
		return TransferResult{}, err
	}
	toBalance, err := adjustWallet(ctx, tx, input.To, input.Amount, 0)
	if err != nil {
		return TransferResult{}, err
	}

	t, err := insertTx(ctx, tx, Transaction{
		Reference: input.Reference,
		Type:      typ,
		Status:    StatusCompleted,
		Amount:    input.Amount,
		Sender:    InternalUser(input.From),
		Recipient: InternalUser(input.To),
		Note:      input.Note,
	})
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Transaction: t, FromBalance: fromBalance, ToBalance: toBalance}, nil
}

// TransactionByReference loads a transaction by its unique reference.
func (l *PostgresLedger) TransactionByReference(ctx context.Context, reference string) (Transaction, error) {
	return findTx(ctx, l.db, "reference", reference, false)
}

// TransactionByTransferCode loads a withdrawal by the processor's transfer code.
func (l *PostgresLedger) TransactionByTransferCode(ctx context.Context, transferCode string) (Transaction, error) {
	return findTx(ctx, l.db, "transfer_code", transferCode, false)
}

// History lists transactions where the owner is sender or recipient, newest first.
func (l *PostgresLedger) History(ctx context.Context, filter HistoryFilter) ([]Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions
        WHERE ((sender_kind = 'user' AND sender_ref = $1) OR (recipient_kind = 'user' AND recipient_ref = $1))`, txColumns)
	args := []any{filter.OwnerID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTxs(rows)
}
