package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/money"
	"github.com/congo-pay/ledgerpay/internal/report"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	// maxExportRows bounds a single CSV export.
	maxExportRows = 10_000
)

var (
	ErrInvalidType  = errors.New("unknown transaction type")
	ErrInvalidRange = errors.New("from must not be after to")
)

// Store is the read side of the ledger used by the wallet views.
type Store interface {
	Wallet(ctx context.Context, ownerID string) (ledger.Wallet, error)
	History(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, error)
}

// Service exposes read-only wallet views backed by the ledger.
type Service struct {
	store Store
}

// NewService builds a wallet service instance.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Summary returns the balance of the owner's wallet. Owners who never
// received funds see an empty wallet.
func (s *Service) Summary(ctx context.Context, ownerID string) (Summary, error) {
	w, err := s.store.Wallet(ctx, ownerID)
	if errors.Is(err, ledger.ErrWalletNotFound) {
		w = ledger.Wallet{OwnerID: ownerID}
	} else if err != nil {
		return Summary{}, err
	}
	return Summary{
		OwnerID:   ownerID,
		Currency:  money.Currency,
		Balance:   w.Balance,
		Held:      w.Held,
		Available: w.Available(),
		AsOf:      time.Now().UTC(),
	}, nil
}

// History lists the owner's transactions, newest first.
func (s *Service) History(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 {
		q.Limit = defaultHistoryLimit
	}
	if q.Limit > maxHistoryLimit {
		q.Limit = maxHistoryLimit
	}
	txs, err := s.transactions(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toEntry(q.OwnerID, tx))
	}
	return out, nil
}

// ExportCSV writes the owner's filtered history to w.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, q Query) error {
	q.Limit = maxExportRows
	txs, err := s.transactions(ctx, q)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(w, txs); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func (s *Service) transactions(ctx context.Context, q Query) ([]ledger.Transaction, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, ErrInvalidType
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return nil, ErrInvalidRange
	}
	return s.store.History(ctx, ledger.HistoryFilter{
		OwnerID: q.OwnerID,
		Type:    q.Type,
		From:    q.From,
		To:      q.To,
		Limit:   q.Limit,
	})
}

func toEntry(ownerID string, tx ledger.Transaction) Entry {
	e := Entry{
		ID:            tx.ID,
		Reference:     tx.Reference,
		Type:          tx.Type,
		Status:        tx.Status,
		Amount:        tx.Amount,
		Note:          tx.Note,
		FailureReason: tx.FailureReason,
		CreatedAt:     tx.CreatedAt,
		CompletedAt:   tx.CompletedAt,
	}
	if tx.Recipient.IsUser(ownerID) {
		e.Direction = Credit
		e.Counterparty = tx.Sender.String()
	} else {
		e.Direction = Debit
		e.Counterparty = tx.Recipient.String()
	}
	return e
}
