package wallet

import (
	"time"

	"github.com/congo-pay/ledgerpay/internal/ledger"
)

// Summary is a wallet's balance split into reserved and spendable funds.
type Summary struct {
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	Held      int64     `json:"held"`
	Available int64     `json:"available"`
	AsOf      time.Time `json:"as_of"`
}

// Direction tells whether a transaction added to or took from the wallet.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Entry is one transaction as seen from a single wallet.
type Entry struct {
	ID            string                 `json:"id"`
	Reference     string                 `json:"reference"`
	Type          ledger.TransactionType `json:"type"`
	Status        ledger.Status          `json:"status"`
	Direction     Direction              `json:"direction"`
	Amount        int64                  `json:"amount"`
	Counterparty  string                 `json:"counterparty,omitempty"`
	Note          string                 `json:"note,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// Query filters a wallet's history.
type Query struct {
	OwnerID string
	Type    ledger.TransactionType
	From    time.Time
	To      time.Time
	Limit   int
}
