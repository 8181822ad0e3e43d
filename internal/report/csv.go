package report

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/money"
)

// Header is the first row written by WriteCSV.
var Header = []string{"reference", "type", "status", "amount", "sender", "recipient", "note", "created_at"}

// WriteCSV renders txs as CSV. Amounts are written in major units.
func WriteCSV(w io.Writer, txs []ledger.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, tx := range txs {
		if err := cw.Write([]string{
			tx.Reference,
			string(tx.Type),
			string(tx.Status),
			money.Format(tx.Amount),
			textCell(tx.Sender.String()),
			textCell(tx.Recipient.String()),
			textCell(tx.Note),
			tx.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// textCell quotes user-supplied text that a spreadsheet would otherwise
// evaluate as a formula.
func textCell(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}
