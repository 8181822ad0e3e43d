package ledger

// SeedBalance is a test helper that sets the balance of a wallet when using the
// in-memory ledger, creating the wallet if needed.
func SeedBalance(l Ledger, ownerID string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.getOrCreate(ownerID)
		w.Balance = amount
	}
}
