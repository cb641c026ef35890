package ledger

import "context"

// SeedBalance is a test helper that sets the balance for an account. The
// in-memory ledger is mutated directly; other backends receive a top-up from
// the funding account.
func SeedBalance(l Ledger, code string, amount int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[code] = amount
		return
	}
	ctx := context.Background()
	_ = EnsureSystemAccounts(ctx, l)
	_ = l.EnsureAccount(ctx, code)
	_, _ = l.Transfer(ctx, FundingAccountCode, code, "seed", code, amount)
}
