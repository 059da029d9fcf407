package ledger

import (
	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that seeds a wallet balance when using the
// in-memory ledger by appending a posted deposit directly to the log.
func SeedBalance(l Ledger, walletID string, amount decimal.Decimal) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if _, exists := mem.wallets[walletID]; !exists {
			mem.wallets[walletID] = ""
		}
		mem.post(TypeDeposit, posting{walletID: walletID, amount: amount})
	}
}
