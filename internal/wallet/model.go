package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a named currency balance bucket owned by a user. Its balance is
// never stored on the row; it is derived from the ledger entry log.
type Wallet struct {
	ID        string
	UserID    string
	Currency  string
	CreatedAt time.Time
}

// Balance encapsulates the derived funds of a wallet at a point in time.
type Balance struct {
	WalletID string
	Amount   decimal.Decimal
	AsOf     time.Time
}

// IsValidCurrencyCode reports whether code is a three letter uppercase
// ISO 4217 style currency code.
func IsValidCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
