package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType names the logical money movement a transaction performs.
type TransactionType string

const (
	// TypeDeposit credits a single wallet from outside the ledger.
	TypeDeposit TransactionType = "deposit"
	// TypeWithdraw debits a single wallet to outside the ledger.
	TypeWithdraw TransactionType = "withdraw"
	// TypeTransfer moves value between two wallets of the same currency.
	TypeTransfer TransactionType = "transfer"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdraw, TypeTransfer:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a transaction.
// posted is terminal: a posted transaction is never mutated, corrections are
// new transactions with reversing entries.
type TransactionStatus string

const (
	// StatusPending marks a transaction whose entries are not yet committed.
	StatusPending TransactionStatus = "pending"
	// StatusPosted marks a committed, immutable transaction.
	StatusPosted TransactionStatus = "posted"
	// StatusFailed marks a transaction rejected before posting.
	StatusFailed TransactionStatus = "failed"
)

// Transaction is an atomic group of ledger entries representing one logical
// money movement. A posted transaction always carries at least one entry, and
// a transfer's entries sum to exactly zero.
type Transaction struct {
	ID        string
	Type      TransactionType
	Status    TransactionStatus
	CreatedAt time.Time
	Entries   []Entry
}

// Entry is an immutable signed movement against exactly one wallet, belonging
// to exactly one transaction. Entries are append-only: never updated, only
// inserted.
type Entry struct {
	ID            string
	WalletID      string
	TransactionID string
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

// validateAmount rejects non-positive amounts and amounts with more than two
// fractional digits.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ValidationError{Field: "amount", Message: "must be positive"}
	}
	if amount.Exponent() < -2 {
		return ValidationError{Field: "amount", Message: "at most two fractional digits"}
	}
	return nil
}
