package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCurrencyMismatch indicates a transfer between wallets holding
	// different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrWalletNotFound indicates the referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrReferentialIntegrity indicates a delete was blocked because dependent
	// ledger rows still reference the target.
	ErrReferentialIntegrity = errors.New("dependent ledger rows exist")

	// ErrConcurrencyConflict indicates the backing store detected a
	// transactional conflict. The whole operation is safe to retry.
	ErrConcurrencyConflict = errors.New("transactional conflict")

	// ErrStorageUnavailable indicates a connectivity or infrastructure failure.
	// Nothing was persisted.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError reports malformed input detected before any write is
// attempted. Callers fix the input; the operation is never retried as-is.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the formatted validation failure.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
