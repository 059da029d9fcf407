package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tillbook/tillbook/internal/notification"
)

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// Every posting operation executes as a single atomic unit: on any failure
// mid-sequence nothing is persisted.
type Ledger interface {
	// EnsureWallet makes the wallet known to the posting engine. Backends
	// holding the wallets table verify the row exists and carries the given
	// currency; the in-memory backend registers it.
	EnsureWallet(ctx context.Context, walletID, currency string) error

	// Deposit posts a transaction crediting the wallet with amount.
	Deposit(ctx context.Context, walletID string, amount decimal.Decimal) (Transaction, error)

	// Withdraw posts a transaction debiting the wallet by amount, failing with
	// ErrInsufficientFunds when the projected balance would go negative and
	// overdraft is not permitted.
	Withdraw(ctx context.Context, walletID string, amount decimal.Decimal) (Transaction, error)

	// Transfer posts one transaction with two entries whose sum is exactly
	// zero, debiting fromWalletID and crediting toWalletID.
	Transfer(ctx context.Context, fromWalletID, toWalletID string, amount decimal.Decimal) (Transaction, error)

	// Balance returns the sum of all entry amounts for the wallet, zero when
	// the wallet has no entries.
	Balance(ctx context.Context, walletID string) (decimal.Decimal, error)

	// Entries lists the wallet's entries ordered by creation time ascending.
	// This is the canonical history order.
	Entries(ctx context.Context, walletID string) ([]Entry, error)

	// GetTransaction fetches a transaction with its entries in insertion
	// order. Absence is not an error: a nil transaction is returned.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// DeleteTransaction removes a transaction. It fails with
	// ErrReferentialIntegrity while entries still reference it.
	DeleteTransaction(ctx context.Context, id string) error

	// DeleteEntry removes a single entry. Privileged administrative
	// operation; normal corrections are new reversing entries.
	DeleteEntry(ctx context.Context, id string) error
}

const defaultMaxRetries = 3

type options struct {
	overdraft  bool
	maxRetries int
	cache      *BalanceCache
	notifier   notification.Notifier
	now        func() time.Time
	newID      func() string
}

func defaultOptions() options {
	return options{
		maxRetries: defaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// Option customises a ledger backend.
type Option func(*options)

// WithOverdraft permits wallet balances to go negative on withdrawals and
// outgoing transfers.
func WithOverdraft(allowed bool) Option {
	return func(o *options) { o.overdraft = allowed }
}

// WithMaxRetries bounds the number of attempts made when the store reports a
// transactional conflict.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithBalanceCache attaches a read-aside balance cache. The cache is
// invalidated in the same logical operation as every posting and is never
// consulted for sufficiency checks.
func WithBalanceCache(cache *BalanceCache) Option {
	return func(o *options) { o.cache = cache }
}

// WithNotifier attaches a notifier invoked best-effort after each posted
// transaction.
func WithNotifier(n notification.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock overrides the timestamp source. Useful for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides the identifier source. Useful for deterministic
// tests.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}
