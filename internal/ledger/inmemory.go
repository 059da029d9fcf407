package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tillbook/tillbook/internal/notification"
)

// inMemoryLedger keeps the entry log in process memory. A single mutex makes
// every posting linearizable, matching the isolation the Postgres backend
// provides with row locks.
type inMemoryLedger struct {
	mu      sync.RWMutex
	opts    options
	wallets map[string]string // wallet id -> currency
	entries []Entry           // append-only, insertion order
	txns    map[string]Transaction
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory(opts ...Option) Ledger {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &inMemoryLedger{
		opts:    o,
		wallets: make(map[string]string),
		txns:    make(map[string]Transaction),
	}
}

func (l *inMemoryLedger) EnsureWallet(_ context.Context, walletID, currency string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.wallets[walletID]; ok {
		if currency != "" && existing != currency {
			return ValidationError{Field: "currency", Message: fmt.Sprintf("wallet holds %s", existing)}
		}
		return nil
	}
	l.wallets[walletID] = currency
	return nil
}

func (l *inMemoryLedger) Deposit(ctx context.Context, walletID string, amount decimal.Decimal) (Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	if _, ok := l.wallets[walletID]; !ok {
		l.mu.Unlock()
		return Transaction{}, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}
	txn := l.post(TypeDeposit, posting{walletID: walletID, amount: amount})
	l.mu.Unlock()

	l.notify(ctx, txn, walletID)
	return txn, nil
}

func (l *inMemoryLedger) Withdraw(ctx context.Context, walletID string, amount decimal.Decimal) (Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	if _, ok := l.wallets[walletID]; !ok {
		l.mu.Unlock()
		return Transaction{}, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}
	if l.balanceLocked(walletID).Sub(amount).IsNegative() && !l.opts.overdraft {
		l.mu.Unlock()
		return Transaction{}, ErrInsufficientFunds
	}
	txn := l.post(TypeWithdraw, posting{walletID: walletID, amount: amount.Neg()})
	l.mu.Unlock()

	l.notify(ctx, txn, walletID)
	return txn, nil
}

func (l *inMemoryLedger) Transfer(ctx context.Context, fromWalletID, toWalletID string, amount decimal.Decimal) (Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return Transaction{}, err
	}
	if fromWalletID == toWalletID {
		return Transaction{}, ValidationError{Field: "toWalletId", Message: "transfer to the same wallet"}
	}

	l.mu.Lock()
	fromCurrency, ok := l.wallets[fromWalletID]
	if !ok {
		l.mu.Unlock()
		return Transaction{}, fmt.Errorf("%w: %s", ErrWalletNotFound, fromWalletID)
	}
	toCurrency, ok := l.wallets[toWalletID]
	if !ok {
		l.mu.Unlock()
		return Transaction{}, fmt.Errorf("%w: %s", ErrWalletNotFound, toWalletID)
	}
	if fromCurrency != toCurrency {
		l.mu.Unlock()
		return Transaction{}, ErrCurrencyMismatch
	}
	if l.balanceLocked(fromWalletID).Sub(amount).IsNegative() && !l.opts.overdraft {
		l.mu.Unlock()
		return Transaction{}, ErrInsufficientFunds
	}
	txn := l.post(TypeTransfer,
		posting{walletID: fromWalletID, amount: amount.Neg()},
		posting{walletID: toWalletID, amount: amount},
	)
	l.mu.Unlock()

	l.notify(ctx, txn, toWalletID)
	return txn, nil
}

func (l *inMemoryLedger) Balance(_ context.Context, walletID string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.wallets[walletID]; !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}
	return l.balanceLocked(walletID), nil
}

func (l *inMemoryLedger) Entries(_ context.Context, walletID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.wallets[walletID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}
	var entries []Entry
	for _, e := range l.entries {
		if e.WalletID == walletID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (l *inMemoryLedger) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	txn, ok := l.txns[id]
	if !ok {
		return nil, nil
	}
	txn.Entries = nil
	for _, e := range l.entries {
		if e.TransactionID == id {
			txn.Entries = append(txn.Entries, e)
		}
	}
	return &txn, nil
}

func (l *inMemoryLedger) DeleteTransaction(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.txns[id]; !ok {
		return nil
	}
	for _, e := range l.entries {
		if e.TransactionID == id {
			return fmt.Errorf("%w: transaction %s", ErrReferentialIntegrity, id)
		}
	}
	delete(l.txns, id)
	return nil
}

func (l *inMemoryLedger) DeleteEntry(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

type posting struct {
	walletID string
	amount   decimal.Decimal
}

// post appends a posted transaction and its entries. Caller holds the lock.
func (l *inMemoryLedger) post(t TransactionType, postings ...posting) Transaction {
	txn := Transaction{
		ID:        l.opts.newID(),
		Type:      t,
		Status:    StatusPosted,
		CreatedAt: l.opts.now(),
	}
	for _, p := range postings {
		entry := Entry{
			ID:            l.opts.newID(),
			WalletID:      p.walletID,
			TransactionID: txn.ID,
			Amount:        p.amount,
			CreatedAt:     txn.CreatedAt,
		}
		txn.Entries = append(txn.Entries, entry)
		l.entries = append(l.entries, entry)
	}
	l.txns[txn.ID] = Transaction{ID: txn.ID, Type: txn.Type, Status: txn.Status, CreatedAt: txn.CreatedAt}
	return txn
}

// balanceLocked sums the wallet's entries. Caller holds the lock.
func (l *inMemoryLedger) balanceLocked(walletID string) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range l.entries {
		if e.WalletID == walletID {
			balance = balance.Add(e.Amount)
		}
	}
	return balance
}

func (l *inMemoryLedger) notify(ctx context.Context, txn Transaction, destination string) {
	if l.opts.notifier == nil {
		return
	}
	_ = l.opts.notifier.Send(ctx, notification.Message{
		Kind:        kindFor(txn.Type),
		Destination: destination,
		Body:        fmt.Sprintf("transaction %s posted", txn.ID),
	})
}
