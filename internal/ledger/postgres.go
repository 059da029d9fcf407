package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tillbook/tillbook/internal/notification"
)

const conflictBackoff = 25 * time.Millisecond

// PostgresLedger persists transactions and entries in PostgreSQL ensuring
// double-entry balance. Each posting runs in one transaction holding a row
// lock on every affected wallet for the whole check-and-insert sequence, so
// two concurrent withdrawals cannot both observe a stale sufficient balance:
// the second blocks on the lock and re-reads the entry sum after the first
// commits.
type PostgresLedger struct {
	db     *pgxpool.Pool
	logger *slog.Logger
	opts   options
}

// NewPostgres constructs a Postgres-backed ledger implementation.
func NewPostgres(db *pgxpool.Pool, logger *slog.Logger, opts ...Option) *PostgresLedger {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresLedger{db: db, logger: logger, opts: o}
}

// EnsureWallet verifies the wallet row exists and carries the given currency.
func (l *PostgresLedger) EnsureWallet(ctx context.Context, walletID, currency string) error {
	if _, err := uuid.Parse(walletID); err != nil {
		return ValidationError{Field: "walletId", Message: "must be a UUID"}
	}
	var stored string
	err := l.db.QueryRow(ctx, `SELECT currency FROM wallets WHERE id = $1`, walletID).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
		}
		return classify(err)
	}
	if currency != "" && stored != currency {
		return ValidationError{Field: "currency", Message: fmt.Sprintf("wallet holds %s", stored)}
	}
	return nil
}

// Deposit posts a single-entry transaction crediting the wallet.
func (l *PostgresLedger) Deposit(ctx context.Context, walletID string, amount decimal.Decimal) (Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return Transaction{}, err
	}
	if _, err := uuid.Parse(walletID); err != nil {
		return Transaction{}, ValidationError{Field: "walletId", Message: "must be a UUID"}
	}

	var txn Transaction
	err := l.run(ctx, func(tx pgx.Tx) error {
		if _, err := lockWallet(ctx, tx, walletID); err != nil {
			return err
		}
		txn = l.newTransaction(TypeDeposit)
		txn.Entries = []Entry{l.newEntry(txn, walletID, amount)}
		return insertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return Transaction{}, err
	}
	l.afterPost(ctx, txn, walletID, walletID)
	return txn, nil
}

// Withdraw posts a single-entry transaction debiting the wallet, checking the
// projected balance under the wallet row lock.
func (l *PostgresLedger) Withdraw(ctx context.Context, walletID string, amount decimal.Decimal) (Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return Transaction{}, err
	}
	if _, err := uuid.Parse(walletID); err != nil {
		return Transaction{}, ValidationError{Field: "walletId", Message: "must be a UUID"}
	}

	var txn Transaction
	err := l.run(ctx, func(tx pgx.Tx) error {
		if _, err := lockWallet(ctx, tx, walletID); err != nil {
			return err
		}
		balance, err := balanceForWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if balance.Sub(amount).IsNegative() && !l.opts.overdraft {
			return ErrInsufficientFunds
		}
		txn = l.newTransaction(TypeWithdraw)
		txn.Entries = []Entry{l.newEntry(txn, walletID, amount.Neg())}
		return insertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return Transaction{}, err
	}
	l.afterPost(ctx, txn, walletID, walletID)
	return txn, nil
}

// Transfer posts one transaction with a debit against fromWalletID and a
// matching credit against toWalletID. Wallet rows are locked in identifier
// order so concurrent opposing transfers cannot deadlock.
func (l *PostgresLedger) Transfer(ctx context.Context, fromWalletID, toWalletID string, amount decimal.Decimal) (Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return Transaction{}, err
	}
	if _, err := uuid.Parse(fromWalletID); err != nil {
		return Transaction{}, ValidationError{Field: "fromWalletId", Message: "must be a UUID"}
	}
	if _, err := uuid.Parse(toWalletID); err != nil {
		return Transaction{}, ValidationError{Field: "toWalletId", Message: "must be a UUID"}
	}
	if fromWalletID == toWalletID {
		return Transaction{}, ValidationError{Field: "toWalletId", Message: "transfer to the same wallet"}
	}

	var txn Transaction
	err := l.run(ctx, func(tx pgx.Tx) error {
		first, second := fromWalletID, toWalletID
		if second < first {
			first, second = second, first
		}
		locked := map[string]walletRow{}
		for _, id := range []string{first, second} {
			w, err := lockWallet(ctx, tx, id)
			if err != nil {
				return err
			}
			locked[id] = w
		}
		if locked[fromWalletID].currency != locked[toWalletID].currency {
			return ErrCurrencyMismatch
		}

		balance, err := balanceForWallet(ctx, tx, fromWalletID)
		if err != nil {
			return err
		}
		if balance.Sub(amount).IsNegative() && !l.opts.overdraft {
			return ErrInsufficientFunds
		}

		txn = l.newTransaction(TypeTransfer)
		txn.Entries = []Entry{
			l.newEntry(txn, fromWalletID, amount.Neg()),
			l.newEntry(txn, toWalletID, amount),
		}
		return insertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return Transaction{}, err
	}
	l.afterPost(ctx, txn, toWalletID, fromWalletID, toWalletID)
	return txn, nil
}

// Balance returns the coalesced sum of the wallet's entries. A cached value
// may serve reads once the wallet is known to exist; sufficiency checks
// always recompute under lock. Cache fills are fenced so a posting committed
// between the sum and the fill wins over the stale value.
func (l *PostgresLedger) Balance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	if _, err := uuid.Parse(walletID); err != nil {
		return decimal.Zero, ValidationError{Field: "walletId", Message: "must be a UUID"}
	}
	if err := l.walletExists(ctx, walletID); err != nil {
		return decimal.Zero, err
	}
	var fence string
	if l.opts.cache != nil {
		if balance, ok := l.opts.cache.Get(ctx, walletID); ok {
			return balance, nil
		}
		fence = l.opts.cache.Fence(ctx, walletID)
	}
	var raw string
	if err := l.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries WHERE wallet_id = $1`, walletID).Scan(&raw); err != nil {
		return decimal.Zero, classify(err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	if l.opts.cache != nil {
		l.opts.cache.Put(ctx, walletID, balance, fence)
	}
	return balance, nil
}

// Entries returns the wallet's entries in canonical history order.
func (l *PostgresLedger) Entries(ctx context.Context, walletID string) ([]Entry, error) {
	if _, err := uuid.Parse(walletID); err != nil {
		return nil, ValidationError{Field: "walletId", Message: "must be a UUID"}
	}
	if err := l.walletExists(ctx, walletID); err != nil {
		return nil, err
	}
	rows, err := l.db.Query(ctx, `SELECT id, wallet_id, transaction_id, amount::text, created_at
        FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at ASC, seq ASC`, walletID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetTransaction fetches a transaction with its entries in insertion order.
func (l *PostgresLedger) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	txnID, err := uuid.Parse(id)
	if err != nil {
		return nil, ValidationError{Field: "transactionId", Message: "must be a UUID"}
	}
	var txn Transaction
	var createdAt time.Time
	row := l.db.QueryRow(ctx, `SELECT id, type, status, created_at FROM transactions WHERE id = $1`, txnID)
	if err := row.Scan(&txn.ID, &txn.Type, &txn.Status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	txn.CreatedAt = createdAt.UTC()

	rows, err := l.db.Query(ctx, `SELECT id, wallet_id, transaction_id, amount::text, created_at
        FROM ledger_entries WHERE transaction_id = $1 ORDER BY seq ASC`, txnID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	txn.Entries, err = scanEntries(rows)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// DeleteTransaction removes a transaction row. Restricted while entries
// reference it.
func (l *PostgresLedger) DeleteTransaction(ctx context.Context, id string) error {
	txnID, err := uuid.Parse(id)
	if err != nil {
		return ValidationError{Field: "transactionId", Message: "must be a UUID"}
	}
	if _, err := l.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, txnID); err != nil {
		return classify(err)
	}
	return nil
}

// DeleteEntry removes a single entry row and drops the affected wallet's
// cached balance.
func (l *PostgresLedger) DeleteEntry(ctx context.Context, id string) error {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return ValidationError{Field: "entryId", Message: "must be a UUID"}
	}
	var walletID string
	if err := l.db.QueryRow(ctx, `DELETE FROM ledger_entries WHERE id = $1 RETURNING wallet_id`, entryID).Scan(&walletID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return classify(err)
	}
	if l.opts.cache != nil {
		l.opts.cache.Invalidate(ctx, walletID)
	}
	return nil
}

func (l *PostgresLedger) newTransaction(t TransactionType) Transaction {
	return Transaction{
		ID:        l.opts.newID(),
		Type:      t,
		Status:    StatusPosted,
		CreatedAt: l.opts.now(),
	}
}

func (l *PostgresLedger) newEntry(txn Transaction, walletID string, amount decimal.Decimal) Entry {
	return Entry{
		ID:            l.opts.newID(),
		WalletID:      walletID,
		TransactionID: txn.ID,
		Amount:        amount,
		CreatedAt:     txn.CreatedAt,
	}
}

// run executes fn inside a database transaction, retrying a bounded number
// of times with backoff when the store reports a conflict.
func (l *PostgresLedger) run(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= l.opts.maxRetries; attempt++ {
		err := l.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		lastErr = err
		if l.logger != nil {
			l.logger.Warn("transactional conflict", "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * conflictBackoff):
		}
	}
	return lastErr
}

func (l *PostgresLedger) runOnce(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (l *PostgresLedger) walletExists(ctx context.Context, walletID string) error {
	var exists bool
	if err := l.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM wallets WHERE id = $1)`, walletID).Scan(&exists); err != nil {
		return classify(err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}
	return nil
}

func (l *PostgresLedger) afterPost(ctx context.Context, txn Transaction, destination string, walletIDs ...string) {
	if l.opts.cache != nil {
		l.opts.cache.Invalidate(ctx, walletIDs...)
	}
	if l.opts.notifier != nil {
		_ = l.opts.notifier.Send(ctx, notification.Message{
			Kind:        kindFor(txn.Type),
			Destination: destination,
			Body:        fmt.Sprintf("transaction %s posted", txn.ID),
		})
	}
}

func kindFor(t TransactionType) string {
	switch t {
	case TypeWithdraw:
		return notification.KindWithdraw
	case TypeTransfer:
		return notification.KindTransfer
	default:
		return notification.KindDeposit
	}
}

type walletRow struct {
	id       string
	currency string
}

func lockWallet(ctx context.Context, tx pgx.Tx, walletID string) (walletRow, error) {
	const query = `SELECT id, currency FROM wallets WHERE id = $1 FOR UPDATE`
	var w walletRow
	if err := tx.QueryRow(ctx, query, walletID).Scan(&w.id, &w.currency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return walletRow{}, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
		}
		return walletRow{}, err
	}
	return w, nil
}

func balanceForWallet(ctx context.Context, tx pgx.Tx, walletID string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries WHERE wallet_id = $1`
	var raw string
	if err := tx.QueryRow(ctx, query, walletID).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, txn Transaction) error {
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, type, status, created_at) VALUES ($1, $2, $3, $4)`,
		txn.ID, string(txn.Type), string(txn.Status), txn.CreatedAt); err != nil {
		return err
	}
	for _, e := range txn.Entries {
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, wallet_id, transaction_id, amount, created_at)
            VALUES ($1, $2, $3, $4, $5)`, e.ID, e.WalletID, e.TransactionID, e.Amount.StringFixed(2), e.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var raw string
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.WalletID, &e.TransactionID, &raw, &createdAt); err != nil {
			return nil, classify(err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		e.Amount = amount
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// classify maps store failures onto the ledger error taxonomy. Domain errors
// pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrReferentialIntegrity) ||
		errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock victim
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		case "23503":
			return fmt.Errorf("%w: %v", ErrReferentialIntegrity, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
