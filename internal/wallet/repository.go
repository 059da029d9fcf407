package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tillbook/tillbook/internal/ledger"
)

// Repository persists wallet metadata.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id string) (*Wallet, error)
	ListForUser(ctx context.Context, userID string) ([]Wallet, error)
	List(ctx context.Context) ([]Wallet, error)
	Delete(ctx context.Context, id string) error
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return ledger.ValidationError{Field: "walletId", Message: "must be a UUID"}
	}
	userID, err := uuid.Parse(wallet.UserID)
	if err != nil {
		return ledger.ValidationError{Field: "userId", Message: "must be a UUID"}
	}
	_, err = r.db.Exec(ctx, `INSERT INTO wallets (id, user_id, currency, created_at)
        VALUES ($1, $2, $3, $4)`, walletID, userID, wallet.Currency, wallet.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ledger.ValidationError{Field: "userId", Message: "unknown user"}
	}
	return err
}

// Get fetches wallet metadata by identifier. A missing wallet is not an
// error: nil is returned.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return nil, ledger.ValidationError{Field: "walletId", Message: "must be a UUID"}
	}
	row := r.db.QueryRow(ctx, `SELECT id, user_id, currency, created_at FROM wallets WHERE id = $1`, walletID)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// ListForUser returns the user's wallets in creation order.
func (r *PostgresRepository) ListForUser(ctx context.Context, userID string) ([]Wallet, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return nil, ledger.ValidationError{Field: "userId", Message: "must be a UUID"}
	}
	rows, err := r.db.Query(ctx, `SELECT id, user_id, currency, created_at FROM wallets
        WHERE user_id = $1 ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWallets(rows)
}

// List returns every wallet.
func (r *PostgresRepository) List(ctx context.Context) ([]Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT id, user_id, currency, created_at FROM wallets ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWallets(rows)
}

// Delete removes a wallet row. The ledger_entries foreign key restricts the
// delete while entries still reference the wallet.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return ledger.ValidationError{Field: "walletId", Message: "must be a UUID"}
	}
	_, err = r.db.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, walletID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: wallet %s", ledger.ErrReferentialIntegrity, id)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var (
		w         Wallet
		id        uuid.UUID
		userID    uuid.UUID
		createdAt time.Time
	)
	if err := row.Scan(&id, &userID, &w.Currency, &createdAt); err != nil {
		return nil, err
	}
	w.ID = id.String()
	w.UserID = userID.String()
	w.CreatedAt = createdAt.UTC()
	return &w, nil
}

func collectWallets(rows pgx.Rows) ([]Wallet, error) {
	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}
