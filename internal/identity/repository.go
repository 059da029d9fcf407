package identity

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

// ErrEmailTaken indicates the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Delete(ctx context.Context, id string) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return ledger.ValidationError{Field: "userId", Message: "must be a UUID"}
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, password_hash, created_at)
        VALUES ($1, $2, $3, $4)`, userID, user.Email, user.PasswordHash, user.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

// Get fetches a user by identifier. A missing user is not an error: nil is
// returned.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, ledger.ValidationError{Field: "userId", Message: "must be a UUID"}
	}
	row := r.db.QueryRow(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// GetByEmail fetches a user by email. Emails are stored lowercase, so the
// lookup is exact against the normalized form.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRow(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// List returns every registered user.
func (r *PostgresRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, email, password_hash, created_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Delete removes a user row. The wallets foreign key cascades, and the
// ledger_entries foreign key restricts the cascade for any wallet that still
// has entries.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ledger.ValidationError{Field: "userId", Message: "must be a UUID"}
	}
	_, err = r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: user %s", ledger.ErrReferentialIntegrity, id)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		id        uuid.UUID
		createdAt time.Time
	)
	if err := row.Scan(&id, &u.Email, &u.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.ID = id.String()
	u.CreatedAt = createdAt.UTC()
	return &u, nil
}
