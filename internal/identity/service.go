package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tillbook/tillbook/internal/ledger"
)

const minPasswordLength = 8

// WalletPurger removes every wallet belonging to a user, honouring the ledger
// entry restriction. Implemented by the wallet service.
type WalletPurger interface {
	PurgeForUser(ctx context.Context, userID string) error
}

// Service manages the user lifecycle.
type Service struct {
	repo    Repository
	wallets WalletPurger
}

// NewService creates a new identity service.
func NewService(repo Repository, wallets WalletPurger) *Service {
	return &Service{repo: repo, wallets: wallets}
}

// Register creates a user with a bcrypt-hashed password. Emails are
// normalized to lowercase before storage and lookup.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	email := NormalizeEmail(creds.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, ledger.ValidationError{Field: "email", Message: "must be a valid address"}
	}
	if len(creds.Password) < minPasswordLength {
		return User{}, ledger.ValidationError{Field: "password", Message: "too short"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Get fetches a user by id; a missing user yields nil, not an error.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.Get(ctx, id)
}

// GetByEmail fetches a user by email after normalization.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, NormalizeEmail(email))
}

// List returns every registered user.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Delete removes a user and cascades over their wallets. The cascade refuses
// when any wallet still has ledger entries.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.wallets != nil {
		if err := s.wallets.PurgeForUser(ctx, id); err != nil {
			return err
		}
	}
	return s.repo.Delete(ctx, id)
}

// NormalizeEmail lowercases and trims an email address. Lookup and storage
// both apply it, so matching is exact on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
