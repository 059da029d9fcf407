package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tillbook/tillbook/internal/ledger"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	UserID   string
	Currency string
}

// Create provisions a wallet and registers it with the posting engine.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.UserID); err != nil {
		return Wallet{}, ledger.ValidationError{Field: "userId", Message: "must be a UUID"}
	}
	if !IsValidCurrencyCode(input.Currency) {
		return Wallet{}, ledger.ValidationError{Field: "currency", Message: "must be a three letter uppercase code"}
	}

	wallet := Wallet{
		ID:        uuid.NewString(),
		UserID:    input.UserID,
		Currency:  input.Currency,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	if err := s.ledger.EnsureWallet(ctx, wallet.ID, wallet.Currency); err != nil {
		// Undo the row so a failed registration leaves nothing behind.
		_ = s.repo.Delete(ctx, wallet.ID)
		return Wallet{}, err
	}

	return wallet, nil
}

// Get retrieves wallet metadata. A missing wallet yields nil, not an error.
func (s *Service) Get(ctx context.Context, id string) (*Wallet, error) {
	return s.repo.Get(ctx, id)
}

// ListForUser returns the user's wallets in creation order.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Wallet, error) {
	return s.repo.ListForUser(ctx, userID)
}

// Balance returns the derived ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	if w == nil {
		return Balance{}, fmt.Errorf("%w: %s", ledger.ErrWalletNotFound, id)
	}
	amount, err := s.ledger.Balance(ctx, w.ID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// History returns the wallet's ledger entries in canonical order, the view a
// statement or export renders.
func (s *Service) History(ctx context.Context, id string) ([]ledger.Entry, error) {
	return s.ledger.Entries(ctx, id)
}

// Delete removes a wallet. It fails with ErrReferentialIntegrity while ledger
// entries still reference it; the foreign key is the final arbiter on the
// Postgres backend.
func (s *Service) Delete(ctx context.Context, id string) error {
	entries, err := s.ledger.Entries(ctx, id)
	if err != nil && !errors.Is(err, ledger.ErrWalletNotFound) {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: wallet %s", ledger.ErrReferentialIntegrity, id)
	}
	return s.repo.Delete(ctx, id)
}

// PurgeForUser deletes every wallet belonging to the user, refusing when any
// of them still has ledger entries. Supports the user delete cascade.
func (s *Service) PurgeForUser(ctx context.Context, userID string) error {
	wallets, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, w := range wallets {
		if err := s.Delete(ctx, w.ID); err != nil {
			return err
		}
	}
	return nil
}
