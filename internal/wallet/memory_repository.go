package wallet

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Wallet
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Wallet)}
}

func (r *memoryRepository) Create(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[wallet.ID]; exists {
		return errors.New("wallet exists")
	}
	r.storage[wallet.ID] = wallet
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok {
		return nil, nil
	}
	return &wallet, nil
}

func (r *memoryRepository) ListForUser(_ context.Context, userID string) ([]Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var wallets []Wallet
	for _, w := range r.storage {
		if w.UserID == userID {
			wallets = append(wallets, w)
		}
	}
	sortByCreation(wallets)
	return wallets, nil
}

func (r *memoryRepository) List(_ context.Context) ([]Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallets := make([]Wallet, 0, len(r.storage))
	for _, w := range r.storage {
		wallets = append(wallets, w)
	}
	sortByCreation(wallets)
	return wallets, nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.storage, id)
	return nil
}

func sortByCreation(wallets []Wallet) {
	sort.Slice(wallets, func(i, j int) bool {
		if wallets[i].CreatedAt.Equal(wallets[j].CreatedAt) {
			return wallets[i].ID < wallets[j].ID
		}
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})
}
