package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tillbook/tillbook/internal/ledger"
)

func TestServiceCreateAndBalance(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	userID := uuid.NewString()
	w, err := svc.Create(ctx, CreateInput{UserID: userID, Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	fetched, err := svc.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if fetched == nil || fetched.ID != w.ID || fetched.UserID != userID {
		t.Fatalf("unexpected wallet: %+v", fetched)
	}

	ledger.SeedBalance(led, w.ID, decimal.RequireFromString("25.00"))

	balance, err := svc.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Amount.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected balance 25.00, got %s", balance.Amount)
	}
}

func TestServiceCreateValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{UserID: "not-a-uuid", Currency: "USD"}); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error for bad user id, got %v", err)
	}
	for _, currency := range []string{"", "US", "usd", "USDX", "U5D"} {
		if _, err := svc.Create(ctx, CreateInput{UserID: uuid.NewString(), Currency: currency}); !ledger.IsValidation(err) {
			t.Fatalf("expected validation error for currency %q, got %v", currency, err)
		}
	}
}

type failingRegistrationLedger struct {
	ledger.Ledger
}

func (failingRegistrationLedger) EnsureWallet(context.Context, string, string) error {
	return ledger.ErrStorageUnavailable
}

func TestServiceCreateRollsBackOnRegistrationFailure(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, failingRegistrationLedger{})
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{UserID: uuid.NewString(), Currency: "USD"}); !errors.Is(err, ledger.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}

	wallets, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(wallets) != 0 {
		t.Fatalf("failed registration must leave no wallet row, got %+v", wallets)
	}
}

func TestServiceGetMissingWallet(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())

	w, err := svc.Get(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil for missing wallet, got %+v", w)
	}
}

func TestServiceListForUser(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	owner := uuid.NewString()
	other := uuid.NewString()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, CreateInput{UserID: owner, Currency: "USD"}); err != nil {
			t.Fatalf("create wallet %d: %v", i, err)
		}
	}
	if _, err := svc.Create(ctx, CreateInput{UserID: other, Currency: "EUR"}); err != nil {
		t.Fatalf("create other wallet: %v", err)
	}

	wallets, err := svc.ListForUser(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(wallets) != 3 {
		t.Fatalf("expected 3 wallets, got %d", len(wallets))
	}
	for _, w := range wallets {
		if w.UserID != owner {
			t.Fatalf("foreign wallet in listing: %+v", w)
		}
	}
}

func TestServiceHistoryOrder(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	w, err := svc.Create(ctx, CreateInput{UserID: uuid.NewString(), Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	amounts := []string{"10.00", "20.00", "30.00"}
	for _, a := range amounts {
		if _, err := led.Deposit(ctx, w.ID, decimal.RequireFromString(a)); err != nil {
			t.Fatalf("deposit %s: %v", a, err)
		}
	}

	history, err := svc.History(ctx, w.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != len(amounts) {
		t.Fatalf("expected %d entries, got %d", len(amounts), len(history))
	}
	for i, a := range amounts {
		if !history[i].Amount.Equal(decimal.RequireFromString(a)) {
			t.Fatalf("entry %d out of order: got %s, want %s", i, history[i].Amount, a)
		}
	}
}

func TestServiceDeleteRestrictedByEntries(t *testing.T) {
	repo := NewMemoryRepository()
	led := ledger.NewInMemory()
	svc := NewService(repo, led)

	ctx := context.Background()
	w, err := svc.Create(ctx, CreateInput{UserID: uuid.NewString(), Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := led.Deposit(ctx, w.ID, decimal.RequireFromString("1.00")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := svc.Delete(ctx, w.ID); !errors.Is(err, ledger.ErrReferentialIntegrity) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
	if fetched, _ := svc.Get(ctx, w.ID); fetched == nil {
		t.Fatal("wallet must survive a restricted delete")
	}

	empty, err := svc.Create(ctx, CreateInput{UserID: uuid.NewString(), Currency: "USD"})
	if err != nil {
		t.Fatalf("create empty wallet: %v", err)
	}
	if err := svc.Delete(ctx, empty.ID); err != nil {
		t.Fatalf("delete empty wallet: %v", err)
	}
}

func TestIsValidCurrencyCode(t *testing.T) {
	valid := []string{"USD", "EUR", "XAF"}
	for _, code := range valid {
		if !IsValidCurrencyCode(code) {
			t.Fatalf("expected %q valid", code)
		}
	}
	invalid := []string{"", "US", "usd", "USDT", "U1D", "ÚSD"}
	for _, code := range invalid {
		if IsValidCurrencyCode(code) {
			t.Fatalf("expected %q invalid", code)
		}
	}
}
