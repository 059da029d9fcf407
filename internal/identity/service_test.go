package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/tillbook/tillbook/internal/ledger"
	"github.com/tillbook/tillbook/internal/wallet"
)

func TestServiceRegisterNormalizesEmail(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Email: "  Alice@Example.COM ", Password: "correct horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte("correct horse")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	fetched, err := svc.GetByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if fetched == nil || fetched.ID != user.ID {
		t.Fatalf("lookup through differently cased email failed: %+v", fetched)
	}
}

func TestServiceRegisterValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, Credentials{Email: "", Password: "long enough"}); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error for empty email, got %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Email: "no-at-sign", Password: "long enough"}); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error for malformed email, got %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Email: "bob@example.com", Password: "short"}); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}
}

func TestServiceRegisterDuplicateEmail(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, Credentials{Email: "carol@example.com", Password: "long enough"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Email: "Carol@Example.com", Password: "long enough"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
}

func TestServiceGetMissingUser(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)

	user, err := svc.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil for missing user, got %+v", user)
	}
}

func TestServiceDeleteCascadesWallets(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led)
	svc := NewService(NewMemoryRepository(), wallets)

	user, err := svc.Register(ctx, Credentials{Email: "dave@example.com", Password: "long enough"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	w, err := wallets.Create(ctx, wallet.CreateInput{UserID: user.ID, Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	if err := svc.Delete(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if fetched, _ := svc.Get(ctx, user.ID); fetched != nil {
		t.Fatalf("expected user gone, got %+v", fetched)
	}
	if fetched, _ := wallets.Get(ctx, w.ID); fetched != nil {
		t.Fatalf("expected wallet cascaded away, got %+v", fetched)
	}
}

func TestServiceDeleteRefusedWhileEntriesExist(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	wallets := wallet.NewService(wallet.NewMemoryRepository(), led)
	svc := NewService(NewMemoryRepository(), wallets)

	user, err := svc.Register(ctx, Credentials{Email: "erin@example.com", Password: "long enough"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	w, err := wallets.Create(ctx, wallet.CreateInput{UserID: user.ID, Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := led.Deposit(ctx, w.ID, decimal.RequireFromString("5.00")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := svc.Delete(ctx, user.ID); !errors.Is(err, ledger.ErrReferentialIntegrity) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
	if fetched, _ := svc.Get(ctx, user.ID); fetched == nil {
		t.Fatal("user must survive a refused cascade")
	}
	if fetched, _ := wallets.Get(ctx, w.ID); fetched == nil {
		t.Fatal("wallet must survive a refused cascade")
	}
}
