package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/tillbook/tillbook/internal/config"
	"github.com/tillbook/tillbook/internal/identity"
	"github.com/tillbook/tillbook/internal/infra"
	"github.com/tillbook/tillbook/internal/ledger"
	"github.com/tillbook/tillbook/internal/logging"
	"github.com/tillbook/tillbook/internal/notification"
	"github.com/tillbook/tillbook/internal/wallet"
)

const seedPassword = "tillbook-seed-pass"

func main() {
	userCount := flag.Int("users", 10, "number of demo users to create")
	currency := flag.String("currency", "USD", "currency code for seeded wallets")
	deposit := flag.String("deposit", "100.00", "opening deposit per wallet")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	amount, err := decimal.NewFromString(*deposit)
	if err != nil {
		logger.Error("invalid deposit amount", "value", *deposit, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := infra.Migrate(ctx, db); err != nil {
		logger.Error("migrate schema", "error", err)
		os.Exit(1)
	}

	opts := []ledger.Option{
		ledger.WithOverdraft(cfg.AllowOverdraft),
		ledger.WithMaxRetries(cfg.ConflictRetries),
		ledger.WithNotifier(notification.NewLoggerNotifier(logger)),
	}
	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		opts = append(opts, ledger.WithBalanceCache(ledger.NewBalanceCache(cache, cfg.BalanceCacheTTL, logger)))
	}

	led := ledger.NewPostgres(db, logger, opts...)
	wallets := wallet.NewService(wallet.NewPostgresRepository(db), led)
	users := identity.NewService(identity.NewPostgresRepository(db), wallets)

	created := 0
	for i := 0; i < *userCount; i++ {
		email := fmt.Sprintf("user%03d@tillbook.test", i)
		user, err := users.Register(ctx, identity.Credentials{Email: email, Password: seedPassword})
		if err != nil {
			if errors.Is(err, identity.ErrEmailTaken) {
				logger.Info("user already seeded", "email", email)
				continue
			}
			logger.Error("register user", "email", email, "error", err)
			os.Exit(1)
		}

		w, err := wallets.Create(ctx, wallet.CreateInput{UserID: user.ID, Currency: *currency})
		if err != nil {
			logger.Error("create wallet", "user", user.ID, "error", err)
			os.Exit(1)
		}

		if _, err := led.Deposit(ctx, w.ID, amount); err != nil {
			logger.Error("opening deposit", "wallet", w.ID, "error", err)
			os.Exit(1)
		}
		created++
	}

	logger.Info("seeding complete", "users", created, "currency", *currency, "deposit", amount.StringFixed(2))
}
