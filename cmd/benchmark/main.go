package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tillbook/tillbook/internal/config"
	"github.com/tillbook/tillbook/internal/identity"
	"github.com/tillbook/tillbook/internal/infra"
	"github.com/tillbook/tillbook/internal/ledger"
	"github.com/tillbook/tillbook/internal/logging"
	"github.com/tillbook/tillbook/internal/wallet"
)

// Counters aggregated across workers.
var (
	posted       uint64
	insufficient uint64
	conflicts    uint64
	failures     uint64
)

func main() {
	workers := flag.Int("workers", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "benchmark duration")
	transfer := flag.String("amount", "1.00", "transfer amount per posting")
	seed := flag.String("seed", "100000.00", "opening balance of the source wallets")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	amount, err := decimal.NewFromString(*transfer)
	if err != nil {
		logger.Error("invalid transfer amount", "value", *transfer, "error", err)
		os.Exit(1)
	}
	opening, err := decimal.NewFromString(*seed)
	if err != nil {
		logger.Error("invalid seed amount", "value", *seed, "error", err)
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

	led := ledger.NewPostgres(db, logger,
		ledger.WithOverdraft(cfg.AllowOverdraft),
		ledger.WithMaxRetries(cfg.ConflictRetries),
	)
	wallets := wallet.NewService(wallet.NewPostgresRepository(db), led)
	users := identity.NewService(identity.NewPostgresRepository(db), wallets)

	from, to, err := benchWallets(ctx, users, wallets, led, opening)
	if err != nil {
		logger.Error("prepare wallets", "error", err)
		os.Exit(1)
	}

	logger.Info("starting benchmark", "workers", *workers, "duration", duration.String(), "amount", amount.StringFixed(2))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(*workers)
	for i := 0; i < *workers; i++ {
		go func(i int) {
			defer wg.Done()
			// Alternate direction so both wallets see contention.
			src, dst := from, to
			if i%2 == 1 {
				src, dst = to, from
			}
			for time.Since(start) < *duration {
				_, err := led.Transfer(ctx, src, dst, amount)
				switch {
				case err == nil:
					atomic.AddUint64(&posted, 1)
				case errors.Is(err, ledger.ErrInsufficientFunds):
					atomic.AddUint64(&insufficient, 1)
				case errors.Is(err, ledger.ErrConcurrencyConflict):
					atomic.AddUint64(&conflicts, 1)
				default:
					atomic.AddUint64(&failures, 1)
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fromBalance, err := led.Balance(ctx, from)
	if err != nil {
		logger.Error("final balance", "wallet", from, "error", err)
		os.Exit(1)
	}
	toBalance, err := led.Balance(ctx, to)
	if err != nil {
		logger.Error("final balance", "wallet", to, "error", err)
		os.Exit(1)
	}

	total := atomic.LoadUint64(&posted)
	fmt.Printf("--- Benchmark Results ---\n")
	fmt.Printf("Elapsed:           %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Posted:            %d (%.1f tx/s)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("Insufficient:      %d\n", atomic.LoadUint64(&insufficient))
	fmt.Printf("Conflicts:         %d\n", atomic.LoadUint64(&conflicts))
	fmt.Printf("Other failures:    %d\n", atomic.LoadUint64(&failures))
	fmt.Printf("Final balances:    %s + %s = %s\n",
		fromBalance.StringFixed(2), toBalance.StringFixed(2), fromBalance.Add(toBalance).StringFixed(2))

	if !fromBalance.Add(toBalance).Equal(opening.Mul(decimal.NewFromInt(2))) {
		logger.Error("conservation violated", "sum", fromBalance.Add(toBalance).StringFixed(2))
		os.Exit(1)
	}
}

// benchWallets provisions a dedicated user with two seeded wallets per run.
func benchWallets(ctx context.Context, users *identity.Service, wallets *wallet.Service, led *ledger.PostgresLedger, opening decimal.Decimal) (string, string, error) {
	email := fmt.Sprintf("bench-%d@tillbook.test", time.Now().UnixNano())
	user, err := users.Register(ctx, identity.Credentials{Email: email, Password: "tillbook-bench-pass"})
	if err != nil {
		return "", "", err
	}

	ids := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		w, err := wallets.Create(ctx, wallet.CreateInput{UserID: user.ID, Currency: "USD"})
		if err != nil {
			return "", "", err
		}
		if _, err := led.Deposit(ctx, w.ID, opening); err != nil {
			return "", "", err
		}
		ids = append(ids, w.ID)
	}
	return ids[0], ids[1], nil
}
