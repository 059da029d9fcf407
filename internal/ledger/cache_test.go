package ledger

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tillbook/tillbook/internal/logging"
)

func setupCache(t *testing.T) (*BalanceCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewBalanceCache(client, time.Minute, logging.Discard()), mr
}

func fill(t *testing.T, cache *BalanceCache, walletID, amount string) {
	t.Helper()
	ctx := context.Background()
	cache.Put(ctx, walletID, decimal.RequireFromString(amount), cache.Fence(ctx, walletID))
}

func TestBalanceCache_RoundTrip(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "wallet-1")
	require.False(t, ok, "empty cache must miss")

	fill(t, cache, "wallet-1", "42.50")

	got, ok := cache.Get(ctx, "wallet-1")
	require.True(t, ok)
	require.True(t, got.Equal(decimal.RequireFromString("42.50")), "got %s", got)
}

func TestBalanceCache_Invalidate(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	fill(t, cache, "wallet-1", "10.00")
	fill(t, cache, "wallet-2", "20.00")

	cache.Invalidate(ctx, "wallet-1", "wallet-2")

	_, ok := cache.Get(ctx, "wallet-1")
	require.False(t, ok)
	_, ok = cache.Get(ctx, "wallet-2")
	require.False(t, ok)
}

func TestBalanceCache_RacingInvalidationBeatsStaleFill(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	// A reader captures the fence, then a posting invalidates before the
	// reader's fill lands. The stale fill must not stick.
	fence := cache.Fence(ctx, "wallet-1")
	cache.Invalidate(ctx, "wallet-1")
	cache.Put(ctx, "wallet-1", decimal.RequireFromString("99.00"), fence)

	_, ok := cache.Get(ctx, "wallet-1")
	require.False(t, ok, "stale fill must be dropped after invalidation")

	// A fill fenced after the invalidation lands normally.
	fill(t, cache, "wallet-1", "1.00")
	got, ok := cache.Get(ctx, "wallet-1")
	require.True(t, ok)
	require.True(t, got.Equal(decimal.RequireFromString("1.00")), "got %s", got)
}

func TestBalanceCache_EmptyFenceDisablesFill(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	cache.Put(ctx, "wallet-1", decimal.RequireFromString("5.00"), "")

	_, ok := cache.Get(ctx, "wallet-1")
	require.False(t, ok)
}

func TestBalanceCache_MalformedValueIsAMiss(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(balanceKeyPrefix+"wallet-1", "not-a-number"))

	_, ok := cache.Get(ctx, "wallet-1")
	require.False(t, ok)
}

func TestBalanceCache_DownstreamFailureIsAMiss(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	fill(t, cache, "wallet-1", "5.00")
	mr.Close()

	_, ok := cache.Get(ctx, "wallet-1")
	require.False(t, ok, "unreachable cache must degrade to a miss")

	require.Equal(t, "", cache.Fence(ctx, "wallet-1"), "unreachable fence must disable fills")
}
