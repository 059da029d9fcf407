package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	balanceKeyPrefix = "balance:v1:"
	fenceKeyPrefix   = "balance:fence:v1:"

	fenceTTL = time.Hour
)

// putIfUnfenced stores the balance only while the wallet's fence counter still
// holds the value observed before the balance was computed. An absent counter
// reads as "0".
var putIfUnfenced = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') == ARGV[2] then
  return redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
end
return false
`)

// BalanceCache is a best-effort read-aside cache over derived wallet
// balances. The entry log stays the source of truth: the ledger drops a
// wallet's key in the same logical operation as every posting that touches
// it, and never consults the cache when checking sufficiency. Fills are
// fenced: callers capture a fence token before computing the balance, and a
// posting that invalidates in between makes the stale fill a no-op.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewBalanceCache wraps a Redis client as a balance cache.
func NewBalanceCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached balance and whether it was present. Any cache
// failure is treated as a miss.
func (c *BalanceCache) Get(ctx context.Context, walletID string) (decimal.Decimal, bool) {
	raw, err := c.client.Get(ctx, balanceKeyPrefix+walletID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.logger != nil {
			c.logger.Warn("balance cache lookup failed", "wallet", walletID, "error", err)
		}
		return decimal.Zero, false
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("balance cache held malformed value", "wallet", walletID, "value", raw)
		}
		return decimal.Zero, false
	}
	return balance, true
}

// Fence captures the wallet's invalidation counter. Read it before computing
// a balance and pass it to Put; an empty token disables the fill.
func (c *BalanceCache) Fence(ctx context.Context, walletID string) string {
	v, err := c.client.Get(ctx, fenceKeyPrefix+walletID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "0"
		}
		if c.logger != nil {
			c.logger.Warn("balance cache fence read failed", "wallet", walletID, "error", err)
		}
		return ""
	}
	return v
}

// Put stores a freshly computed balance. The fill is dropped when the fence
// has moved since the token was captured, so a posting that raced the read
// cannot be overwritten by its stale sum.
func (c *BalanceCache) Put(ctx context.Context, walletID string, balance decimal.Decimal, fence string) {
	if fence == "" {
		return
	}
	keys := []string{balanceKeyPrefix + walletID, fenceKeyPrefix + walletID}
	err := putIfUnfenced.Run(ctx, c.client, keys, balance.StringFixed(2), fence, c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) && c.logger != nil {
		c.logger.Warn("balance cache store failed", "wallet", walletID, "error", err)
	}
}

// Invalidate drops the cached balances for the given wallets and advances
// their fence counters, cancelling any fill computed before this point.
func (c *BalanceCache) Invalidate(ctx context.Context, walletIDs ...string) {
	if len(walletIDs) == 0 {
		return
	}
	pipe := c.client.TxPipeline()
	for _, id := range walletIDs {
		pipe.Del(ctx, balanceKeyPrefix+id)
		pipe.Incr(ctx, fenceKeyPrefix+id)
		pipe.Expire(ctx, fenceKeyPrefix+id, fenceTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil && c.logger != nil {
		c.logger.Warn("balance cache invalidation failed", "wallets", walletIDs, "error", err)
	}
}
