package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// TickCache implements domain.TickCache using Redis hashes.
// The latest odds for each symbol/exchange pair are stored as a hash at key
// "tick:{symbol}:{exchange}" with fields "price", "size", "side" and "ts"
// (Unix millisecond timestamp).
type TickCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTickCache creates a TickCache backed by the given Client. Entries expire
// after ttl; pass 0 to keep them indefinitely.
func NewTickCache(c *Client, ttl time.Duration) *TickCache {
	return &TickCache{rdb: c.Underlying(), ttl: ttl}
}

func tickKey(symbol, exchange string) string {
	return "tick:" + symbol + ":" + exchange
}

// SetLatest stores the most recent tick for its symbol/exchange pair.
func (tc *TickCache) SetLatest(ctx context.Context, tick domain.OddsTick) error {
	key := tickKey(tick.Symbol, tick.Exchange)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(tick.Price, 'f', -1, 64),
		"size":  strconv.FormatFloat(tick.Size, 'f', -1, 64),
		"side":  string(tick.Side),
		"ts":    strconv.FormatInt(tick.Timestamp, 10),
	}

	pipe := tc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if tc.ttl > 0 {
		pipe.Expire(ctx, key, tc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set latest tick %s/%s: %w", tick.Symbol, tick.Exchange, err)
	}
	return nil
}

// GetLatest retrieves the most recent tick for a symbol/exchange pair.
// It returns domain.ErrNotFound when no tick has been cached.
func (tc *TickCache) GetLatest(ctx context.Context, symbol, exchange string) (domain.OddsTick, error) {
	key := tickKey(symbol, exchange)
	vals, err := tc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.OddsTick{}, fmt.Errorf("redis: get latest tick %s/%s: %w", symbol, exchange, err)
	}
	if len(vals) == 0 {
		return domain.OddsTick{}, domain.ErrNotFound
	}
	return tickFromHash(symbol, exchange, vals)
}

// GetLatestBatch retrieves the most recent ticks for several symbols on one
// exchange using a pipeline. Symbols with no cached tick are silently omitted
// from the result map.
func (tc *TickCache) GetLatestBatch(ctx context.Context, symbols []string, exchange string) (map[string]domain.OddsTick, error) {
	if len(symbols) == 0 {
		return map[string]domain.OddsTick{}, nil
	}

	pipe := tc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, tickKey(sym, exchange))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get latest ticks pipeline: %w", err)
	}

	out := make(map[string]domain.OddsTick, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		tick, err := tickFromHash(sym, exchange, vals)
		if err != nil {
			continue
		}
		out[sym] = tick
	}
	return out, nil
}

func tickFromHash(symbol, exchange string, vals map[string]string) (domain.OddsTick, error) {
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.OddsTick{}, fmt.Errorf("redis: parse tick price %s/%s: %w", symbol, exchange, err)
	}
	size, err := strconv.ParseFloat(vals["size"], 64)
	if err != nil {
		return domain.OddsTick{}, fmt.Errorf("redis: parse tick size %s/%s: %w", symbol, exchange, err)
	}
	tsMilli, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.OddsTick{}, fmt.Errorf("redis: parse tick ts %s/%s: %w", symbol, exchange, err)
	}

	return domain.OddsTick{
		Symbol:    symbol,
		Exchange:  exchange,
		Price:     price,
		Size:      size,
		Side:      domain.TickSide(vals["side"]),
		Timestamp: tsMilli,
	}, nil
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)
