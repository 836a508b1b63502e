package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// TickCache stores the most recent odds tick per symbol/exchange pair for
// fast lookups without replaying the feed.
type TickCache interface {
	SetLatest(ctx context.Context, tick OddsTick) error
	GetLatest(ctx context.Context, symbol, exchange string) (OddsTick, error)
	GetLatestBatch(ctx context.Context, symbols []string, exchange string) (map[string]OddsTick, error)
}
