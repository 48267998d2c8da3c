// Package cache keeps small per-account values that must outlive a single run
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// AccountTotals remembers the last audience total observed for an account.
// A missing value reads as zero.
type AccountTotals interface {
	Get(ctx context.Context, accountID string) (int, error)
	Set(ctx context.Context, accountID string, total int) error
}

// RedisAccountTotals stores totals under <prefix>total:<account> without expiry
type RedisAccountTotals struct {
	rc     *redis.Client
	prefix string
}

func NewRedisAccountTotals(rc *redis.Client, prefix string) *RedisAccountTotals {
	return &RedisAccountTotals{rc: rc, prefix: prefix}
}

func (t *RedisAccountTotals) key(accountID string) string {
	return t.prefix + "total:" + accountID
}

func (t *RedisAccountTotals) Get(ctx context.Context, accountID string) (int, error) {
	n, err := t.rc.Get(ctx, t.key(accountID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read account total: %w", err)
	}
	return n, nil
}

func (t *RedisAccountTotals) Set(ctx context.Context, accountID string, total int) error {
	if err := t.rc.Set(ctx, t.key(accountID), total, 0).Err(); err != nil {
		return fmt.Errorf("failed to store account total: %w", err)
	}
	return nil
}

// MemoryAccountTotals is used when redis is disabled
type MemoryAccountTotals struct {
	mu     sync.RWMutex
	totals map[string]int
}

func NewMemoryAccountTotals() *MemoryAccountTotals {
	return &MemoryAccountTotals{totals: make(map[string]int)}
}

func (t *MemoryAccountTotals) Get(_ context.Context, accountID string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totals[accountID], nil
}

func (t *MemoryAccountTotals) Set(_ context.Context, accountID string, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals[accountID] = total
	return nil
}
