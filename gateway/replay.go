package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard lets a payment page transaction settle once across every
// session and gateway instance.
type ReplayGuard interface {
	// Claim reports whether txnID was claimed by this call.
	Claim(ctx context.Context, txnID string) (bool, error)
	// Release gives up a claim whose result could not be stored, so a
	// redelivery can settle it.
	Release(ctx context.Context, txnID string) error
}

const replayPrefix = "secureframe:settled:"

type RedisReplayGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisReplayGuard(client redis.Cmdable, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: ttl}
}

func (g *RedisReplayGuard) Claim(ctx context.Context, txnID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, replayPrefix+txnID, "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming transaction: %w", err)
	}
	return ok, nil
}

func (g *RedisReplayGuard) Release(ctx context.Context, txnID string) error {
	if err := g.client.Del(ctx, replayPrefix+txnID).Err(); err != nil {
		return fmt.Errorf("releasing transaction: %w", err)
	}
	return nil
}

// MemoryReplayGuard is the single instance guard used when no Redis is configured.
type MemoryReplayGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	seen  map[string]time.Time
	sweep time.Time
}

func NewMemoryReplayGuard(ttl time.Duration) *MemoryReplayGuard {
	return &MemoryReplayGuard{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (g *MemoryReplayGuard) Claim(_ context.Context, txnID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.After(g.sweep) {
		for id, exp := range g.seen {
			if !now.Before(exp) {
				delete(g.seen, id)
			}
		}
		g.sweep = now.Add(time.Minute)
	}

	if exp, ok := g.seen[txnID]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[txnID] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryReplayGuard) Release(_ context.Context, txnID string) error {
	g.mu.Lock()
	delete(g.seen, txnID)
	g.mu.Unlock()
	return nil
}
