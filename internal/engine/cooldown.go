package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownGuard provides an atomic check-and-set cooldown gate on top of
// the DB-backed last_fire_at comparison in Evaluate, using Redis's SET NX
// EX the same way original_source's crates/engine/cooldown.rs does:
// "subscription:cooldown:{subscription_id}:{state_key}" set with NX and a
// TTL of the cooldown duration. Acquire succeeds (true) only for the first
// caller within the window, which protects against two matcher instances
// racing to fire the same (subscription_id, state_key) between the
// database read and write in Evaluate.
type CooldownGuard struct {
	client *redis.Client
}

// NewCooldownGuard wires the guard to a Redis client. A nil client disables
// the guard (Acquire always succeeds), so the engine still functions with
// exactly the DB-only check when Redis is unavailable — as long as only one
// matcher instance runs, which §5 already assumes.
func NewCooldownGuard(client *redis.Client) *CooldownGuard {
	return &CooldownGuard{client: client}
}

// Acquire attempts to claim the cooldown window for (subscriptionID,
// stateKey). ok=false means another caller already holds it.
func (g *CooldownGuard) Acquire(ctx context.Context, subscriptionID, stateKey string, cooldown time.Duration) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}
	key := fmt.Sprintf("subscription:cooldown:%s:%s", subscriptionID, stateKey)
	return g.client.SetNX(ctx, key, "1", cooldown).Result()
}

// Clear releases the cooldown window early, mirroring cooldown.rs's clear():
// the next Acquire for the same (subscriptionID, stateKey) succeeds before
// the TTL elapses. Nothing in the indexer's own code path calls it.
func (g *CooldownGuard) Clear(ctx context.Context, subscriptionID, stateKey string) error {
	if g == nil || g.client == nil {
		return nil
	}
	key := fmt.Sprintf("subscription:cooldown:%s:%s", subscriptionID, stateKey)
	return g.client.Del(ctx, key).Err()
}
