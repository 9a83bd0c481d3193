package webhooks

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "blueprintstore:webhook:event:"

// RedisLedger claims events with SET NX so several instances share one
// view of processed events. Keys expire after the retention window.
type RedisLedger struct {
	client redis.UniversalClient
}

var _ Ledger = (*RedisLedger)(nil)

// NewRedisLedger creates a Redis-backed ledger.
func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

func (r *RedisLedger) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	return r.client.SetNX(ctx, redisKeyPrefix+eventID, eventType, ledgerTTL).Result()
}

func (r *RedisLedger) Release(ctx context.Context, eventID string) error {
	return r.client.Del(ctx, redisKeyPrefix+eventID).Err()
}
