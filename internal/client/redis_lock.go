package client

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisScanLock is a best-effort distributed lock over Redis SET NX. Used to
// keep the escalation scan single-flight across engine instances; the TTL
// bounds how long a crashed holder can block the next scan.
type RedisScanLock struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisScanLock creates a lock backed by the given Redis client.
func NewRedisScanLock(client *redis.Client, log zerolog.Logger) *RedisScanLock {
	return &RedisScanLock{client: client, log: log}
}

// TryAcquire returns true when this instance obtained the lock.
func (l *RedisScanLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, "1", ttl).Result()
}

// Release drops the lock. Failures are logged only; the TTL reclaims it.
func (l *RedisScanLock) Release(ctx context.Context, key string) {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("failed to release scan lock")
	}
}
