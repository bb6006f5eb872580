package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRunLockTTL bounds how long a crashed run can block its period.
// Long enough to cover a slow send, far shorter than the weekly period
// the notification log row guards.
const DefaultRunLockTTL = 15 * time.Minute

const lockMarker = "held"

// RunLock is a best-effort advisory lock over a digest period, backed by
// SET NX. It narrows the window between the dedup check and the log
// write when two runs race; the notification log stays authoritative.
type RunLock struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRunLock creates a run lock. A zero ttl uses DefaultRunLockTTL.
func NewRunLock(client *Client, ttl time.Duration, logger *zap.Logger) *RunLock {
	if ttl == 0 {
		ttl = DefaultRunLockTTL
	}
	return &RunLock{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (l *RunLock) buildKey(key string) string {
	return fmt.Sprintf("digest:lock:%s", key)
}

// TryLock attempts to acquire the lock for a period key. Returns false
// without error when another run already holds it.
func (l *RunLock) TryLock(ctx context.Context, key string) (bool, error) {
	acquired, err := l.client.rdb.SetNX(ctx, l.buildKey(key), lockMarker, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if acquired {
		l.logger.Debug("run lock acquired", zap.String("key", key))
	}

	return acquired, nil
}

// Unlock releases the lock so a retry within the same period is not
// blocked until the TTL expires.
func (l *RunLock) Unlock(ctx context.Context, key string) error {
	if err := l.client.rdb.Del(ctx, l.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
