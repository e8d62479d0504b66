package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cloudscope/internal/config"
)

// lockKeyPrefix namespaces detection run locks in redis.
const lockKeyPrefix = "cloudscope:detect:run:"

// RunLock serializes detection runs per case through redis. Locks
// expire after the configured TTL so a crashed run cannot wedge a
// case forever.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock connects to redis with the given settings.
func NewRunLock(cfg config.Redis) *RunLock {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RunLock{
		client: redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: cfg.DialTimeout,
		}),
		ttl: ttl,
	}
}

// TryLock attempts to take the run lock for a case. Returns false when
// another run already holds it.
func (l *RunLock) TryLock(ctx context.Context, caseID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+caseID,
		time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring run lock for %s: %w", caseID, err)
	}
	return ok, nil
}

// Unlock releases the run lock for a case.
func (l *RunLock) Unlock(ctx context.Context, caseID string) error {
	if err := l.client.Del(ctx, lockKeyPrefix+caseID).Err(); err != nil {
		return fmt.Errorf("releasing run lock for %s: %w", caseID, err)
	}
	return nil
}

// Close releases the redis connection.
func (l *RunLock) Close() error {
	return l.client.Close()
}
