package scheduler

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Lock is a short-TTL mutual exclusion over Redis SETNX. It only protects the
// registration step; execution itself is guarded by the persisted marker.
// Any store with an atomic conditional set would do.
type Lock struct {
	rdb *redis.Client
}

func NewLock(rdb *redis.Client) *Lock {
	return &Lock{rdb: rdb}
}

// TryAcquire returns true when this instance now owns the key. A false return
// means another instance holds it, which callers treat as a skip, not an
// error.
func (l *Lock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, "locked", ttl).Result()
}

func (l *Lock) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}
