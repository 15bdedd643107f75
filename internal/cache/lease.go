package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if it is still held by the caller's
// token; an expired holder must never delete its successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is the per-room compaction lock: SET NX with a TTL, so a crashed
// holder blocks the room for at most ttl.
type Lease struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLease creates a lease manager
func NewLease(r *RedisClient, ttl time.Duration) *Lease {
	return &Lease{client: r.client, ttl: ttl}
}

// Acquire tries to take the lease. ok is false when another holder has it.
func (l *Lease) Acquire(ctx context.Context, roomID string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, LockKey(roomID), token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives the lease back if token still owns it.
func (l *Lease) Release(ctx context.Context, roomID, token string) error {
	return releaseScript.Run(ctx, l.client, []string{LockKey(roomID)}, token).Err()
}
