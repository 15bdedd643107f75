package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// settleScript starts the TTL of the latest snapshot, but only while it still
// holds the blob that was just persisted.
var settleScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// PutSnapshot stores an encoded snapshot both as the room's latest and under
// its versioned key, and returns the versioned key. The latest entry has no
// TTL until SettleSnapshot confirms it reached the durable tier.
func (r *RedisClient) PutSnapshot(ctx context.Context, roomID string, timestampMillis int64, blob []byte, versionTTL time.Duration) (string, error) {
	versionKey := SnapshotVersionKey(roomID, timestampMillis)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, versionKey, blob, versionTTL)
		pipe.Set(ctx, SnapshotKey(roomID), blob, 0)
		return nil
	})
	if err != nil {
		return "", err
	}
	return versionKey, nil
}

// SettleSnapshot gives the latest snapshot its TTL once blob is durable. It
// reports false when a newer snapshot has replaced it in the meantime.
func (r *RedisClient) SettleSnapshot(ctx context.Context, roomID string, blob []byte, ttl time.Duration) (bool, error) {
	n, err := settleScript.Run(ctx, r.client, []string{SnapshotKey(roomID)}, blob, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LatestSnapshot returns the room's latest encoded snapshot or ErrCacheMiss.
func (r *RedisClient) LatestSnapshot(ctx context.Context, roomID string) ([]byte, error) {
	return r.getBytes(ctx, SnapshotKey(roomID))
}

// SnapshotBlob returns the blob stored under a versioned snapshot key.
func (r *RedisClient) SnapshotBlob(ctx context.Context, key string) ([]byte, error) {
	return r.getBytes(ctx, key)
}

// WarmSnapshot writes a snapshot loaded from the durable tier back into the
// latest slot, unless a newer compaction already filled it.
func (r *RedisClient) WarmSnapshot(ctx context.Context, roomID string, blob []byte, ttl time.Duration) error {
	return r.client.SetNX(ctx, SnapshotKey(roomID), blob, ttl).Err()
}

// RestoreSnapshot overwrites the room's latest snapshot.
func (r *RedisClient) RestoreSnapshot(ctx context.Context, roomID string, blob []byte, ttl time.Duration) error {
	return r.client.Set(ctx, SnapshotKey(roomID), blob, ttl).Err()
}

func (r *RedisClient) getBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
