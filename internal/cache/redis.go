package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"canvas-backend/internal/config"
)

// ErrCacheMiss is returned when a key is absent from the fast tier.
var ErrCacheMiss = errors.New("cache miss")

// RedisClient wraps the Redis client used as the shared fast tier
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Info().Str("component", "redis").Str("addr", cfg.Addr).Msg("connected")
	return &RedisClient{client: client}, nil
}

// Client exposes the underlying client for packages that need pub/sub
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Key layout. Everything a room owns in Redis hangs off roomKey.

func roomKey(roomID string) string {
	return "canvas:room:" + roomID
}

// PendingKey is the hash of not-yet-compacted events for a room
func PendingKey(roomID string) string {
	return roomKey(roomID) + ":pending"
}

// LockKey is the compaction lease, derived from the pending-log key
func LockKey(roomID string) string {
	return PendingKey(roomID) + ":lock"
}

// SnapshotKey holds the latest encoded snapshot for a room
func SnapshotKey(roomID string) string {
	return roomKey(roomID) + ":snapshot"
}

// SnapshotVersionKey holds one specific snapshot until the worker persists it
func SnapshotVersionKey(roomID string, timestampMillis int64) string {
	return SnapshotKey(roomID) + ":" + strconv.FormatInt(timestampMillis, 10)
}

// PresenceKey is the hash of active connections in a room
func PresenceKey(roomID string) string {
	return roomKey(roomID) + ":presence"
}
