package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"canvas-backend/internal/canvas"
)

// ErrCorruptPending is returned when a pending entry cannot be decoded.
var ErrCorruptPending = errors.New("corrupt pending event")

// PendingLog is the per-room table of events appended since the last
// compaction, stored as a Redis hash keyed by event id.
type PendingLog struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPendingLog creates a pending log. ttl bounds how long an idle room's
// log survives; every append refreshes it.
func NewPendingLog(r *RedisClient, ttl time.Duration) *PendingLog {
	return &PendingLog{client: r.client, ttl: ttl}
}

// Append stores the event under its id. Re-appending an id overwrites it.
func (p *PendingLog) Append(ctx context.Context, roomID string, event canvas.DrawEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := PendingKey(roomID)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, event.ID, data)
		if p.ttl > 0 {
			pipe.PExpire(ctx, key, p.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append pending event: %w", err)
	}
	return nil
}

// Count returns the number of pending events (HLEN, O(1)).
func (p *PendingLog) Count(ctx context.Context, roomID string) (int64, error) {
	return p.client.HLen(ctx, PendingKey(roomID)).Result()
}

// AllPending returns every pending event ordered by timestamp, then id.
func (p *PendingLog) AllPending(ctx context.Context, roomID string) ([]canvas.DrawEvent, error) {
	entries, err := p.client.HGetAll(ctx, PendingKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending events: %w", err)
	}

	events := make([]canvas.DrawEvent, 0, len(entries))
	for id, data := range entries {
		var e canvas.DrawEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptPending, id, err)
		}
		events = append(events, e)
	}

	canvas.SortPending(events)
	return events, nil
}

// Remove deletes exactly the given ids. Events appended after the caller
// read the log are left in place.
func (p *PendingLog) Remove(ctx context.Context, roomID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return p.client.HDel(ctx, PendingKey(roomID), ids...).Err()
}

// Clear drops the whole pending log for a room.
func (p *PendingLog) Clear(ctx context.Context, roomID string) error {
	return p.client.Del(ctx, PendingKey(roomID)).Err()
}
