// Package compaction folds a room's pending log into a new snapshot once the
// log crosses a size threshold.
package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/jobs"
)

// PendingLog is the subset of the pending-event store the coordinator needs.
type PendingLog interface {
	Count(ctx context.Context, roomID string) (int64, error)
	AllPending(ctx context.Context, roomID string) ([]canvas.DrawEvent, error)
	Remove(ctx context.Context, roomID string, ids ...string) error
}

// Lease admits one compaction per room at a time.
type Lease interface {
	Acquire(ctx context.Context, roomID string) (token string, ok bool, err error)
	Release(ctx context.Context, roomID, token string) error
}

// Snapshots reads and writes the room's latest snapshot. Persist is the
// fallback when the durability job cannot be enqueued.
type Snapshots interface {
	GetLatest(ctx context.Context, roomID string) ([]canvas.DrawEvent, bool, error)
	Put(ctx context.Context, roomID string, events []canvas.DrawEvent, timestampMillis int64) (string, error)
	Persist(ctx context.Context, roomID, snapshotKey string) error
}

// Coordinator runs threshold-triggered compactions.
type Coordinator struct {
	pending   PendingLog
	lease     Lease
	snapshots Snapshots
	queue     jobs.Queue
	threshold int64
	now       func() time.Time
}

// NewCoordinator creates a coordinator that compacts once a room holds
// threshold pending events.
func NewCoordinator(pending PendingLog, lease Lease, snapshots Snapshots, queue jobs.Queue, threshold int64) *Coordinator {
	return &Coordinator{
		pending:   pending,
		lease:     lease,
		snapshots: snapshots,
		queue:     queue,
		threshold: threshold,
		now:       time.Now,
	}
}

// MaybeCompact is called after every accepted append. It reports whether a
// compaction ran. Losing the lease race returns false with a nil error.
func (c *Coordinator) MaybeCompact(ctx context.Context, roomID string) (bool, error) {
	count, err := c.pending.Count(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("count pending: %w", err)
	}
	if count < c.threshold {
		return false, nil
	}

	return c.Compact(ctx, roomID)
}

// Compact runs one compaction regardless of the pending count.
func (c *Coordinator) Compact(ctx context.Context, roomID string) (bool, error) {
	logger := log.With().Str("component", "compaction").Str("room", roomID).Logger()

	token, ok, err := c.lease.Acquire(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		logger.Debug().Msg("lease held elsewhere, skipping")
		return false, nil
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		// the caller's context may already be cancelled; the lease still has to go
		if err := c.lease.Release(context.WithoutCancel(ctx), roomID, token); err != nil {
			logger.Warn().Err(err).Msg("lease release failed, waiting for TTL")
		}
	}
	defer release()

	key, compacted, err := c.run(ctx, roomID)
	if err != nil {
		logger.Error().Err(err).Msg("compaction aborted, pending log kept")
		return false, err
	}
	release()
	if key == "" {
		logger.Debug().Msg("nothing pending")
		return false, nil
	}

	if err := c.queue.Enqueue(ctx, jobs.CompactionJob{RoomID: roomID, SnapshotKey: key}); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("durability job enqueue failed, persisting inline")
		if perr := c.snapshots.Persist(context.WithoutCancel(ctx), roomID, key); perr != nil {
			// the latest snapshot keeps no TTL until some later persist succeeds
			logger.Error().Err(perr).Str("key", key).Msg("inline persist failed")
			return true, fmt.Errorf("enqueue durability job: %w; persist: %w", err, perr)
		}
	}

	logger.Info().Int("events", compacted).Str("key", key).Msg("compacted")
	return true, nil
}

// run is the lease-guarded read, merge, write, clear sequence. Removing the
// compacted ids stays the last store step.
func (c *Coordinator) run(ctx context.Context, roomID string) (string, int, error) {
	pending, err := c.pending.AllPending(ctx, roomID)
	if err != nil {
		return "", 0, fmt.Errorf("read pending: %w", err)
	}
	if len(pending) == 0 {
		// a concurrent trigger compacted first
		return "", 0, nil
	}

	previous, _, err := c.snapshots.GetLatest(ctx, roomID)
	if err != nil {
		return "", 0, fmt.Errorf("read snapshot: %w", err)
	}

	merged := canvas.Merge(previous, pending)

	key, err := c.snapshots.Put(ctx, roomID, merged, c.now().UnixMilli())
	if err != nil {
		return "", 0, fmt.Errorf("write snapshot: %w", err)
	}

	ids := make([]string, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
	}
	if err := c.pending.Remove(ctx, roomID, ids...); err != nil {
		return "", 0, fmt.Errorf("clear pending: %w", err)
	}

	return key, len(merged), nil
}
