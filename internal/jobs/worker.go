package jobs

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"canvas-backend/internal/codec"
	"canvas-backend/internal/snapshot"
)

// Persister is the durable half of the snapshot store.
type Persister interface {
	Persist(ctx context.Context, roomID, snapshotKey string) error
}

// Worker persists snapshots named by compaction jobs.
type Worker struct {
	store Persister
}

// NewWorker creates a worker
func NewWorker(store Persister) *Worker {
	return &Worker{store: store}
}

// Handle persists the job's snapshot. Failures that a retry cannot fix are
// wrapped with ErrPermanent.
func (w *Worker) Handle(ctx context.Context, job CompactionJob) error {
	if err := job.Validate(); err != nil {
		return Permanent(err)
	}

	err := w.store.Persist(ctx, job.RoomID, job.SnapshotKey)
	switch {
	case err == nil:
		log.Info().Str("component", "worker").Str("room", job.RoomID).Str("key", job.SnapshotKey).Msg("snapshot persisted")
		return nil
	case errors.Is(err, snapshot.ErrBlobExpired),
		errors.Is(err, snapshot.ErrKeyMismatch),
		errors.Is(err, codec.ErrCorruptSnapshot):
		return Permanent(err)
	default:
		return err
	}
}
