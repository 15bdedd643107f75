// Package jobs carries durability work from the compaction coordinator to the
// worker that copies snapshots into Postgres.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidJob is returned for a job missing its room or snapshot key.
	ErrInvalidJob = errors.New("invalid compaction job")
	// ErrPermanent marks a failure that redelivery cannot fix.
	ErrPermanent = errors.New("permanent job failure")
)

// CompactionJob asks the worker to persist one snapshot. SnapshotKey is also
// the idempotency key.
type CompactionJob struct {
	RoomID      string `json:"roomId"`
	SnapshotKey string `json:"snapshotKey"`
}

// Validate checks that both fields are set.
func (j CompactionJob) Validate() error {
	if j.RoomID == "" || j.SnapshotKey == "" {
		return ErrInvalidJob
	}
	return nil
}

func (j CompactionJob) marshal() ([]byte, error) {
	return json.Marshal(j)
}

func unmarshalJob(data []byte) (CompactionJob, error) {
	var j CompactionJob
	if err := json.Unmarshal(data, &j); err != nil {
		return j, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return j, j.Validate()
}

// Handler processes one job.
type Handler func(ctx context.Context, job CompactionJob) error

// Queue accepts durability jobs.
type Queue interface {
	Enqueue(ctx context.Context, job CompactionJob) error
}

// Permanent wraps err so queues stop redelivering the job.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// InlineQueue runs the handler in the caller's goroutine. Used when no NATS
// server is configured.
type InlineQueue struct {
	handle Handler
}

// NewInlineQueue creates an in-process queue
func NewInlineQueue(handle Handler) *InlineQueue {
	return &InlineQueue{handle: handle}
}

// Enqueue runs the job immediately.
func (q *InlineQueue) Enqueue(ctx context.Context, job CompactionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return q.handle(ctx, job)
}
