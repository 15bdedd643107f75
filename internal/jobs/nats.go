package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"canvas-backend/internal/config"
)

const fetchBatch = 16

// NATSQueue publishes jobs to a JetStream stream and consumes them through a
// durable pull consumer. The server drops duplicate publishes of the same
// snapshot key within the stream's duplicate window.
type NATSQueue struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg config.NATSConfig
}

// NewNATSQueue connects to NATS and makes sure the stream exists.
func NewNATSQueue(cfg config.NATSConfig, name string) (*NATSQueue, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	q := &NATSQueue{nc: nc, js: js, cfg: cfg}
	if err := q.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	log.Info().Str("component", "jobs").Str("url", nc.ConnectedUrl()).Str("stream", cfg.Stream).Msg("connected to NATS")
	return q, nil
}

func (q *NATSQueue) ensureStream() error {
	sc := &nats.StreamConfig{
		Name:       q.cfg.Stream,
		Subjects:   []string{q.cfg.Subject},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		Duplicates: q.cfg.DedupWindow,
	}

	_, err := q.js.AddStream(sc)
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		_, err = q.js.UpdateStream(sc)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", q.cfg.Stream, err)
	}
	return nil
}

// Enqueue publishes the job with the snapshot key as its message id.
func (q *NATSQueue) Enqueue(ctx context.Context, job CompactionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	data, err := job.marshal()
	if err != nil {
		return err
	}

	ack, err := q.js.Publish(q.cfg.Subject, data, nats.MsgId(job.SnapshotKey), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish compaction job: %w", err)
	}
	if ack.Duplicate {
		log.Debug().Str("component", "jobs").Str("key", job.SnapshotKey).Msg("duplicate job dropped by server")
	}
	return nil
}

// Consume pulls jobs until ctx is cancelled. A failed job is retried with a
// growing delay up to MaxDeliver attempts; permanent failures are terminated.
func (q *NATSQueue) Consume(ctx context.Context, handle Handler) error {
	cc := &nats.ConsumerConfig{
		Durable:       q.cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
		FilterSubject: q.cfg.Subject,
	}
	_, err := q.js.AddConsumer(q.cfg.Stream, cc)
	if errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		_, err = q.js.UpdateConsumer(q.cfg.Stream, cc)
	}
	if err != nil {
		return fmt.Errorf("ensure consumer %s: %w", q.cfg.Durable, err)
	}

	// Bind so that unsubscribing never deletes the durable consumer.
	sub, err := q.js.PullSubscribe(q.cfg.Subject, q.cfg.Durable, nats.Bind(q.cfg.Stream, q.cfg.Durable))
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		msgs, err := sub.Fetch(fetchBatch, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			log.Warn().Err(err).Str("component", "jobs").Msg("fetch failed")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			q.process(ctx, msg, handle)
		}
	}
}

func (q *NATSQueue) process(ctx context.Context, msg *nats.Msg, handle Handler) {
	logger := log.With().Str("component", "jobs").Logger()

	job, err := unmarshalJob(msg.Data)
	if err != nil {
		logger.Error().Err(err).Msg("dropping malformed job")
		msg.Term()
		return
	}

	err = handle(ctx, job)
	if err == nil {
		if err := msg.Ack(); err != nil {
			logger.Warn().Err(err).Str("key", job.SnapshotKey).Msg("ack failed")
		}
		return
	}

	if errors.Is(err, ErrPermanent) {
		logger.Error().Err(err).Str("room", job.RoomID).Str("key", job.SnapshotKey).Msg("job failed permanently")
		msg.Term()
		return
	}

	attempt := uint64(1)
	if meta, mErr := msg.Metadata(); mErr == nil {
		attempt = meta.NumDelivered
	}
	if q.cfg.MaxDeliver > 0 && attempt >= uint64(q.cfg.MaxDeliver) {
		logger.Error().Err(err).Str("key", job.SnapshotKey).Uint64("attempt", attempt).Msg("job exhausted retries")
		msg.Term()
		return
	}

	delay := q.cfg.RetryBackoff * time.Duration(attempt)
	logger.Warn().Err(err).Str("key", job.SnapshotKey).Uint64("attempt", attempt).Dur("retry_in", delay).Msg("job failed, retrying")
	msg.NakWithDelay(delay)
}

// Health reports whether the NATS connection is up.
func (q *NATSQueue) Health() error {
	if q.nc.Status() != nats.CONNECTED {
		return fmt.Errorf("nats status %s", q.nc.Status())
	}
	return nil
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	return q.nc.Drain()
}
