package hub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultChannel is the pub/sub channel shared by all gateway processes.
const DefaultChannel = "canvas:broadcast"

// RedisFanout publishes envelopes to Redis and dispatches everything it
// receives to the local hub. A single channel keeps one publisher's
// messages in order for every receiver.
type RedisFanout struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

// NewRedisFanout creates a fan-out bound to hub
func NewRedisFanout(client *redis.Client, channel string, hub *Hub) *RedisFanout {
	return &RedisFanout{client: client, channel: channel, hub: hub}
}

// Publish sends env to every process, this one included.
func (f *RedisFanout) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, data).Err()
}

// Start subscribes and returns once the subscription is confirmed, so that
// nothing published afterwards is missed. Messages are dispatched until ctx
// is cancelled.
func (f *RedisFanout) Start(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go f.run(ctx, pubsub)
	return nil
}

func (f *RedisFanout) run(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	logger := log.With().Str("component", "hub").Str("channel", f.channel).Logger()
	logger.Info().Msg("fan-out started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("fan-out stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn().Err(err).Msg("dropping malformed envelope")
				continue
			}
			f.hub.Dispatch(env)
		}
	}
}
