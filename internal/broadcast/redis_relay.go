package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

const relayPublishTimeout = 2 * time.Second

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay publishes events to the local hub and to a Redis channel, and
// forwards events published by other processes into the local hub. It lets
// the review worker reach observers connected to the API process.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	origin     string
	local      *Hub
	log        zerolog.Logger
	subscribed chan struct{}
	once       sync.Once
}

func NewRedisRelay(client *redis.Client, channel string, local *Hub, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:     client,
		channel:    channel,
		origin:     ksuid.New().String(),
		local:      local,
		log:        log.With().Str("component", "broadcast_relay").Str("channel", channel).Logger(),
		subscribed: make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, event Event) {
	r.local.Publish(ctx, event)

	payload, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		r.log.Error().Err(err).Str("video_id", event.VideoID).Msg("encode progress event failed")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayPublishTimeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, payload).Err(); err != nil {
		r.log.Warn().Err(err).Str("video_id", event.VideoID).Msg("relay publish failed")
	}
}

// Subscribed is closed once Run has an active Redis subscription.
func (r *RedisRelay) Subscribed() <-chan struct{} {
	return r.subscribed
}

// Run forwards events from other processes until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.once.Do(func() { close(r.subscribed) })
	r.log.Info().Msg("progress relay subscribed")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Warn().Err(err).Msg("discarding malformed relay message")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Publish(ctx, env.Event)
}

var _ Publisher = (*RedisRelay)(nil)
