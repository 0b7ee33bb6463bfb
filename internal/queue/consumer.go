package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"nodevideo/internal/metrics"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg redis.XMessage) error
}

// Consumer reads the intake stream as a member of a consumer group. A message
// is acked only when the handler returns nil; anything else stays pending
// and is claimed again once it has idled for claimInterval.
type Consumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	claimInterval time.Duration
	block         time.Duration
	retryDelay    time.Duration
	logger        zerolog.Logger
	handler       MessageHandler
}

type ConsumerOption func(*Consumer)

// WithBlock sets how long one XREADGROUP call waits for new entries.
func WithBlock(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.block = d
	}
}

// WithRetryDelay sets the pause after a failed stream read.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.retryDelay = d
	}
}

func NewConsumer(client *redis.Client, stream, group, consumer string, claimInterval time.Duration, logger zerolog.Logger, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		claimInterval: claimInterval,
		block:         5 * time.Second,
		retryDelay:    2 * time.Second,
		logger:        logger.With().Str("component", "consumer").Str("stream", stream).Logger(),
		handler:       handler,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureGroup creates the consumer group, and the stream with it, when
// missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.group, err)
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("group", c.group).Str("consumer", c.consumer).Msg("consumer started")

	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.read(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("stream read error")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.retryDelay):
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.claimStalled(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("claim stalled messages failed")
			}
		default:
		}
	}
}

func (c *Consumer) read(ctx context.Context) error {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    c.block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			c.process(ctx, msg, false)
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage, claimed bool) {
	if claimed {
		metrics.QueueMessagesTotal.WithLabelValues("claimed").Inc()
	}
	if err := c.handler.Handle(ctx, msg); err != nil {
		metrics.QueueMessagesTotal.WithLabelValues("failed").Inc()
		c.logger.Error().
			Err(err).
			Str("message_id", msg.ID).
			Bool("claimed", claimed).
			Msg("handle message failed")
		return
	}
	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("ack failed")
		return
	}
	metrics.QueueMessagesTotal.WithLabelValues("acked").Inc()
}

func (c *Consumer) claimStalled(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.Idle < c.claimInterval {
			continue
		}
		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimInterval,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			c.logger.Error().Err(err).Str("message_id", entry.ID).Msg("claim error")
			continue
		}
		for _, msg := range msgs {
			c.process(ctx, msg, true)
		}
	}
	return nil
}
