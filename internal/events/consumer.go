package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamReader is the part of the Redis client a Consumer needs.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// RunHandler is called once per SEARCH_RUN_COMPLETED message.
type RunHandler func(ctx context.Context, payload *RunCompletedPayload) error

type ConsumerConfig struct {
	Stream string
	Group  string
	Name   string
	Count  int64
	Block  time.Duration
}

// Consumer reads run events from a stream as part of a consumer group.
// Messages whose handler fails stay pending and are retried by
// ReplayPending, which Run calls once on start.
type Consumer struct {
	redis   StreamReader
	handler RunHandler
	logger  *slog.Logger
	config  ConsumerConfig
}

func NewConsumer(r StreamReader, handler RunHandler, logger *slog.Logger, config ConsumerConfig) *Consumer {
	if config.Stream == "" {
		config.Stream = "stream:search_runs"
	}
	if config.Group == "" {
		config.Group = "search-run-consumers"
	}
	if config.Name == "" {
		config.Name = "consumer-1"
	}
	if config.Count == 0 {
		config.Count = 10
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}

	return &Consumer{
		redis:   r,
		handler: handler,
		logger:  logger.With("component", "run_consumer"),
		config:  config,
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.config.Stream, "group", c.config.Group)

	replayed, err := c.ReplayPending(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("failed to replay pending messages", "error", err)
	} else if replayed > 0 {
		c.logger.Info("replayed pending messages", "acked", replayed)
	}

	for {
		if _, err := c.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// ReadOnce reads one batch of new messages and returns how many were
// acknowledged.
func (c *Consumer) ReadOnce(ctx context.Context) (int, error) {
	acked, _, err := c.read(ctx, ">", c.config.Block)
	return acked, err
}

// ReplayPending walks the messages already delivered to this consumer but
// never acknowledged, oldest first, and hands each to the handler again.
// Messages that fail again stay pending.
func (c *Consumer) ReplayPending(ctx context.Context) (int, error) {
	total := 0
	for start := "0"; ; {
		acked, last, err := c.read(ctx, start, -1)
		total += acked
		if err != nil {
			return total, err
		}
		if last == "" {
			return total, nil
		}
		start = last
	}
}

// read handles one XREADGROUP batch from start. last is the id of the final
// message in the batch, empty when the batch was empty.
func (c *Consumer) read(ctx context.Context, start string, block time.Duration) (acked int, last string, err error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.Group,
		Consumer: c.config.Name,
		Streams:  []string{c.config.Stream, start},
		Count:    c.config.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			last = message.ID

			if err := c.processMessage(ctx, message); err != nil {
				c.logger.Error("failed to process message", "id", message.ID, "error", err)
				continue
			}

			if err := c.redis.XAck(ctx, c.config.Stream, c.config.Group, message.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
				continue
			}
			acked++
		}
	}

	return acked, last, nil
}

func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	payload, ok, err := DecodeRunCompleted(msg)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Debug("skipping event", "id", msg.ID, "type", msg.Values["event_type"])
		return nil
	}

	return c.handler(ctx, payload)
}

// DecodeRunCompleted extracts the payload of a relayed SEARCH_RUN_COMPLETED
// message. ok is false for other event types.
func DecodeRunCompleted(msg redis.XMessage) (*RunCompletedPayload, bool, error) {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(EventTypeSearchRunCompleted) {
		return nil, false, nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, false, fmt.Errorf("missing data in event %s", msg.ID)
	}

	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, false, fmt.Errorf("failed to parse event %s: %w", msg.ID, err)
	}
	if len(envelope.Payload) == 0 {
		return nil, false, fmt.Errorf("missing payload in event %s", msg.ID)
	}

	var payload RunCompletedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return nil, false, fmt.Errorf("failed to parse payload of event %s: %w", msg.ID, err)
	}

	return &payload, true, nil
}
