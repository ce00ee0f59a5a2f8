package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo interface for outbox operations (for testing)
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Source is stamped on every published message.
	Source string
	// MaxLen approximately caps each target stream; 0 leaves streams untrimmed.
	MaxLen int64
}

// RelayStats counts the outcome of one batch.
type RelayStats struct {
	Published int
	Failed    int
}

// Relay moves run events from the outbox table to Redis streams.
type Relay struct {
	redis  RedisClient
	outbox OutboxRepo
	logger *slog.Logger
	config RelayConfig
}

func NewRelay(db *DB, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	return newRelay(redisClient, NewOutboxRepository(db), logger, config)
}

func newRelay(redisClient RedisClient, outbox OutboxRepo, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Source == "" {
		config.Source = "amazon-search-scraper"
	}

	return &Relay{
		redis:  redisClient,
		outbox: outbox,
		logger: logger.With("component", "relay"),
		config: config,
	}
}

// Start relays events until ctx is done. A fully published batch is followed
// by the next one right away; otherwise the relay waits for the poll interval.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.config.PollInterval,
		"batch_size", r.config.BatchSize)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		stats, err := r.ProcessPending(ctx)
		if err != nil {
			r.logger.Error("failed to process events", "error", err)
			return
		}
		if stats.Published < r.config.BatchSize {
			return
		}
	}
}

// ProcessPending relays one batch. A failed event is rescheduled by the
// outbox and does not stop the batch.
func (r *Relay) ProcessPending(ctx context.Context) (RelayStats, error) {
	var stats RelayStats

	events, err := r.outbox.GetPending(ctx, r.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := r.relayEvent(ctx, event); err != nil {
			r.logger.Error("failed to relay event",
				"event_id", event.ID,
				"run_id", event.AggregateID,
				"retry_count", event.RetryCount,
				"error", err)
			stats.Failed++
			continue
		}
		stats.Published++
	}

	if len(events) > 0 {
		r.logger.Debug("batch relayed", "published", stats.Published, "failed", stats.Failed)
	}
	return stats, nil
}

func (r *Relay) relayEvent(ctx context.Context, event *OutboxEvent) error {
	if err := r.publish(ctx, event); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	r.logger.Info("event relayed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"run_id", event.AggregateID,
		"stream", event.TargetStream)
	return nil
}

// streamEnvelope is the JSON carried in the "data" field of a message.
type streamEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Source        string          `json:"source"`
	RetryCount    int             `json:"retry_count"`
	Payload       json.RawMessage `json:"payload"`
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("invalid payload for event %s", event.ID)
	}

	data, err := json.Marshal(streamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		CreatedAt:     event.CreatedAt.UTC(),
		Source:        r.config.Source,
		RetryCount:    event.RetryCount,
		Payload:       event.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stream data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]any{
			"data":           string(data),
			"event_type":     event.EventType,
			"event_id":       event.ID.String(),
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"created_at":     strconv.FormatInt(event.CreatedAt.UnixMilli(), 10),
		},
	}
	if r.config.MaxLen > 0 {
		args.MaxLen = r.config.MaxLen
		args.Approx = true
	}

	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}
