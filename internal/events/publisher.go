package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeSearchRunCompleted is recorded once per finished search run
	EventTypeSearchRunCompleted EventType = "SEARCH_RUN_COMPLETED"

	aggregateSearchRun = "search_run"
)

// RunCompletedPayload is the payload of SEARCH_RUN_COMPLETED.
type RunCompletedPayload struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
	RunID        string    `json:"run_id"`
	Query        string    `json:"query"`
	PagesScraped int       `json:"pages_scraped"`
	Records      int       `json:"records"`
	Issues       int       `json:"issues"`
	Stop         string    `json:"stop"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Source       string    `json:"source"`
}

// NewRunCompletedPayload summarises a run.
func NewRunCompletedPayload(res *models.RunResult) *RunCompletedPayload {
	return &RunCompletedPayload{
		RunID:        res.ID,
		Query:        res.Query,
		PagesScraped: len(res.Pages),
		Records:      len(res.Products),
		Issues:       res.IssueCount(),
		Stop:         string(res.Stop),
		StartedAt:    res.StartedAt,
		CompletedAt:  res.CompletedAt,
	}
}

// Publisher handles event publishing using transactional outbox pattern
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// RecordRun stores the run's products and its SEARCH_RUN_COMPLETED event in
// one transaction. A run without products leaves the stored set untouched
// but is still recorded.
func (p *Publisher) RecordRun(ctx context.Context, res *models.RunResult) error {
	payload := NewRunCompletedPayload(res)
	event, err := p.outboxEvent(payload)
	if err != nil {
		return err
	}

	err = p.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := p.db.ReplaceProductsTx(ctx, tx, res.Products); err != nil {
			return fmt.Errorf("failed to store products: %w", err)
		}
		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", res.ID, err)
	}

	p.logger.Info("run recorded",
		"run_id", res.ID,
		"records", payload.Records,
		"event_id", payload.EventID,
		"outbox_id", event.ID,
	)

	return nil
}

func (p *Publisher) outboxEvent(payload *RunCompletedPayload) (*database.OutboxEvent, error) {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeSearchRunCompleted)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	if payload.Source == "" {
		payload.Source = "scraper"
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateSearchRun,
		AggregateID:   payload.RunID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}, nil
}
