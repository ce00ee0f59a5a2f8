package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// OutboxStatusPending indicates the event is waiting to be relayed
	OutboxStatusPending = "pending"
	// OutboxStatusProcessed indicates the event reached its stream
	OutboxStatusProcessed = "processed"
	// OutboxStatusFailed indicates the last relay attempt failed (will be retried)
	OutboxStatusFailed = "failed"
	// OutboxStatusDeadLetter indicates the event failed too many times
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the maximum number of retries before moving to dead letter
	MaxRetryCount = 5

	// DefaultStream receives events that name no stream of their own
	DefaultStream = "stream:search_runs"
)

// ErrEventNotFound is returned when an outbox id matches no row.
var ErrEventNotFound = errors.New("outbox event not found")

// OutboxEvent is an event stored next to the data it describes, waiting
// for the relay to publish it.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	TargetStream  string
	Status        string
	RetryCount    int
	ErrorMessage  *string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	NextRetryAt   *time.Time
}

// OutboxRepository handles outbox event persistence
type OutboxRepository struct {
	db  *DB
	now func() time.Time
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: time.Now}
}

// InsertWithTx inserts an event into the outbox within a transaction
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx *sql.Tx, event *OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultStream
	}

	now := r.now().UTC()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query := r.db.rebind(`
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := tx.ExecContext(ctx, query,
		event.ID.String(), event.AggregateType, event.AggregateID, event.EventType,
		string(event.Payload), event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt.UnixMilli(), event.NextRetryAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// GetPending retrieves pending and failed events whose retry time has come, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := r.db.rebind(`
		SELECT
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN (?, ?)
			AND next_retry_at <= ?
		ORDER BY created_at ASC
		LIMIT ?`)

	rows, err := r.db.sql.QueryContext(ctx, query,
		OutboxStatusPending, OutboxStatusFailed,
		r.now().UTC().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var (
			event                  OutboxEvent
			id, payload            string
			errorMessage           sql.NullString
			createdAt              int64
			processedAt, nextRetry sql.NullInt64
		)
		err := rows.Scan(
			&id, &event.AggregateType, &event.AggregateID, &event.EventType,
			&payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&errorMessage, &createdAt, &processedAt, &nextRetry,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse event id %q: %w", id, err)
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = time.UnixMilli(createdAt).UTC()
		if errorMessage.Valid {
			event.ErrorMessage = &errorMessage.String
		}
		event.ProcessedAt = millisPtr(processedAt)
		event.NextRetryAt = millisPtr(nextRetry)

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// MarkProcessed marks an event as successfully processed
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := r.db.rebind(`
		UPDATE outbox_event
		SET status = ?, processed_at = ?
		WHERE id = ?`)

	result, err := r.db.sql.ExecContext(ctx, query, OutboxStatusProcessed, r.now().UTC().UnixMilli(), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}

	return nil
}

// MarkFailed marks an event as failed and schedules retry
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.sql.QueryRowContext(ctx,
		r.db.rebind("SELECT retry_count FROM outbox_event WHERE id = ?"), id.String()).Scan(&retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}
	nextRetryAt := calculateNextRetryTime(r.now(), retryCount)

	query := r.db.rebind(`
		UPDATE outbox_event
		SET status = ?, retry_count = ?, error_message = ?, next_retry_at = ?
		WHERE id = ?`)

	_, err = r.db.sql.ExecContext(ctx, query, status, retryCount, processErr.Error(), nextRetryAt.UnixMilli(), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

// PendingCount returns the number of events still waiting to be relayed
func (r *OutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	return r.countByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
}

// DeadLetterCount returns the number of events that gave up retrying
func (r *OutboxRepository) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.countByStatus(ctx, OutboxStatusDeadLetter, OutboxStatusDeadLetter)
}

func (r *OutboxRepository) countByStatus(ctx context.Context, a, b string) (int64, error) {
	var count int64
	query := r.db.rebind(`SELECT COUNT(*) FROM outbox_event WHERE status IN (?, ?)`)
	if err := r.db.sql.QueryRowContext(ctx, query, a, b).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

// calculateNextRetryTime calculates exponential backoff for retries
func calculateNextRetryTime(now time.Time, retryCount int) time.Time {
	// 2s, 4s, 8s, 16s... capped at 5 minutes
	backoffSeconds := 1 << retryCount
	if backoffSeconds > 300 {
		backoffSeconds = 300
	}
	return now.UTC().Add(time.Duration(backoffSeconds) * time.Second)
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
