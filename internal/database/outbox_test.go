package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func insertEvent(t *testing.T, db *DB, repo *OutboxRepository, event *OutboxEvent) {
	t.Helper()
	require.NoError(t, db.Transaction(context.Background(), func(tx *sql.Tx) error {
		return repo.InsertWithTx(context.Background(), tx, event)
	}))
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "search_run",
		AggregateID:   "run-1",
		EventType:     "SEARCH_RUN_COMPLETED",
		Payload:       json.RawMessage(`{"records":3}`),
	}
	insertEvent(t, db, repo, event)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, DefaultStream, event.TargetStream)
	assert.False(t, event.CreatedAt.IsZero())

	events, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, "run-1", got.AggregateID)
	assert.JSONEq(t, `{"records":3}`, string(got.Payload))
	assert.Equal(t, event.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Nil(t, got.ProcessedAt)
	assert.Nil(t, got.ErrorMessage)

	count, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOutboxRepository_InsertRolledBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewOutboxRepository(db)

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := repo.InsertWithTx(ctx, tx, &OutboxEvent{AggregateType: "search_run", AggregateID: "run-x", EventType: "X", Payload: json.RawMessage(`{}`)}); err != nil {
			return err
		}
		return errors.New("ingest failed")
	})
	require.Error(t, err)

	count, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestOutboxRepository_GetPendingOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewOutboxRepository(db)

	base := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		repo.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		insertEvent(t, db, repo, &OutboxEvent{AggregateType: "search_run", AggregateID: id, EventType: "SEARCH_RUN_COMPLETED", Payload: json.RawMessage(`{}`)})
	}
	repo.now = func() time.Time { return base.Add(time.Minute) }

	events, err := repo.GetPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].AggregateID)
	assert.Equal(t, "second", events[1].AggregateID)
}

func TestOutboxRepository_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{AggregateType: "search_run", AggregateID: "run-1", EventType: "SEARCH_RUN_COMPLETED", Payload: json.RawMessage(`{}`)}
	insertEvent(t, db, repo, event)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))

	events, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	err = repo.MarkProcessed(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewOutboxRepository(db)

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	event := &OutboxEvent{AggregateType: "search_run", AggregateID: "run-1", EventType: "SEARCH_RUN_COMPLETED", Payload: json.RawMessage(`{}`)}
	insertEvent(t, db, repo, event)

	require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("connection refused")))

	events, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "retry is scheduled in the future")

	repo.now = func() time.Time { return now.Add(3 * time.Second) }
	events, err = repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, OutboxStatusFailed, events[0].Status)
	assert.Equal(t, 1, events[0].RetryCount)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Equal(t, "connection refused", *events[0].ErrorMessage)

	for i := 1; i < MaxRetryCount; i++ {
		require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("connection refused")))
	}

	dead, err := repo.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	pending, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)

	assert.ErrorIs(t, repo.MarkFailed(ctx, uuid.New(), errors.New("x")), ErrEventNotFound)
}

func TestCalculateNextRetryTime(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		retries  int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{9, 300 * time.Second},
		{20, 300 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, now.Add(tt.expected), calculateNextRetryTime(now, tt.retries))
	}
}

func TestRelayAgainstStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{AggregateType: "search_run", AggregateID: "run-7", EventType: "SEARCH_RUN_COMPLETED", Payload: json.RawMessage(`{"records":1}`)}
	insertEvent(t, db, repo, event)

	mockRedis := new(MockRedisClient)
	mockRedis.On("XAdd", mock.Anything, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return args.Stream == DefaultStream && streamValues(args)["event_id"] == event.ID.String()
	})).Return(nil).Once()

	relay := NewRelay(db, mockRedis, testLogger(), RelayConfig{BatchSize: 5})
	stats, err := relay.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, RelayStats{Published: 1}, stats)

	stats, err = relay.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, RelayStats{}, stats, "processed events are not relayed twice")

	mockRedis.AssertExpectations(t)
}
