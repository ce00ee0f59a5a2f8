package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamReader struct {
	mock.Mock
}

func (m *MockStreamReader) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	return redis.NewStatusResult(args.String(0), args.Error(1))
}

func (m *MockStreamReader) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	streams, _ := args.Get(0).([]redis.XStream)
	return redis.NewXStreamSliceCmdResult(streams, args.Error(1))
}

func (m *MockStreamReader) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	return redis.NewIntResult(int64(args.Int(0)), args.Error(1))
}

func relayedMessage(t *testing.T, id, eventType string, payload any) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    eventType,
		"payload": payload,
	})
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]any{
		"data":       string(data),
		"event_type": eventType,
	}}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeRunCompleted(t *testing.T) {
	t.Run("run completed", func(t *testing.T) {
		msg := relayedMessage(t, "1-0", "SEARCH_RUN_COMPLETED", RunCompletedPayload{RunID: "run-1", Query: "laptop", Records: 7})

		payload, ok, err := DecodeRunCompleted(msg)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "run-1", payload.RunID)
		assert.Equal(t, 7, payload.Records)
	})

	t.Run("other event type is skipped", func(t *testing.T) {
		_, ok, err := DecodeRunCompleted(relayedMessage(t, "1-0", "SOMETHING_ELSE", map[string]any{}))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing data", func(t *testing.T) {
		msg := redis.XMessage{ID: "1-0", Values: map[string]any{"event_type": "SEARCH_RUN_COMPLETED"}}
		_, _, err := DecodeRunCompleted(msg)
		assert.Error(t, err)
	})

	t.Run("malformed data", func(t *testing.T) {
		msg := redis.XMessage{ID: "1-0", Values: map[string]any{"event_type": "SEARCH_RUN_COMPLETED", "data": "{"}}
		_, _, err := DecodeRunCompleted(msg)
		assert.Error(t, err)
	})
}

func TestConsumer_ReadOnce(t *testing.T) {
	ctx := context.Background()
	cfg := ConsumerConfig{Stream: "stream:test_runs", Group: "g", Name: "c"}

	t.Run("handles and acknowledges", func(t *testing.T) {
		reader := &MockStreamReader{}
		reader.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
			return a.Group == "g" && a.Consumer == "c" && a.Streams[0] == "stream:test_runs" && a.Streams[1] == ">"
		})).Return([]redis.XStream{{
			Stream: "stream:test_runs",
			Messages: []redis.XMessage{
				relayedMessage(t, "1-0", "SEARCH_RUN_COMPLETED", RunCompletedPayload{RunID: "run-1"}),
				relayedMessage(t, "2-0", "OTHER", map[string]any{}),
			},
		}}, nil)
		reader.On("XAck", ctx, "stream:test_runs", "g", []string{"1-0"}).Return(1, nil)
		reader.On("XAck", ctx, "stream:test_runs", "g", []string{"2-0"}).Return(1, nil)

		var seen []string
		consumer := NewConsumer(reader, func(_ context.Context, p *RunCompletedPayload) error {
			seen = append(seen, p.RunID)
			return nil
		}, discard(), cfg)

		n, err := consumer.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"run-1"}, seen)
		reader.AssertExpectations(t)
	})

	t.Run("failed handler leaves message pending", func(t *testing.T) {
		reader := &MockStreamReader{}
		reader.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream:   "stream:test_runs",
			Messages: []redis.XMessage{relayedMessage(t, "1-0", "SEARCH_RUN_COMPLETED", RunCompletedPayload{RunID: "run-1"})},
		}}, nil)

		consumer := NewConsumer(reader, func(context.Context, *RunCompletedPayload) error {
			return errors.New("boom")
		}, discard(), cfg)

		n, err := consumer.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		reader.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no messages", func(t *testing.T) {
		reader := &MockStreamReader{}
		reader.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)

		consumer := NewConsumer(reader, nil, discard(), cfg)
		n, err := consumer.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("read error", func(t *testing.T) {
		reader := &MockStreamReader{}
		reader.On("XReadGroup", ctx, mock.Anything).Return(nil, errors.New("connection refused"))

		consumer := NewConsumer(reader, nil, discard(), cfg)
		_, err := consumer.ReadOnce(ctx)
		assert.Error(t, err)
	})
}

func TestConsumer_ReplayPending(t *testing.T) {
	ctx := context.Background()
	cfg := ConsumerConfig{Stream: "stream:test_runs", Group: "g", Name: "c", Count: 2}

	from := func(start string) any {
		return mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
			return a.Streams[0] == "stream:test_runs" && a.Streams[1] == start && a.Block < 0
		})
	}

	reader := &MockStreamReader{}
	reader.On("XReadGroup", ctx, from("0")).Return([]redis.XStream{{
		Stream: "stream:test_runs",
		Messages: []redis.XMessage{
			relayedMessage(t, "1-0", "SEARCH_RUN_COMPLETED", RunCompletedPayload{RunID: "run-1"}),
			relayedMessage(t, "2-0", "SEARCH_RUN_COMPLETED", RunCompletedPayload{RunID: "run-2"}),
		},
	}}, nil).Once()
	reader.On("XReadGroup", ctx, from("2-0")).Return([]redis.XStream{{
		Stream:   "stream:test_runs",
		Messages: []redis.XMessage{relayedMessage(t, "3-0", "SEARCH_RUN_COMPLETED", RunCompletedPayload{RunID: "run-3"})},
	}}, nil).Once()
	reader.On("XReadGroup", ctx, from("3-0")).Return([]redis.XStream{{Stream: "stream:test_runs"}}, nil).Once()
	reader.On("XAck", ctx, "stream:test_runs", "g", []string{"1-0"}).Return(1, nil)
	reader.On("XAck", ctx, "stream:test_runs", "g", []string{"3-0"}).Return(1, nil)

	var seen []string
	consumer := NewConsumer(reader, func(_ context.Context, p *RunCompletedPayload) error {
		seen = append(seen, p.RunID)
		if p.RunID == "run-2" {
			return errors.New("still failing")
		}
		return nil
	}, discard(), cfg)

	n, err := consumer.ReplayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"run-1", "run-2", "run-3"}, seen)
	reader.AssertExpectations(t)
	reader.AssertNotCalled(t, "XAck", ctx, "stream:test_runs", "g", []string{"2-0"})
}

func TestConsumer_Run(t *testing.T) {
	t.Run("existing group is reused and cancellation stops", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		reader := &MockStreamReader{}
		reader.On("XGroupCreateMkStream", ctx, "stream:search_runs", "search-run-consumers", "0").
			Return("", errors.New("BUSYGROUP Consumer Group name already exists"))
		reader.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
			return a.Streams[1] == "0"
		})).Return(nil, redis.Nil).Once()
		reader.On("XReadGroup", ctx, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
			return a.Streams[1] == ">"
		})).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, context.Canceled)

		consumer := NewConsumer(reader, nil, discard(), ConsumerConfig{})
		err := consumer.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("group creation failure", func(t *testing.T) {
		ctx := context.Background()
		reader := &MockStreamReader{}
		reader.On("XGroupCreateMkStream", ctx, mock.Anything, mock.Anything, "0").
			Return("", errors.New("NOPERM"))

		consumer := NewConsumer(reader, nil, discard(), ConsumerConfig{Block: time.Millisecond})
		assert.Error(t, consumer.Run(ctx))
	})
}
