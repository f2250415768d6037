package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRedisClient is a mock for Redis client
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockOutboxRepository is a mock for OutboxRepository
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func scrapedEvent(id string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "product",
		AggregateID:   "walmart:" + id,
		EventType:     "PRODUCT_SCRAPED",
		Payload:       json.RawMessage(`{"site":"walmart","id":"` + id + `","title":"Test Product","price":29.99}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

func TestRelay_ProcessOnce(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("successfully process and publish events", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, logger, RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{scrapedEvent("1"), scrapedEvent("2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == DefaultStream &&
					args.Values.(map[string]any)["event_type"] == event.EventType &&
					args.Values.(map[string]any)["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		published, err := relay.ProcessOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("handle Redis publish failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, logger, RelayConfig{BatchSize: 10})

		event := scrapedEvent("1")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		published, err := relay.ProcessOnce(ctx)
		assert.NoError(t, err)
		assert.Zero(t, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("handle empty event batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, logger, RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		_, err := relay.ProcessOnce(ctx)
		require.NoError(t, err)

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("continue processing on individual event failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, mockRedis, logger, RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{scrapedEvent("1"), scrapedEvent("2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]any)["aggregate_id"] == "walmart:1"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values.(map[string]any)["aggregate_id"] == "walmart:2"
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		published, err := relay.ProcessOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox query failure", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := NewRelay(mockOutbox, new(MockRedisClient), logger, RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection reset"))

		_, err := relay.ProcessOnce(ctx)
		assert.ErrorContains(t, err, "connection reset")
	})
}

func TestRelay_PublishToRedis(t *testing.T) {
	ctx := context.Background()

	mockRedis := new(MockRedisClient)
	relay := NewRelay(new(MockOutboxRepository), mockRedis, slog.Default(), RelayConfig{StreamMaxLen: 1000})

	event := scrapedEvent("1")

	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		val, ok := args.Values.(map[string]any)["data"].(string)
		if !ok || args.MaxLen != 1000 || !args.Approx {
			return false
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(val), &data); err != nil {
			return false
		}
		metadata, ok := data["metadata"].(map[string]any)
		if !ok {
			return false
		}
		payload, ok := data["payload"].(map[string]any)
		if !ok {
			return false
		}

		return data["id"] == event.ID.String() &&
			data["type"] == "PRODUCT_SCRAPED" &&
			data["aggregate_type"] == "product" &&
			data["aggregate_id"] == "walmart:1" &&
			data["timestamp"] != nil &&
			payload["price"] == 29.99 &&
			metadata["source"] == "storefront-scraper"
	})).Return(nil)

	require.NoError(t, relay.publishToRedis(ctx, event))
	mockRedis.AssertExpectations(t)
}

func TestRelay_Backlog(t *testing.T) {
	ctx := context.Background()
	mockOutbox := new(MockOutboxRepository)
	relay := NewRelay(mockOutbox, new(MockRedisClient), slog.Default(), RelayConfig{})

	mockOutbox.On("CountByStatus", ctx).Return(map[string]int64{
		OutboxStatusPending:    3,
		OutboxStatusFailed:     2,
		OutboxStatusProcessed:  40,
		OutboxStatusDeadLetter: 1,
	}, nil)

	pending, dead, err := relay.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pending)
	assert.Equal(t, int64(1), dead)
}

func TestRelay_Start(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := NewRelay(mockOutbox, new(MockRedisClient), slog.Default(), RelayConfig{
		PollInterval: 50 * time.Millisecond,
		BatchSize:    10,
	})

	mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(1 * time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
