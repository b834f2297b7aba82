package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"counter-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisherRoutesByTopic(t *testing.T) {
	orders := &fakeWriter{}
	alerts := &fakeWriter{}
	ep := NewEventPublisher(
		NewProducerWithWriter(orders, "order-events"),
		NewProducerWithWriter(alerts, "alert-events"),
	)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, ep.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent:  NewBaseEvent(models.EventTypeOrderStatusChanged, now),
		OrderID:    7,
		ToStatusID: 2,
		At:         now,
	}))
	require.NoError(t, ep.PublishAlertEvent(ctx, &models.AlertEvent{
		BaseEvent: NewBaseEvent(models.EventTypeAlertRaised, now),
		AlertID:   3,
		Severity:  models.SeverityCritical,
	}))

	require.Len(t, orders.messages, 1)
	require.Len(t, alerts.messages, 1)
	assert.Equal(t, "order-7", string(orders.messages[0].Key))
	assert.Equal(t, "alert-3", string(alerts.messages[0].Key))

	var decoded models.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(orders.messages[0].Value, &decoded))
	assert.Equal(t, models.EventTypeOrderStatusChanged, decoded.EventType)
	assert.NotEmpty(t, decoded.EventID)
}

func TestPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewProducerWithWriter(&fakeWriter{err: boom}, "order-events")

	err := p.PublishEvent(context.Background(), "k", map[string]string{"a": "b"})
	assert.ErrorIs(t, err, boom)
}

func TestEventHandlerDispatch(t *testing.T) {
	eh := NewEventHandler()

	var got *models.OrderStatusChangedEvent
	eh.OnOrderStatusChanged(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		got = e
		return nil
	})

	payload, err := json.Marshal(models.OrderStatusChangedEvent{
		BaseEvent:    models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderStatusChanged},
		OrderID:      11,
		FromStatusID: 1,
		ToStatusID:   2,
	})
	require.NoError(t, err)

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, int64(11), got.OrderID)

	// unknown types are ignored
	require.NoError(t, eh.HandleMessage(context.Background(),
		kafka.Message{Value: []byte(`{"event_type":"SOMETHING_ELSE"}`)}))

	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}
