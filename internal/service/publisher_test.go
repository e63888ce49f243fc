package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-booking/internal/queue"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error { f.closed = true; return nil }

func newTestPublisher(chans ...*fakeChannel) (*Publisher, *int) {
	dials := 0
	p := NewPublisher("amqp://test")
	p.dial = func(string) (channel, func() error, error) {
		if dials >= len(chans) {
			return nil, nil, errors.New("broker down")
		}
		ch := chans[dials]
		dials++
		return ch, func() error { return nil }, nil
	}
	return p, &dials
}

func sampleEvent() queue.BookingEvent {
	return queue.BookingEvent{
		Type:        queue.EventBookingConfirmed,
		BookingID:   "b-1",
		TripID:      "trip-1",
		Seats:       []string{"A1", "A2"},
		TotalAmount: 90000,
		Status:      "confirmed",
		OccurredAt:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestPublishDeclaresQueueOnceAndSendsPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, dials := newTestPublisher(ch)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	assert.Equal(t, 1, *dials)
	assert.Equal(t, []string{queue.QueueName}, ch.declared)
	require.Len(t, ch.published, 2)
	assert.Equal(t, queue.QueueName, ch.keys[0])

	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	var got queue.BookingEvent
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, "b-1", got.BookingID)
	assert.Equal(t, []string{"A1", "A2"}, got.Seats)
}

func TestPublishReconnectsAfterFailure(t *testing.T) {
	bad := &fakeChannel{publishErr: errors.New("channel closed")}
	good := &fakeChannel{}
	p, dials := newTestPublisher(bad, good)

	assert.Error(t, p.Publish(context.Background(), sampleEvent()))
	assert.True(t, bad.closed)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, 2, *dials)
	assert.Len(t, good.published, 1)
}

func TestPublishReturnsDialError(t *testing.T) {
	p, _ := newTestPublisher()
	err := p.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}
