// Package service publishes booking events to RabbitMQ.  Errors are
// logged and returned so the booking workflow can carry on without the
// broker; events are notifications, not the source of truth.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/bus-seat-booking/internal/queue"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a connection and returns a channel plus a closer for
// the connection behind it.
type dialFunc func(url string) (channel, func() error, error)

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

// Publisher sends BookingEvents to the durable booking.events queue.  The
// connection is opened on first use and reopened after a failed publish.
type Publisher struct {
	url    string
	dial   dialFunc
	logger *log.Logger

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

// NewPublisher returns a Publisher for the broker at url.  No connection
// is made until the first event.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url, dial: dialAMQP, logger: log.New("publisher")}
}

func (p *Publisher) open() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, closeConn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	if _, err := ch.QueueDeclare(queue.QueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = closeConn()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.ch, p.closeConn = ch, closeConn
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch, p.closeConn = nil, nil
}

// Publish marshals ev and publishes it as a persistent message routed
// through the default exchange.
func (p *Publisher) Publish(ctx context.Context, ev queue.BookingEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Errorf("marshal %s for booking %s: %v", ev.Type, ev.BookingID, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.open()
	if err != nil {
		p.logger.Errorf("%v", err)
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		MessageId:    ev.BookingID + ":" + ev.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue.QueueName, false, false, msg); err != nil {
		p.logger.Errorf("publish %s for booking %s: %v", ev.Type, ev.BookingID, err)
		p.reset()
		return err
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
