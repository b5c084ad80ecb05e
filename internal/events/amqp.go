package events

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher pushes hold lifecycle events to a durable queue consumed by the
// booking-persistence service.
type AMQPPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func DialAMQP(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, fmt.Errorf("declare queue %v: %w", queue, err)
	}

	return &AMQPPublisher{
		mu:    sync.Mutex{},
		conn:  conn,
		ch:    ch,
		queue: queue,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e HoldEvent) error {
	body, err := Encode(e)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	//nolint:exhaustruct
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(e.Type),
		MessageId:    string(e.Type) + ":" + e.HoldID,
		Timestamp:    e.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %v for hold %v: %w", e.Type, e.HoldID, err)
	}

	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()

		return fmt.Errorf("close channel: %w", err)
	}

	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}

	return nil
}
