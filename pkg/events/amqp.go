package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/staybook/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPEventBus publishes events to a RabbitMQ topic exchange. Subjects are used
// as routing keys, so booking.* bindings work the same way as NATS wildcards.
type AMQPEventBus struct {
	url      string
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.RWMutex
	closed   bool
}

func NewAMQPEventBus(ctx context.Context, url, exchange string) (*AMQPEventBus, error) {
	bus := &AMQPEventBus{url: url, exchange: exchange}

	maxRetries := 5
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := bus.connect()
		if err == nil {
			logger.Info("Connected to RabbitMQ", "exchange", exchange, "attempt", attempt)
			return bus, nil
		}

		logger.Warn("RabbitMQ connection attempt failed", "attempt", attempt, "error", err)
		if attempt == maxRetries {
			return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
			retryDelay = time.Duration(float64(retryDelay) * 1.5)
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ")
}

func (b *AMQPEventBus) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()

	return nil
}

func (b *AMQPEventBus) channel() (*amqp.Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || b.ch == nil {
		return nil, fmt.Errorf("rabbitmq channel not available")
	}
	return b.ch, nil
}

func (b *AMQPEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	ch, err := b.channel()
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "exchange", b.exchange)

	return ch.PublishWithContext(publishCtx, b.exchange, subject, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}

// Subscribe binds a private, auto-deleted queue so every subscriber sees
// every message.
func (b *AMQPEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	return b.consume(subject, "", false, handler)
}

// QueueSubscribe binds a durable named queue shared by all consumers in the
// group, so each message is handled once.
func (b *AMQPEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	return b.consume(subject, queue+"."+subject, true, handler)
}

func (b *AMQPEventBus) consume(subject, queue string, durable bool, handler func(msg *Message)) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare(queue, durable, !durable, !durable, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, subject, b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, !durable, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	go func() {
		for d := range deliveries {
			handler(newMessage(d.RoutingKey, d.Body))
			if err := d.Ack(false); err != nil {
				logger.Error("Failed to ack message", "queue", q.Name, "error", err)
			}
		}
		logger.Info("Consumer stopped", "queue", q.Name)
	}()

	return nil
}

func (b *AMQPEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
