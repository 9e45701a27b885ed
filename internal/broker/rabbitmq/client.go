package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/broker"
	"github.com/Heurr/pps-sub000/internal/config"
	"github.com/Heurr/pps-sub000/internal/domain"
)

// Client owns the RabbitMQ connection and the publishing channel
type Client struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	publish *amqp.Channel
	config  config.RabbitMQ
	log     *zap.Logger
}

// NewClient dials RabbitMQ and declares the topic exchange
func NewClient(cfg config.RabbitMQ, log *zap.Logger) (*Client, error) {
	c := &Client{config: cfg, log: log}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	return c, nil
}

// connectLocked retries the dial because the broker may still be starting
func (c *Client) connectLocked() error {
	var conn *amqp.Connection
	var err error

	retries := c.config.DialRetries
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		conn, err = amqp.Dial(c.config.URL)
		if err == nil {
			break
		}
		c.log.Warn("Failed to connect to RabbitMQ, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", retries),
			zap.Error(err))
		time.Sleep(time.Duration(c.config.DialBackoffSec) * time.Second)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		c.config.Exchange, // name
		"topic",           // kind
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.conn = conn
	c.publish = ch
	c.log.Info("RabbitMQ connection established", zap.String("exchange", c.config.Exchange))
	return nil
}

// channel opens a new channel, reconnecting first if the connection dropped
func (c *Client) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		if err := c.connectLocked(); err != nil {
			return nil, err
		}
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return ch, nil
}

// Publish sends a persistent JSON message to the exchange
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() || c.publish == nil || c.publish.IsClosed() {
		if err := c.connectLocked(); err != nil {
			return err
		}
	}

	err := c.publish.PublishWithContext(ctx,
		c.config.Exchange, // exchange
		routingKey,        // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			MessageId:    uuid.NewString(),
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// Source declares and binds the queue of the given entity kind and starts consuming it
func (c *Client) Source(kind domain.EntityKind, wait time.Duration) (*Queue, error) {
	q := &Queue{
		client:     c,
		name:       c.config.QueueName(kind),
		bindingKey: c.config.BindingKey(kind),
		prefetch:   c.config.Prefetch,
		wait:       wait,
		log:        c.log.With(zap.String("queue", c.config.QueueName(kind))),
	}
	if err := q.open(); err != nil {
		return nil, err
	}
	return q, nil
}

// Close closes the connection and every channel opened on it
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// Queue is a RabbitMQ queue consumed as a broker source
type Queue struct {
	client     *Client
	name       string
	bindingKey string
	prefetch   int
	wait       time.Duration
	deliveries <-chan amqp.Delivery
	log        *zap.Logger
}

var _ broker.Source = (*Queue)(nil)

func (q *Queue) open() error {
	ch, err := q.client.channel()
	if err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		q.name, // name
		true,   // durable
		false,  // delete when unused
		false,  // exclusive
		false,  // no-wait
		nil,    // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
	}

	if err := ch.QueueBind(q.name, q.bindingKey, q.client.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
	}

	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(
		q.name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", q.name, err)
	}

	q.deliveries = deliveries
	q.log.Info("Consuming RabbitMQ queue", zap.String("binding_key", q.bindingKey))
	return nil
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Receive waits for the first delivery and then drains whatever else is
// already buffered, up to max
func (q *Queue) Receive(ctx context.Context, max int) ([]*broker.Message, error) {
	if q.deliveries == nil {
		if err := q.open(); err != nil {
			return nil, err
		}
	}

	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	var messages []*broker.Message

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-q.deliveries:
		if !ok {
			q.deliveries = nil
			return nil, broker.ErrClosed
		}
		messages = append(messages, wrap(d))
	}

	for len(messages) < max {
		select {
		case d, ok := <-q.deliveries:
			if !ok {
				q.deliveries = nil
				return messages, nil
			}
			messages = append(messages, wrap(d))
		default:
			return messages, nil
		}
	}

	return messages, nil
}

func wrap(d amqp.Delivery) *broker.Message {
	return broker.NewMessage(
		d.MessageId,
		d.Body,
		func(context.Context) error { return d.Ack(false) },
		func(context.Context) error { return d.Nack(false, true) },
	)
}
