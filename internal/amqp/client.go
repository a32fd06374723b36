package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"costrologer/internal/jobs"

	"github.com/cenkalti/backoff/v4"
	"github.com/rabbitmq/amqp091-go"
)

// attemptsHeader counts failed deliveries of a message across redeliveries.
const attemptsHeader = "x-attempts"

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	workers      int
	maxRetries   int

	// pubMu serialises publishes from the consumer goroutines.
	pubMu  sync.Mutex
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config describes the broker topology and consumer concurrency.
type Config struct {
	URL          string
	ExchangeName string
	QueueName    string
	// Workers is both the number of consumer goroutines and the prefetch count.
	Workers        int
	ConnectTimeout time.Duration
	// MaxRetries bounds redeliveries of a message whose handler keeps
	// failing. Deferred messages do not count.
	MaxRetries int
}

// NewClient dials the broker, retrying with exponential backoff until
// ConnectTimeout elapses, and declares the exchange and queue.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	conn, err := dial(ctx, cfg.URL, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: cfg.ExchangeName,
		queueName:    cfg.QueueName,
		workers:      cfg.Workers,
		maxRetries:   cfg.MaxRetries,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func dial(ctx context.Context, url string, timeout time.Duration) (*amqp091.Connection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = timeout

	var conn *amqp091.Connection
	op := func() error {
		c, err := amqp091.Dial(url)
		if err != nil {
			slog.WarnContext(ctx, "AMQP dial failed, retrying", "error", err)
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	return conn, nil
}

func (c *Client) setup() error {
	// Declare exchange
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Bind queue to exchange
	err = c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key (same as queue name for direct exchange)
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// Messages parked here expire back onto the work queue.
	_, err = c.channel.QueueDeclare(
		c.delayQueue(),
		true,
		false,
		false,
		false,
		amqp091.Table{
			"x-dead-letter-exchange":    c.exchangeName,
			"x-dead-letter-routing-key": c.queueName,
		},
	)
	if err != nil {
		return fmt.Errorf("declare delay queue: %w", err)
	}

	if err := c.channel.Qos(c.workers, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	return nil
}

// Publish implements jobs.Publisher.
func (c *Client) Publish(ctx context.Context, event jobs.ProcessingEvent) error {
	body, err := NewEventMessage(event).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Type:         jobs.RecurringProcessEvent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	slog.DebugContext(ctx, "Published processing event",
		"transaction_id", event.TransactionID,
		"user_id", event.UserID,
		"exchange", c.exchangeName,
		"queue", c.queueName)

	return nil
}

// Start implements jobs.Consumer. It runs one consumer goroutine per worker,
// all reading from the same delivery stream.
func (c *Client) Start(ctx context.Context, handler jobs.Handler) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consume(ctx, msgs, handler)
		}()
	}

	slog.InfoContext(ctx, "Started consuming processing events",
		"queue", c.queueName,
		"workers", c.workers)
	return nil
}

func (c *Client) delayQueue() string {
	return c.queueName + ".delay"
}

// redeliver parks body on the delay queue for after; it returns to the work
// queue when its TTL expires.
func (c *Client) redeliver(ctx context.Context, body []byte, attempts int, after time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ms := after.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.channel.PublishWithContext(
		ctx,
		"",
		c.delayQueue(),
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Type:         jobs.RecurringProcessEvent,
			Headers:      amqp091.Table{attemptsHeader: int32(attempts)},
			Expiration:   strconv.FormatInt(ms, 10),
			Body:         body,
		},
	)
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Client) consume(ctx context.Context, msgs <-chan amqp091.Delivery, handler jobs.Handler) {
	d := dispatcher{
		handler:    handler,
		redeliver:  c.redeliver,
		maxRetries: c.maxRetries,
		retryDelay: retryDelay,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-msgs:
			if !ok {
				slog.WarnContext(ctx, "Message channel closed", "queue", c.queueName)
				return
			}
			d.handle(ctx, delivery.Body, attemptsOf(delivery.Headers), &delivery)
		}
	}
}

// dispatcher decides the fate of one delivery.
type dispatcher struct {
	handler    jobs.Handler
	redeliver  func(ctx context.Context, body []byte, attempts int, after time.Duration) error
	maxRetries int
	retryDelay func(attempts int) time.Duration
}

// handle decodes and dispatches one delivery. Malformed, invalid and
// exhausted messages are dropped. Deferred messages and transient failures
// are parked on the delay queue and acked; if parking fails the message is
// requeued instead.
func (d dispatcher) handle(ctx context.Context, body []byte, attempts int, ack acknowledger) {
	msg, err := EventMessageFromJSON(body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
		ack.Nack(false, false)
		return
	}

	err = d.handler(ctx, msg.Data)
	if err == nil {
		ack.Ack(false)
		return
	}

	if delay, ok := jobs.Deferred(err); ok {
		d.park(ctx, body, attempts, delay, ack)
		return
	}

	if jobs.Permanent(err) || attempts >= d.maxRetries {
		slog.ErrorContext(ctx, "Dropping message",
			"error", err,
			"transaction_id", msg.Data.TransactionID,
			"user_id", msg.Data.UserID,
			"attempts", attempts+1)
		ack.Nack(false, false)
		return
	}

	wait := d.retryDelay(attempts)
	slog.WarnContext(ctx, "Failed to handle message, retrying",
		"error", err,
		"transaction_id", msg.Data.TransactionID,
		"user_id", msg.Data.UserID,
		"attempt", attempts+1,
		"delay", wait)
	d.park(ctx, body, attempts+1, wait, ack)
}

func (d dispatcher) park(ctx context.Context, body []byte, attempts int, after time.Duration, ack acknowledger) {
	if err := d.redeliver(ctx, body, attempts, after); err != nil {
		slog.ErrorContext(ctx, "Failed to park message, requeueing", "error", err)
		ack.Nack(false, true)
		return
	}
	ack.Ack(false)
}

// retryDelay grows exponentially with the number of failed attempts.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	wait := b.NextBackOff()
	for i := 0; i < attempts; i++ {
		wait = b.NextBackOff()
	}
	return wait
}

func attemptsOf(headers amqp091.Table) int {
	switch v := headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Stop implements jobs.Consumer.
func (c *Client) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

var (
	_ jobs.Publisher = (*Client)(nil)
	_ jobs.Consumer  = (*Client)(nil)
)
