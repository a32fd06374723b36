package inmemory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"costrologer/internal/jobs"

	"github.com/cenkalti/backoff/v4"
)

// Queue is an in-memory publisher and consumer backed by a buffered channel.
// It is safe for concurrent use and suited to single-instance deployments and
// tests.
type Queue struct {
	jobChan   chan *delivery
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool

	workers    int
	maxRetries int
	newBackOff func() backoff.BackOff
}

type delivery struct {
	event    jobs.ProcessingEvent
	attempts int
	backOff  backoff.BackOff
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent handler goroutines.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithMaxRetries sets how many times a failed event is re-enqueued.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithBackOff sets the retry delay policy.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(q *Queue) {
		q.newBackOff = newBackOff
	}
}

// NewQueue creates a queue. bufferSize bounds how many events can wait before
// Publish blocks.
func NewQueue(bufferSize int, opts ...Option) *Queue {
	q := &Queue{
		jobChan:    make(chan *delivery, bufferSize),
		closeChan:  make(chan struct{}),
		workers:    5,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish implements jobs.Publisher.
func (q *Queue) Publish(ctx context.Context, event jobs.ProcessingEvent) error {
	return q.enqueue(ctx, &delivery{event: event})
}

func (q *Queue) enqueue(ctx context.Context, d *delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.jobChan <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements jobs.Consumer.
func (q *Queue) Start(ctx context.Context, handler jobs.Handler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	slog.InfoContext(ctx, "In-memory queue started", "workers", q.workers)
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case d := <-q.jobChan:
			q.process(ctx, d, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, d *delivery, handler jobs.Handler) {
	err := handler(ctx, d.event)
	if err == nil {
		return
	}

	if delay, ok := jobs.Deferred(err); ok {
		q.redeliver(ctx, d, delay)
		return
	}

	if jobs.Permanent(err) {
		slog.ErrorContext(ctx, "Dropping event",
			"transaction_id", d.event.TransactionID,
			"user_id", d.event.UserID,
			"error", err)
		return
	}

	if d.attempts >= q.maxRetries {
		slog.ErrorContext(ctx, "Event failed after retries",
			"transaction_id", d.event.TransactionID,
			"user_id", d.event.UserID,
			"attempts", d.attempts+1,
			"error", err)
		return
	}

	if d.backOff == nil {
		d.backOff = q.newBackOff()
	}
	d.attempts++
	wait := d.backOff.NextBackOff()
	if wait == backoff.Stop {
		return
	}

	slog.WarnContext(ctx, "Retrying event",
		"transaction_id", d.event.TransactionID,
		"attempt", d.attempts,
		"delay", wait,
		"error", err)

	q.redeliver(ctx, d, wait)
}

// redeliver puts d back on the queue after wait. The worker is free in the
// meantime.
func (q *Queue) redeliver(ctx context.Context, d *delivery, wait time.Duration) {
	time.AfterFunc(wait, func() {
		if err := q.enqueue(ctx, d); err != nil {
			slog.WarnContext(ctx, "Failed to re-enqueue event",
				"transaction_id", d.event.TransactionID,
				"error", err)
		}
	})
}

// Stop implements jobs.Consumer. It waits for in-flight events to finish or
// for ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
