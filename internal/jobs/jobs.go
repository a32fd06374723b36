// Package jobs defines the event that drives recurring transaction processing
// and the transport-neutral publisher and consumer contracts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"costrologer/internal/core"
)

// RecurringProcessEvent is the event name carried on the wire.
const RecurringProcessEvent = "transaction.recurring.process"

// ProcessingEvent asks for one recurring template to be processed.
type ProcessingEvent struct {
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId"`
}

// Validate rejects events missing either identifier.
func (e ProcessingEvent) Validate() error {
	if e.TransactionID == "" || e.UserID == "" {
		return fmt.Errorf("%w: transactionId=%q userId=%q", core.ErrInvalidEvent, e.TransactionID, e.UserID)
	}
	return nil
}

// Publisher enqueues processing events. Publishing is fire-and-forget: a nil
// error means the event was handed to the transport, not that it was handled.
type Publisher interface {
	Publish(ctx context.Context, event ProcessingEvent) error
	Close() error
}

// Consumer delivers events to a Handler until stopped.
type Consumer interface {
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

// Handler processes one event. A returned error asks the transport to retry
// unless Permanent reports otherwise.
type Handler func(ctx context.Context, event ProcessingEvent) error

// Permanent reports whether err can never succeed on retry.
func Permanent(err error) bool {
	return errors.Is(err, core.ErrInvalidEvent) || errors.Is(err, core.ErrInvalidInterval)
}

// DeferredError asks the transport to deliver the event again after Delay.
// A deferral is not a failure and does not count against retries.
type DeferredError struct {
	Delay time.Duration
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("deferred for %s", e.Delay)
}

// Defer returns an error asking for redelivery after d.
func Defer(d time.Duration) error {
	return &DeferredError{Delay: d}
}

// Deferred reports whether err asks for redelivery and after how long.
func Deferred(err error) (time.Duration, bool) {
	var d *DeferredError
	if errors.As(err, &d) {
		return d.Delay, true
	}
	return 0, false
}

// Inline hands each event straight to the handler on the publishing
// goroutine. One-shot runs without a broker use it. Deferred events are
// retried on the same goroutine once their delay has passed.
type Inline Handler

func (h Inline) Publish(ctx context.Context, event ProcessingEvent) error {
	for {
		err := h(ctx, event)
		delay, ok := Deferred(err)
		if !ok {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (Inline) Close() error { return nil }
