package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"costrologer/internal/jobs"
	"costrologer/internal/metrics"
)

// RecurringTrigger scans for due recurring templates and publishes one
// processing event per template. It never mutates the store; the processor
// re-checks dueness, so duplicate events are harmless.
type RecurringTrigger struct {
	store     DueLister
	publisher jobs.Publisher
}

func NewRecurringTrigger(store DueLister, publisher jobs.Publisher) *RecurringTrigger {
	return &RecurringTrigger{store: store, publisher: publisher}
}

// Run publishes events for every template due at now and returns how many
// were published. A failed publish is logged and skipped; the template is
// picked up again on the next scan.
func (t *RecurringTrigger) Run(ctx context.Context, now time.Time) (int, error) {
	due, err := t.store.ListDueRecurring(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due transactions: %w", err)
	}

	published := 0
	for _, tx := range due {
		event := jobs.ProcessingEvent{TransactionID: tx.ID, UserID: tx.UserID}
		if err := t.publisher.Publish(ctx, event); err != nil {
			slog.ErrorContext(ctx, "Failed to publish recurring event",
				"transaction_id", tx.ID,
				"user_id", tx.UserID,
				"error", err)
			continue
		}
		published++
	}
	metrics.RecurringEventsPublished.Add(float64(published))

	slog.InfoContext(ctx, "Recurring trigger complete",
		"due", len(due),
		"published", published,
		"now", now.Format(time.RFC3339))

	return published, nil
}
