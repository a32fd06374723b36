package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"costrologer/internal/core"
	"costrologer/internal/jobs"
	"costrologer/internal/metrics"
)

// RecurringProcessor applies one due recurrence per event: it records a dated
// instance, moves the account balance and advances the template's schedule,
// all in one store transaction.
type RecurringProcessor struct {
	store    RecurrenceStore
	throttle Throttle
	clock    Clock
	loc      *time.Location
}

// NewRecurringProcessor creates a processor. throttle may be nil to disable
// per-user limiting; loc sets the calendar used for month arithmetic.
func NewRecurringProcessor(store RecurrenceStore, throttle Throttle, loc *time.Location) *RecurringProcessor {
	if loc == nil {
		loc = time.UTC
	}
	return &RecurringProcessor{
		store:    store,
		throttle: throttle,
		clock:    time.Now,
		loc:      loc,
	}
}

// Process implements jobs.Handler using the current time.
func (p *RecurringProcessor) Process(ctx context.Context, event jobs.ProcessingEvent) error {
	return p.ProcessAt(ctx, event, p.clock())
}

// ProcessAt handles event as if the current time were now. Missing or no
// longer due templates are a no-op. A user over their throttle gets a
// jobs.DeferredError so the transport can redeliver later without holding a
// worker. Errors wrapping core.ErrInvalidEvent or core.ErrInvalidInterval are
// permanent; others may be retried.
func (p *RecurringProcessor) ProcessAt(ctx context.Context, event jobs.ProcessingEvent, now time.Time) error {
	result, err := p.process(ctx, event, now.In(p.loc))
	metrics.RecurringProcessed.WithLabelValues(result).Inc()
	return err
}

func (p *RecurringProcessor) process(ctx context.Context, event jobs.ProcessingEvent, now time.Time) (string, error) {
	if err := event.Validate(); err != nil {
		slog.WarnContext(ctx, "Dropping invalid processing event", "error", err)
		return "invalid", err
	}

	if p.throttle != nil {
		if delay := p.throttle.Reserve(event.UserID); delay > 0 {
			slog.DebugContext(ctx, "User throttled, deferring event",
				"transaction_id", event.TransactionID,
				"user_id", event.UserID,
				"delay", delay)
			return "throttled", jobs.Defer(delay)
		}
	}

	tmpl, err := p.store.GetTransaction(ctx, event.UserID, event.TransactionID)
	if errors.Is(err, core.ErrNotFound) {
		slog.InfoContext(ctx, "Recurring template no longer exists",
			"transaction_id", event.TransactionID,
			"user_id", event.UserID)
		return "not_found", nil
	}
	if err != nil {
		return "error", fmt.Errorf("get transaction: %w", err)
	}

	if !tmpl.Schedulable() || !IsDue(tmpl, now) {
		return "skipped", nil
	}

	next, err := NextOccurrence(tmpl.RecurringInterval, now)
	if err != nil {
		slog.ErrorContext(ctx, "Recurring template has an invalid interval",
			"transaction_id", tmpl.ID,
			"user_id", tmpl.UserID,
			"interval", tmpl.RecurringInterval,
			"error", err)
		return "invalid", fmt.Errorf("transaction %s: %w", tmpl.ID, err)
	}

	applied, err := p.store.ApplyRecurrence(ctx, core.Recurrence{
		Template:    tmpl,
		Instance:    instanceOf(tmpl, now),
		ProcessedAt: now,
		Next:        next,
	})
	if err != nil {
		return "error", err
	}
	if !applied {
		slog.InfoContext(ctx, "Recurring template already processed",
			"transaction_id", tmpl.ID)
		return "skipped", nil
	}

	slog.InfoContext(ctx, "Created transaction from recurring template",
		"transaction_id", tmpl.ID,
		"user_id", tmpl.UserID,
		"amount", tmpl.Amount.String(),
		"type", tmpl.Type,
		"interval", tmpl.RecurringInterval,
		"next_recurring_date", next.Format(time.RFC3339))

	return "applied", nil
}

// instanceOf builds the concrete transaction a template spawns at now.
func instanceOf(tmpl core.Transaction, now time.Time) core.Transaction {
	return core.Transaction{
		UserID:      tmpl.UserID,
		AccountID:   tmpl.AccountID,
		Type:        tmpl.Type,
		Amount:      tmpl.Amount,
		Description: tmpl.Description + " (Recurring)",
		Date:        now,
		Category:    tmpl.Category,
		IsRecurring: false,
		Status:      core.StatusCompleted,
		CreatedAt:   now,
	}
}
