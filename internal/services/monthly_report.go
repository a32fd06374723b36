package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"costrologer/internal/core"
	"costrologer/internal/insights"
	"costrologer/internal/metrics"
	"costrologer/internal/notify"
)

// MonthlyReporter emails every user a summary of the previous calendar month.
type MonthlyReporter struct {
	store      ReportStore
	summarizer insights.Summarizer
	notifier   notify.Notifier
	renderer   *notify.Renderer
	loc        *time.Location
}

// NewMonthlyReporter wraps summarizer so generation failures fall back to the
// fixed insights.
func NewMonthlyReporter(store ReportStore, summarizer insights.Summarizer, notifier notify.Notifier, renderer *notify.Renderer, loc *time.Location) *MonthlyReporter {
	if loc == nil {
		loc = time.UTC
	}
	return &MonthlyReporter{
		store:      store,
		summarizer: insights.Fallback(summarizer),
		notifier:   notifier,
		renderer:   renderer,
		loc:        loc,
	}
}

// Run sends a report for the month before now to every user and returns the
// number of reports sent.
func (r *MonthlyReporter) Run(ctx context.Context, now time.Time) (int, error) {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	start := core.MonthStart(now.In(r.loc)).AddDate(0, -1, 0)
	end := start.AddDate(0, 1, 0)
	month := start.Format("January 2006")

	sent := 0
	for _, u := range users {
		if err := r.report(ctx, u, start, end, month); err != nil {
			slog.ErrorContext(ctx, "Monthly report failed",
				"user_id", u.ID,
				"month", month,
				"error", err)
			continue
		}
		sent++
	}

	slog.InfoContext(ctx, "Monthly reports complete",
		"users", len(users),
		"sent", sent,
		"month", month)

	return sent, nil
}

func (r *MonthlyReporter) report(ctx context.Context, u core.User, start, end time.Time, month string) error {
	txs, err := r.store.ListTransactionsBetween(ctx, u.ID, start, end)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	stats := core.Summarize(start, txs)

	lines, err := r.summarizer.Summarize(ctx, stats, month)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	email, err := r.renderer.MonthlyReport(u.Email, notify.MonthlyReportData{
		UserName:         u.Name,
		Month:            month,
		TotalIncome:      stats.TotalIncome,
		TotalExpenses:    stats.TotalExpenses,
		NetIncome:        stats.NetIncome(),
		TransactionCount: stats.TransactionCount,
		Categories:       stats.Categories(),
		Insights:         lines,
	})
	if err != nil {
		return err
	}

	if _, err := r.notifier.Send(ctx, email); err != nil {
		metrics.NotificationsSent.WithLabelValues(notify.TemplateMonthlyReport, "failed").Inc()
		return fmt.Errorf("send report: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues(notify.TemplateMonthlyReport, "sent").Inc()
	return nil
}
