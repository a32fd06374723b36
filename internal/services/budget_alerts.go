package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"costrologer/internal/core"
	"costrologer/internal/metrics"
	"costrologer/internal/notify"
)

// DefaultAlertThreshold is the budget usage percentage that triggers an alert.
const DefaultAlertThreshold = 80.0

// BudgetAlertEvaluator emails users whose default account has used most of
// their monthly budget, at most once per calendar month.
type BudgetAlertEvaluator struct {
	store     BudgetStore
	notifier  notify.Notifier
	renderer  *notify.Renderer
	threshold float64
	loc       *time.Location
}

func NewBudgetAlertEvaluator(store BudgetStore, notifier notify.Notifier, renderer *notify.Renderer, threshold float64, loc *time.Location) *BudgetAlertEvaluator {
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	if loc == nil {
		loc = time.UTC
	}
	return &BudgetAlertEvaluator{
		store:     store,
		notifier:  notifier,
		renderer:  renderer,
		threshold: threshold,
		loc:       loc,
	}
}

// Run evaluates every budget at now and returns the number of alerts sent.
// A failure for one budget is logged and does not stop the others; only a
// failure to list budgets is returned.
func (e *BudgetAlertEvaluator) Run(ctx context.Context, now time.Time) (int, error) {
	now = now.In(e.loc)

	targets, err := e.store.ListBudgetTargets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list budgets: %w", err)
	}

	sent := 0
	for _, target := range targets {
		ok, err := e.evaluate(ctx, target, now)
		if ok {
			sent++
		}
		if err != nil {
			slog.ErrorContext(ctx, "Budget alert failed",
				"budget_id", target.Budget.ID,
				"user_id", target.User.ID,
				"error", err)
		}
	}

	slog.InfoContext(ctx, "Budget alert evaluation complete",
		"budgets", len(targets),
		"alerts_sent", sent)

	return sent, nil
}

func (e *BudgetAlertEvaluator) evaluate(ctx context.Context, target core.BudgetTarget, now time.Time) (bool, error) {
	if target.DefaultAccount == nil {
		slog.DebugContext(ctx, "Skipping budget without default account",
			"budget_id", target.Budget.ID,
			"user_id", target.User.ID)
		return false, nil
	}

	budget := target.Budget
	if last := budget.LastAlertSent; last != nil && !core.EarlierMonth(last.In(e.loc), now) {
		return false, nil
	}

	start, end := core.MonthRange(now)
	spent, err := e.store.SumExpenses(ctx, target.User.ID, target.DefaultAccount.ID, start, end)
	if err != nil {
		return false, fmt.Errorf("sum expenses: %w", err)
	}

	used := spent.PercentOf(budget.Amount)
	if used < e.threshold {
		return false, nil
	}

	email, err := e.renderer.BudgetAlert(target.User.Email, notify.BudgetAlertData{
		UserName:       target.User.Name,
		AccountName:    target.DefaultAccount.Name,
		PercentageUsed: used,
		BudgetAmount:   budget.Amount,
		TotalExpenses:  spent,
		Remaining:      budget.Amount.Sub(spent),
	})
	if err != nil {
		return false, err
	}

	messageID, err := e.notifier.Send(ctx, email)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(notify.TemplateBudgetAlert, "failed").Inc()
		return false, fmt.Errorf("send alert: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues(notify.TemplateBudgetAlert, "sent").Inc()

	if err := e.store.MarkBudgetAlertSent(ctx, budget.ID, now); err != nil {
		return true, fmt.Errorf("mark alert sent: %w", err)
	}

	slog.InfoContext(ctx, "Budget alert sent",
		"budget_id", budget.ID,
		"user_id", target.User.ID,
		"percentage_used", used,
		"message_id", messageID)

	return true, nil
}
