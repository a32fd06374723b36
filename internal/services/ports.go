package services

import (
	"context"
	"time"

	"costrologer/internal/core"
)

// Clock returns the current time. Jobs take now explicitly; Clock is only
// used by entry points that have no caller-provided time.
type Clock func() time.Time

// DueLister finds recurring templates due at now.
type DueLister interface {
	ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error)
}

// RecurrenceStore re-reads a template and applies one recurrence atomically.
type RecurrenceStore interface {
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	ApplyRecurrence(ctx context.Context, rec core.Recurrence) (bool, error)
}

// Throttle meters work per key. Reserve returns zero when the work may run
// now, otherwise how long to postpone it.
type Throttle interface {
	Reserve(key string) time.Duration
}

// BudgetStore is what the alert evaluator needs from persistence.
type BudgetStore interface {
	ListBudgetTargets(ctx context.Context) ([]core.BudgetTarget, error)
	SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (core.Money, error)
	MarkBudgetAlertSent(ctx context.Context, budgetID string, at time.Time) error
}

// ReportStore is what the monthly reporter needs from persistence.
type ReportStore interface {
	ListUsers(ctx context.Context) ([]core.User, error)
	ListTransactionsBetween(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error)
}

// LedgerStore backs the user-facing ledger operations.
type LedgerStore interface {
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
	SetDefaultAccount(ctx context.Context, userID, accountID string) error
	GetAccount(ctx context.Context, userID, accountID string) (core.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]core.Account, error)
	ListAccountTransactions(ctx context.Context, userID, accountID string) ([]core.Transaction, error)
	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	DeleteTransactions(ctx context.Context, userID string, ids []string) (int, error)
	UpsertBudget(ctx context.Context, userID string, amount core.Money) (core.Budget, error)
	GetBudget(ctx context.Context, userID string) (core.Budget, error)
	SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (core.Money, error)
}
