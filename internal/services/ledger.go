package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"costrologer/internal/core"
)

// Ledger implements the user-facing account, transaction and budget
// operations.
type Ledger struct {
	store LedgerStore
	loc   *time.Location
}

func NewLedger(store LedgerStore, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{store: store, loc: loc}
}

// AccountInput describes a new account.
type AccountInput struct {
	Name      string
	Type      core.AccountType
	Balance   core.Money
	IsDefault bool
}

// TransactionInput describes a new transaction.
type TransactionInput struct {
	AccountID         string
	Type              core.TransactionType
	Amount            core.Money
	Description       string
	Date              time.Time
	Category          string
	IsRecurring       bool
	RecurringInterval core.RecurringInterval
}

// AccountDetail is an account with its transactions, newest first.
type AccountDetail struct {
	Account      core.Account
	Transactions []core.Transaction
}

// BudgetStatus is a user's budget and the current month's expenses of one
// account. Budget is nil when the user has not set one.
type BudgetStatus struct {
	Budget          *core.Budget
	AccountID       string
	CurrentExpenses core.Money
}

// ValidationError marks caller mistakes.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) error {
	return &ValidationError{Err: err}
}

// RegisterUser records a user who will receive alerts and reports at email.
func (l *Ledger) RegisterUser(ctx context.Context, email, name string) (core.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return core.User{}, invalid(fmt.Errorf("%w: %q", core.ErrEmptyRecipient, email))
	}
	return l.store.CreateUser(ctx, core.User{Email: email, Name: strings.TrimSpace(name)})
}

func (l *Ledger) CreateAccount(ctx context.Context, userID string, in AccountInput) (core.Account, error) {
	if in.Type == "" {
		in.Type = core.AccountCurrent
	}
	a := core.Account{
		UserID:    userID,
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Balance:   in.Balance,
		IsDefault: in.IsDefault,
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, invalid(err)
	}
	return l.store.CreateAccount(ctx, a)
}

func (l *Ledger) SetDefaultAccount(ctx context.Context, userID, accountID string) error {
	return l.store.SetDefaultAccount(ctx, userID, accountID)
}

func (l *Ledger) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	return l.store.ListAccounts(ctx, userID)
}

func (l *Ledger) GetAccount(ctx context.Context, userID, accountID string) (AccountDetail, error) {
	a, err := l.store.GetAccount(ctx, userID, accountID)
	if err != nil {
		return AccountDetail{}, err
	}
	txs, err := l.store.ListAccountTransactions(ctx, userID, accountID)
	if err != nil {
		return AccountDetail{}, err
	}
	return AccountDetail{Account: a, Transactions: txs}, nil
}

// CreateTransaction validates and records a transaction. A recurring one is
// scheduled for its first repeat one interval after its date.
func (l *Ledger) CreateTransaction(ctx context.Context, userID string, in TransactionInput) (core.Transaction, error) {
	t := core.Transaction{
		UserID:      userID,
		AccountID:   in.AccountID,
		Type:        in.Type,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		Date:        in.Date,
		Category:    strings.TrimSpace(in.Category),
		IsRecurring: in.IsRecurring,
		Status:      core.StatusCompleted,
	}
	if in.IsRecurring {
		t.RecurringInterval = in.RecurringInterval
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, invalid(err)
	}

	if _, err := l.store.GetAccount(ctx, userID, in.AccountID); err != nil {
		return core.Transaction{}, err
	}

	if t.IsRecurring {
		next, err := NextOccurrence(t.RecurringInterval, t.Date.In(l.loc))
		if err != nil {
			return core.Transaction{}, invalid(err)
		}
		t.NextRecurringDate = &next
	}

	created, err := l.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction created",
		"transaction_id", created.ID,
		"user_id", userID,
		"account_id", created.AccountID,
		"type", created.Type,
		"amount", created.Amount.String(),
		"is_recurring", created.IsRecurring)

	return created, nil
}

// BulkDeleteTransactions deletes the user's transactions and reverses their
// balance effect. It returns how many were deleted.
func (l *Ledger) BulkDeleteTransactions(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, invalid(errors.New("no transaction ids given"))
	}
	return l.store.DeleteTransactions(ctx, userID, ids)
}

func (l *Ledger) UpsertBudget(ctx context.Context, userID string, amount core.Money) (core.Budget, error) {
	if err := amount.Validate(); err != nil {
		return core.Budget{}, invalid(err)
	}
	return l.store.UpsertBudget(ctx, userID, amount)
}

// CurrentBudget returns the user's budget and the expenses of accountID in
// the calendar month containing now. An empty accountID selects the user's
// default account.
func (l *Ledger) CurrentBudget(ctx context.Context, userID, accountID string, now time.Time) (BudgetStatus, error) {
	var status BudgetStatus

	b, err := l.store.GetBudget(ctx, userID)
	switch {
	case err == nil:
		status.Budget = &b
	case errors.Is(err, core.ErrNotFound):
	default:
		return BudgetStatus{}, err
	}

	if accountID == "" {
		accounts, err := l.store.ListAccounts(ctx, userID)
		if err != nil {
			return BudgetStatus{}, err
		}
		for _, a := range accounts {
			if a.IsDefault {
				accountID = a.ID
				break
			}
		}
		if accountID == "" {
			return status, nil
		}
	}

	start, end := core.MonthRange(now.In(l.loc))
	spent, err := l.store.SumExpenses(ctx, userID, accountID, start, end)
	if err != nil {
		return BudgetStatus{}, fmt.Errorf("current expenses: %w", err)
	}
	status.AccountID = accountID
	status.CurrentExpenses = spent
	return status, nil
}
