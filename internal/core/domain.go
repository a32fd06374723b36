package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

const (
	AccountCurrent AccountType = "CURRENT"
	AccountSavings AccountType = "SAVINGS"
)

type (
	RecurringInterval string
	TransactionType   string
	TransactionStatus string
	AccountType       string

	User struct {
		ID        string
		Email     string
		Name      string
		CreatedAt time.Time
	}

	Transaction struct {
		ID                string
		UserID            string
		AccountID         string
		Type              TransactionType
		Amount            Money
		Description       string
		Date              time.Time
		Category          string
		IsRecurring       bool
		RecurringInterval RecurringInterval
		Status            TransactionStatus
		LastProcessed     *time.Time
		NextRecurringDate *time.Time
		CreatedAt         time.Time
	}

	Account struct {
		ID        string
		UserID    string
		Name      string
		Type      AccountType
		Balance   Money
		IsDefault bool
		CreatedAt time.Time
	}

	Budget struct {
		ID            string
		UserID        string
		Amount        Money
		LastAlertSent *time.Time
	}

	// BudgetTarget is a budget together with the recipient and the account
	// whose expenses count against it. DefaultAccount is nil when the user
	// has no default account.
	BudgetTarget struct {
		Budget         Budget
		User           User
		DefaultAccount *Account
	}

	// Recurrence describes one firing of a recurring template: the instance
	// to record and the schedule to move the template to.
	Recurrence struct {
		Template    Transaction
		Instance    Transaction
		ProcessedAt time.Time
		Next        time.Time
	}
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInterval = errors.New("invalid recurring interval")
	ErrInvalidEvent    = errors.New("invalid processing event")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidType     = errors.New("invalid transaction type")
	ErrEmptyCategory   = errors.New("empty category")
	ErrEmptyRecipient  = errors.New("empty recipient")
)

// Valid reports whether the interval is one of the supported recurrences.
func (i RecurringInterval) Valid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// SignedAmount returns the balance effect of the transaction:
// negative for expenses, positive for income.
func (t Transaction) SignedAmount() Money {
	if t.Type == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Schedulable reports whether the transaction acts as a recurring template.
func (t Transaction) Schedulable() bool {
	return t.IsRecurring && t.Status == StatusCompleted
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, t.Type)
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	if len(strings.TrimSpace(t.Category)) == 0 {
		return ErrEmptyCategory
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if t.IsRecurring && !t.RecurringInterval.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidInterval, t.RecurringInterval)
	}
	return nil
}

func (a Account) Validate() error {
	if len(strings.TrimSpace(a.Name)) == 0 {
		return errors.New("empty account name")
	}
	switch a.Type {
	case AccountCurrent, AccountSavings:
	default:
		return fmt.Errorf("invalid account type %q", a.Type)
	}
	return nil
}

func (b Budget) Validate() error {
	return b.Amount.Validate()
}
