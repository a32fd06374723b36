package storage

import "database/sql"

// Row types mirror the table columns. Timestamps are unix milliseconds (UTC)
// and amounts are integer cents.

type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt int64
}

type Account struct {
	ID           string
	UserID       string
	Name         string
	Type         string
	BalanceCents int64
	IsDefault    bool
	CreatedAt    int64
}

type Transaction struct {
	ID                string
	UserID            string
	AccountID         string
	Type              string
	AmountCents       int64
	Description       string
	Date              int64
	Category          string
	IsRecurring       bool
	RecurringInterval string
	Status            string
	LastProcessed     sql.NullInt64
	NextRecurringDate sql.NullInt64
	CreatedAt         int64
}

type Budget struct {
	ID            string
	UserID        string
	AmountCents   int64
	LastAlertSent sql.NullInt64
	CreatedAt     int64
	UpdatedAt     int64
}

// BudgetTargetRow joins a budget with its owner and the owner's default account.
type BudgetTargetRow struct {
	Budget
	UserEmail           string
	UserName            string
	AccountID           sql.NullString
	AccountName         sql.NullString
	AccountBalanceCents sql.NullInt64
}
