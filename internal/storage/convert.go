package storage

import (
	"database/sql"
	"time"

	"costrologer/internal/core"
)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func userToCore(u User) core.User {
	return core.User{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: fromMillis(u.CreatedAt),
	}
}

func accountFromCore(a core.Account) Account {
	return Account{
		ID:           a.ID,
		UserID:       a.UserID,
		Name:         a.Name,
		Type:         string(a.Type),
		BalanceCents: a.Balance.Cents(),
		IsDefault:    a.IsDefault,
		CreatedAt:    toMillis(a.CreatedAt),
	}
}

func accountToCore(a Account) core.Account {
	return core.Account{
		ID:        a.ID,
		UserID:    a.UserID,
		Name:      a.Name,
		Type:      core.AccountType(a.Type),
		Balance:   core.NewMoneyFromCents(a.BalanceCents),
		IsDefault: a.IsDefault,
		CreatedAt: fromMillis(a.CreatedAt),
	}
}

func transactionFromCore(t core.Transaction) Transaction {
	return Transaction{
		ID:                t.ID,
		UserID:            t.UserID,
		AccountID:         t.AccountID,
		Type:              string(t.Type),
		AmountCents:       t.Amount.Cents(),
		Description:       t.Description,
		Date:              toMillis(t.Date),
		Category:          t.Category,
		IsRecurring:       t.IsRecurring,
		RecurringInterval: string(t.RecurringInterval),
		Status:            string(t.Status),
		LastProcessed:     nullMillis(t.LastProcessed),
		NextRecurringDate: nullMillis(t.NextRecurringDate),
		CreatedAt:         toMillis(t.CreatedAt),
	}
}

func transactionToCore(t Transaction) core.Transaction {
	return core.Transaction{
		ID:                t.ID,
		UserID:            t.UserID,
		AccountID:         t.AccountID,
		Type:              core.TransactionType(t.Type),
		Amount:            core.NewMoneyFromCents(t.AmountCents),
		Description:       t.Description,
		Date:              fromMillis(t.Date),
		Category:          t.Category,
		IsRecurring:       t.IsRecurring,
		RecurringInterval: core.RecurringInterval(t.RecurringInterval),
		Status:            core.TransactionStatus(t.Status),
		LastProcessed:     timePtr(t.LastProcessed),
		NextRecurringDate: timePtr(t.NextRecurringDate),
		CreatedAt:         fromMillis(t.CreatedAt),
	}
}

func transactionsToCore(rows []Transaction) []core.Transaction {
	out := make([]core.Transaction, len(rows))
	for i, t := range rows {
		out[i] = transactionToCore(t)
	}
	return out
}

func budgetToCore(b Budget) core.Budget {
	return core.Budget{
		ID:            b.ID,
		UserID:        b.UserID,
		Amount:        core.NewMoneyFromCents(b.AmountCents),
		LastAlertSent: timePtr(b.LastAlertSent),
	}
}
