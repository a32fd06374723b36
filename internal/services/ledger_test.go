package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"costrologer/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerFixture(t *testing.T) (*Ledger, context.Context) {
	t.Helper()
	store := newStore(t)
	ctx := context.Background()
	_, err := store.CreateUser(ctx, core.User{ID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	return NewLedger(store, time.UTC), ctx
}

func TestLedger_DefaultAccountInvariant(t *testing.T) {
	l, ctx := newLedgerFixture(t)

	first, err := l.CreateAccount(ctx, "u1", AccountInput{Name: "Main"})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	assert.Equal(t, core.AccountCurrent, first.Type)

	second, err := l.CreateAccount(ctx, "u1", AccountInput{Name: "Savings", Type: core.AccountSavings})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	require.NoError(t, l.SetDefaultAccount(ctx, "u1", second.ID))

	accounts, err := l.ListAccounts(ctx, "u1")
	require.NoError(t, err)
	var defaults []string
	for _, a := range accounts {
		if a.IsDefault {
			defaults = append(defaults, a.ID)
		}
	}
	assert.Equal(t, []string{second.ID}, defaults)
}

func TestLedger_CreateAccountValidation(t *testing.T) {
	l, ctx := newLedgerFixture(t)

	_, err := l.CreateAccount(ctx, "u1", AccountInput{Name: "  "})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = l.CreateAccount(ctx, "u1", AccountInput{Name: "x", Type: "BROKERAGE"})
	assert.True(t, errors.As(err, &verr))
}

func TestLedger_CreateRecurringTransaction(t *testing.T) {
	l, ctx := newLedgerFixture(t)
	acc, err := l.CreateAccount(ctx, "u1", AccountInput{Name: "Main"})
	require.NoError(t, err)

	tx, err := l.CreateTransaction(ctx, "u1", TransactionInput{
		AccountID:         acc.ID,
		Type:              core.Expense,
		Amount:            mustMoney(t, "49.99"),
		Description:       "Gym",
		Date:              time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC),
		Category:          "health",
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
	})
	require.NoError(t, err)
	require.NotNil(t, tx.NextRecurringDate)
	assert.True(t, tx.NextRecurringDate.Equal(time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)))
	assert.Nil(t, tx.LastProcessed)

	detail, err := l.GetAccount(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "-49.99", detail.Account.Balance.String())
	require.Len(t, detail.Transactions, 1)
}

func TestLedger_CreateTransactionValidation(t *testing.T) {
	l, ctx := newLedgerFixture(t)
	acc, err := l.CreateAccount(ctx, "u1", AccountInput{Name: "Main"})
	require.NoError(t, err)

	base := TransactionInput{
		AccountID: acc.ID, Type: core.Expense, Amount: mustMoney(t, "10"),
		Date: time.Now(), Category: "food",
	}

	tests := []struct {
		name   string
		modify func(*TransactionInput)
		target error
	}{
		{"zero amount", func(in *TransactionInput) { in.Amount = core.Money{} }, core.ErrInvalidAmount},
		{"bad type", func(in *TransactionInput) { in.Type = "TRANSFER" }, core.ErrInvalidType},
		{"no category", func(in *TransactionInput) { in.Category = " " }, core.ErrEmptyCategory},
		{"recurring without interval", func(in *TransactionInput) { in.IsRecurring = true }, core.ErrInvalidInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.modify(&in)
			_, err := l.CreateTransaction(ctx, "u1", in)
			assert.ErrorIs(t, err, tt.target)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}

	in := base
	in.AccountID = "missing"
	_, err = l.CreateTransaction(ctx, "u1", in)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLedger_BulkDelete(t *testing.T) {
	l, ctx := newLedgerFixture(t)
	acc, err := l.CreateAccount(ctx, "u1", AccountInput{Name: "Main", Balance: mustMoney(t, "100")})
	require.NoError(t, err)

	var ids []string
	for _, amount := range []string{"10", "20"} {
		tx, err := l.CreateTransaction(ctx, "u1", TransactionInput{
			AccountID: acc.ID, Type: core.Expense, Amount: mustMoney(t, amount),
			Date: time.Now(), Category: "misc",
		})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}

	n, err := l.BulkDeleteTransactions(ctx, "u1", ids)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	detail, err := l.GetAccount(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", detail.Account.Balance.String())
	assert.Empty(t, detail.Transactions)

	_, err = l.BulkDeleteTransactions(ctx, "u1", nil)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLedger_CurrentBudget(t *testing.T) {
	l, ctx := newLedgerFixture(t)
	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	status, err := l.CurrentBudget(ctx, "u1", "", now)
	require.NoError(t, err)
	assert.Nil(t, status.Budget)
	assert.Empty(t, status.AccountID)

	acc, err := l.CreateAccount(ctx, "u1", AccountInput{Name: "Main"})
	require.NoError(t, err)
	_, err = l.UpsertBudget(ctx, "u1", mustMoney(t, "500"))
	require.NoError(t, err)
	_, err = l.CreateTransaction(ctx, "u1", TransactionInput{
		AccountID: acc.ID, Type: core.Expense, Amount: mustMoney(t, "120"),
		Date: now.AddDate(0, 0, -1), Category: "food",
	})
	require.NoError(t, err)

	status, err = l.CurrentBudget(ctx, "u1", "", now)
	require.NoError(t, err)
	require.NotNil(t, status.Budget)
	assert.Equal(t, "500.00", status.Budget.Amount.String())
	assert.Equal(t, acc.ID, status.AccountID)
	assert.Equal(t, "120.00", status.CurrentExpenses.String())

	_, err = l.UpsertBudget(ctx, "u1", mustMoney(t, "-5"))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLedger_RegisterUser(t *testing.T) {
	l, ctx := newLedgerFixture(t)

	u, err := l.RegisterUser(ctx, " bob@example.com ", "Bob")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "bob@example.com", u.Email)

	_, err = l.RegisterUser(ctx, "not-an-email", "X")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, core.ErrEmptyRecipient)
}
