package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"costrologer/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo *Repository, id string) core.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), core.User{ID: id, Email: id + "@example.com", Name: id})
	require.NoError(t, err)
	return u
}

func seedAccount(t *testing.T, repo *Repository, userID, name string, isDefault bool) core.Account {
	t.Helper()
	a, err := repo.CreateAccount(context.Background(), core.Account{
		UserID:    userID,
		Name:      name,
		Type:      core.AccountCurrent,
		IsDefault: isDefault,
	})
	require.NoError(t, err)
	return a
}

func money(t *testing.T, s string) core.Money {
	t.Helper()
	m, err := core.ParseMoney(s)
	require.NoError(t, err)
	return m
}

func TestCreateAccount_FirstIsDefault(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")

	first := seedAccount(t, repo, "u1", "Main", false)
	assert.True(t, first.IsDefault)

	second := seedAccount(t, repo, "u1", "Savings", false)
	assert.False(t, second.IsDefault)

	third := seedAccount(t, repo, "u1", "New main", true)
	assert.True(t, third.IsDefault)

	accounts, err := repo.ListAccounts(ctx, "u1")
	require.NoError(t, err)
	defaults := 0
	for _, a := range accounts {
		if a.IsDefault {
			defaults++
			assert.Equal(t, third.ID, a.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestUnknownUser_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateAccount(ctx, core.Account{UserID: "ghost", Name: "Main", Type: core.AccountCurrent})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = repo.UpsertBudget(ctx, "ghost", money(t, "100"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	accounts, err := repo.ListAccounts(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestSetDefaultAccount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	seedUser(t, repo, "u2")

	first := seedAccount(t, repo, "u1", "Main", false)
	second := seedAccount(t, repo, "u1", "Other", false)

	require.NoError(t, repo.SetDefaultAccount(ctx, "u1", second.ID))

	got, err := repo.GetAccount(ctx, "u1", first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
	got, err = repo.GetAccount(ctx, "u1", second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)

	err = repo.SetDefaultAccount(ctx, "u2", second.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreateTransaction_AdjustsBalance(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	acc := seedAccount(t, repo, "u1", "Main", true)
	date := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := repo.CreateTransaction(ctx, core.Transaction{
		UserID: "u1", AccountID: acc.ID, Type: core.Income, Amount: money(t, "1000.00"),
		Date: date, Category: "salary",
	})
	require.NoError(t, err)
	_, err = repo.CreateTransaction(ctx, core.Transaction{
		UserID: "u1", AccountID: acc.ID, Type: core.Expense, Amount: money(t, "45.50"),
		Date: date, Category: "groceries",
	})
	require.NoError(t, err)

	got, err := repo.GetAccount(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "954.50", got.Balance.String())

	txs, err := repo.ListAccountTransactions(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestCreateTransaction_UnknownAccount(t *testing.T) {
	repo := newTestRepo(t)
	seedUser(t, repo, "u1")

	_, err := repo.CreateTransaction(context.Background(), core.Transaction{
		UserID: "u1", AccountID: "missing", Type: core.Expense, Amount: money(t, "1"),
		Date: time.Now(), Category: "x",
	})
	assert.Error(t, err)
}

func TestGetTransaction_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetTransaction(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func recurringTemplate(t *testing.T, repo *Repository, userID, accountID string, lastProcessed, next *time.Time) core.Transaction {
	t.Helper()
	tx, err := repo.CreateTransaction(context.Background(), core.Transaction{
		UserID:            userID,
		AccountID:         accountID,
		Type:              core.Expense,
		Amount:            money(t, "50.00"),
		Description:       "Gym",
		Date:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Category:          "health",
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
		Status:            core.StatusCompleted,
		LastProcessed:     lastProcessed,
		NextRecurringDate: next,
	})
	require.NoError(t, err)
	return tx
}

func TestListDueRecurring(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	acc := seedAccount(t, repo, "u1", "Main", true)
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	never := recurringTemplate(t, repo, "u1", acc.ID, nil, &future)
	overdue := recurringTemplate(t, repo, "u1", acc.ID, &past, &past)
	recurringTemplate(t, repo, "u1", acc.ID, &past, &future)
	missingNext := recurringTemplate(t, repo, "u1", acc.ID, &past, nil)

	due, err := repo.ListDueRecurring(ctx, now)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{never.ID, overdue.ID, missingNext.ID}, ids)
}

func TestApplyRecurrence_Idempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	acc := seedAccount(t, repo, "u1", "Main", true)
	tmpl := recurringTemplate(t, repo, "u1", acc.ID, nil, nil)

	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	next := time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)
	rec := core.Recurrence{
		Template: tmpl,
		Instance: core.Transaction{
			UserID: "u1", AccountID: acc.ID, Type: core.Expense, Amount: tmpl.Amount,
			Description: "Gym (Recurring)", Date: now, Category: "health", Status: core.StatusCompleted,
		},
		ProcessedAt: now,
		Next:        next,
	}

	applied, err := repo.ApplyRecurrence(ctx, rec)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.ApplyRecurrence(ctx, rec)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.GetTransaction(ctx, "u1", tmpl.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastProcessed)
	require.NotNil(t, got.NextRecurringDate)
	assert.True(t, got.LastProcessed.Equal(now))
	assert.True(t, got.NextRecurringDate.Equal(next))

	txs, err := repo.ListAccountTransactions(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	account, err := repo.GetAccount(ctx, "u1", acc.ID)
	require.NoError(t, err)
	// Template -50 plus one instance -50.
	assert.Equal(t, "-100.00", account.Balance.String())
}

func TestApplyRecurrence_ConcurrentSingleWinner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	acc := seedAccount(t, repo, "u1", "Main", true)
	tmpl := recurringTemplate(t, repo, "u1", acc.ID, nil, nil)
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ApplyRecurrence(ctx, core.Recurrence{
				Template: tmpl,
				Instance: core.Transaction{
					UserID: "u1", AccountID: acc.ID, Type: core.Expense, Amount: tmpl.Amount,
					Description: "Gym (Recurring)", Date: now, Category: "health", Status: core.StatusCompleted,
				},
				ProcessedAt: now,
				Next:        now.AddDate(0, 1, 0),
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
}

func TestApplyRecurrence_RollsBackOnFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	acc := seedAccount(t, repo, "u1", "Main", true)
	tmpl := recurringTemplate(t, repo, "u1", acc.ID, nil, nil)
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	// Zero amount violates the amount check constraint on insert.
	_, err := repo.ApplyRecurrence(ctx, core.Recurrence{
		Template: tmpl,
		Instance: core.Transaction{
			UserID: "u1", AccountID: acc.ID, Type: core.Expense,
			Description: "Gym (Recurring)", Date: now, Category: "health", Status: core.StatusCompleted,
		},
		ProcessedAt: now,
		Next:        now.AddDate(0, 1, 0),
	})
	require.Error(t, err)

	got, err := repo.GetTransaction(ctx, "u1", tmpl.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastProcessed)
	assert.Nil(t, got.NextRecurringDate)
}

func TestDeleteTransactions_ReversesBalances(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	seedUser(t, repo, "u2")
	a1 := seedAccount(t, repo, "u1", "Main", true)
	a2 := seedAccount(t, repo, "u1", "Savings", false)
	other := seedAccount(t, repo, "u2", "Theirs", true)
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	create := func(userID, accountID string, typ core.TransactionType, amount string) core.Transaction {
		tx, err := repo.CreateTransaction(ctx, core.Transaction{
			UserID: userID, AccountID: accountID, Type: typ, Amount: money(t, amount),
			Date: date, Category: "misc",
		})
		require.NoError(t, err)
		return tx
	}

	e1 := create("u1", a1.ID, core.Expense, "20.00")
	i1 := create("u1", a2.ID, core.Income, "100.00")
	keep := create("u1", a1.ID, core.Expense, "5.00")
	foreign := create("u2", other.ID, core.Expense, "7.00")

	n, err := repo.DeleteTransactions(ctx, "u1", []string{e1.ID, i1.ID, foreign.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got1, err := repo.GetAccount(ctx, "u1", a1.ID)
	require.NoError(t, err)
	assert.Equal(t, "-5.00", got1.Balance.String())

	got2, err := repo.GetAccount(ctx, "u1", a2.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", got2.Balance.String())

	_, err = repo.GetTransaction(ctx, "u1", keep.ID)
	assert.NoError(t, err)
	_, err = repo.GetTransaction(ctx, "u2", foreign.ID)
	assert.NoError(t, err)
}

func TestSumExpenses_HalfOpenWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	acc := seedAccount(t, repo, "u1", "Main", true)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	for _, tc := range []struct {
		date   time.Time
		typ    core.TransactionType
		amount string
	}{
		{from, core.Expense, "10.00"},
		{to.Add(-time.Millisecond), core.Expense, "5.25"},
		{to, core.Expense, "99.00"},
		{from.Add(-time.Millisecond), core.Expense, "99.00"},
		{from.Add(time.Hour), core.Income, "500.00"},
	} {
		_, err := repo.CreateTransaction(ctx, core.Transaction{
			UserID: "u1", AccountID: acc.ID, Type: tc.typ, Amount: money(t, tc.amount),
			Date: tc.date, Category: "misc",
		})
		require.NoError(t, err)
	}

	total, err := repo.SumExpenses(ctx, "u1", acc.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, "15.25", total.String())
}

func TestBudgets(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "u1")
	seedUser(t, repo, "u2")
	acc := seedAccount(t, repo, "u1", "Main", true)

	_, err := repo.GetBudget(ctx, "u1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	b, err := repo.UpsertBudget(ctx, "u1", money(t, "100"))
	require.NoError(t, err)
	updated, err := repo.UpsertBudget(ctx, "u1", money(t, "250.50"))
	require.NoError(t, err)
	assert.Equal(t, b.ID, updated.ID)
	assert.Equal(t, "250.50", updated.Amount.String())

	_, err = repo.UpsertBudget(ctx, "u2", money(t, "30"))
	require.NoError(t, err)

	targets, err := repo.ListBudgetTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	byUser := map[string]core.BudgetTarget{}
	for _, tg := range targets {
		byUser[tg.User.ID] = tg
	}
	require.NotNil(t, byUser["u1"].DefaultAccount)
	assert.Equal(t, acc.ID, byUser["u1"].DefaultAccount.ID)
	assert.Equal(t, "u1@example.com", byUser["u1"].User.Email)
	assert.Nil(t, byUser["u2"].DefaultAccount)

	at := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkBudgetAlertSent(ctx, b.ID, at))
	got, err := repo.GetBudget(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got.LastAlertSent)
	assert.True(t, got.LastAlertSent.Equal(at))

	assert.ErrorIs(t, repo.MarkBudgetAlertSent(ctx, "missing", at), core.ErrNotFound)
}

func TestRebind(t *testing.T) {
	q := New(nil, DialectPostgres)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)",
		q.rebind("SELECT * FROM t WHERE a = ? AND b IN ("+placeholders(2)+")"))

	q = New(nil, DialectSQLite)
	assert.Equal(t, "a = ?", q.rebind("a = ?"))
}
