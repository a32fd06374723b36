package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costrologer/internal/core"
	"costrologer/internal/storage"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "cli.db")
	for key, value := range map[string]string{
		"CONFIG_FILE":    "",
		"DB_DRIVER":      "sqlite",
		"SQLITE_DB_PATH": dbPath,
		"AMQP_URL":       "",
		"NOTIFIER":       "log",
		"TIMEZONE":       "UTC",
		"LOG_LEVEL":      "error",
		"GEMINI_API_KEY": "",
	} {
		t.Setenv(key, value)
	}
	return dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")
}

func TestRunRecurringInline(t *testing.T) {
	dbPath := setupEnv(t)
	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(ctx, dbPath)
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, core.User{ID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	acc, err := repo.CreateAccount(ctx, core.Account{
		UserID: "u1", Name: "Main", Type: core.AccountCurrent,
		Balance: core.NewMoney(decimal.NewFromInt(1200)),
	})
	require.NoError(t, err)
	_, err = repo.CreateTransaction(ctx, core.Transaction{
		UserID: "u1", AccountID: acc.ID, Type: core.Expense,
		Amount:      core.NewMoney(decimal.NewFromInt(200)),
		Description: "Rent", Category: "housing",
		Date:        time.Now().AddDate(0, -1, 0),
		IsRecurring: true, RecurringInterval: core.Monthly,
		Status: core.StatusCompleted,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	out, err := execute(t, "run", "recurring")
	require.NoError(t, err)
	assert.Contains(t, out, "recurring: 1 processed")

	repo, err = storage.NewSQLiteRepository(ctx, dbPath)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetAccount(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "800.00", got.Balance.String())

	txs, err := repo.ListAccountTransactions(ctx, "u1", acc.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestRunBudgetAlertsEmpty(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "run", "budget-alerts")
	require.NoError(t, err)
	assert.Contains(t, out, "budget-alerts: 0 processed")
}

func TestRunUnknownJob(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "run", "nope")
	assert.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
