package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"costrologer/internal/core"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Repository persists users, accounts, transactions and budgets.
type Repository struct {
	db      *sql.DB
	queries *Queries
	dialect Dialect
}

// Open connects to the database for the given driver, applies migrations and
// returns a ready repository. driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (*Repository, error) {
	switch Dialect(driver) {
	case DialectSQLite:
		return NewSQLiteRepository(ctx, dsn)
	case DialectPostgres:
		return NewPostgresRepository(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func NewSQLiteRepository(ctx context.Context, dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := sqliteDSN(dbPath)
	if err := RunMigrations(DialectSQLite, dsn); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serialises writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{db: db, queries: New(db, DialectSQLite), dialect: DialectSQLite}, nil
}

func NewPostgresRepository(ctx context.Context, dsn string) (*Repository, error) {
	if err := RunMigrations(DialectPostgres, dsn); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{db: db, queries: New(db, DialectPostgres), dialect: DialectPostgres}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqlitePragmas
	}
	return path + "?" + sqlitePragmas
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx runs fn inside a database transaction, committing on success and
// rolling back on error.
func (r *Repository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// errRolledBack aborts a transaction without reporting an error to the caller.
var errRolledBack = errors.New("rolled back")

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

// missingParent maps a foreign key violation to core.ErrNotFound: the row
// points at a user or account that does not exist.
func missingParent(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "FOREIGN KEY")) {
			return fmt.Errorf("%w: %v", core.ErrNotFound, err)
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	return err
}

// --- users ---

func (r *Repository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if strings.TrimSpace(u.Email) == "" {
		return core.User{}, core.ErrEmptyRecipient
	}
	if err := r.queries.CreateUser(ctx, User{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: toMillis(u.CreatedAt),
	}); err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	u.CreatedAt = fromMillis(toMillis(u.CreatedAt))
	return u, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (core.User, error) {
	u, err := r.queries.GetUser(ctx, id)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, notFound(err))
	}
	return userToCore(u), nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.queries.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]core.User, len(rows))
	for i, u := range rows {
		users[i] = userToCore(u)
	}
	return users, nil
}

// --- accounts ---

// CreateAccount inserts an account. The first account of a user always
// becomes the default; a new default clears the previous one.
func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	err := r.withTx(ctx, func(q *Queries) error {
		n, err := q.CountAccountsByUser(ctx, a.UserID)
		if err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}
		if n == 0 {
			a.IsDefault = true
		}
		if a.IsDefault {
			if err := q.ClearDefaultAccounts(ctx, a.UserID); err != nil {
				return fmt.Errorf("clear default accounts: %w", err)
			}
		}
		return q.CreateAccount(ctx, accountFromCore(a))
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", missingParent(err))
	}

	slog.InfoContext(ctx, "Account created",
		"account_id", a.ID,
		"user_id", a.UserID,
		"is_default", a.IsDefault)

	a.CreatedAt = fromMillis(toMillis(a.CreatedAt))
	return a, nil
}

func (r *Repository) SetDefaultAccount(ctx context.Context, userID, accountID string) error {
	err := r.withTx(ctx, func(q *Queries) error {
		if _, err := q.GetAccount(ctx, accountID, userID); err != nil {
			return notFound(err)
		}
		if err := q.ClearDefaultAccounts(ctx, userID); err != nil {
			return fmt.Errorf("clear default accounts: %w", err)
		}
		if _, err := q.SetAccountDefault(ctx, accountID, userID); err != nil {
			return fmt.Errorf("set default: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set default account %s: %w", accountID, err)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, userID, accountID string) (core.Account, error) {
	a, err := r.queries.GetAccount(ctx, accountID, userID)
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", accountID, notFound(err))
	}
	return accountToCore(a), nil
}

func (r *Repository) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.queries.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]core.Account, len(rows))
	for i, a := range rows {
		accounts[i] = accountToCore(a)
	}
	return accounts, nil
}

// --- transactions ---

// CreateTransaction inserts the transaction and applies its signed amount to
// the owning account's balance.
func (r *Repository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = core.StatusCompleted
	}

	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.CreateTransaction(ctx, transactionFromCore(t)); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		n, err := q.AdjustAccountBalance(ctx, t.AccountID, t.UserID, t.SignedAmount().Cents())
		if err != nil {
			return fmt.Errorf("adjust balance: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("account %s: %w", t.AccountID, core.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return transactionToCore(transactionFromCore(t)), nil
}

func (r *Repository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	t, err := r.queries.GetTransaction(ctx, id, userID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, notFound(err))
	}
	return transactionToCore(t), nil
}

// ListDueRecurring returns recurring COMPLETED templates that have never run
// or whose next occurrence is at or before now.
func (r *Repository) ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	rows, err := r.queries.ListDueRecurringTransactions(ctx, string(core.StatusCompleted), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list due recurring transactions: %w", err)
	}
	return transactionsToCore(rows), nil
}

func (r *Repository) ListAccountTransactions(ctx context.Context, userID, accountID string) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsByAccount(ctx, accountID, userID)
	if err != nil {
		return nil, fmt.Errorf("list account transactions: %w", err)
	}
	return transactionsToCore(rows), nil
}

// ListTransactionsBetween returns the user's transactions dated in [from, to).
func (r *Repository) ListTransactionsBetween(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsBetween(ctx, userID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list transactions between: %w", err)
	}
	return transactionsToCore(rows), nil
}

// ApplyRecurrence records one firing of a recurring template atomically:
// it claims the template by advancing its schedule, inserts the instance and
// adjusts the account balance. The claim is guarded by the due predicate, so
// a template that is no longer due is left untouched and false is returned.
func (r *Repository) ApplyRecurrence(ctx context.Context, rec core.Recurrence) (bool, error) {
	tmpl := rec.Template
	inst := rec.Instance
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = rec.ProcessedAt
	}

	err := r.withTx(ctx, func(q *Queries) error {
		claimed, err := q.ClaimRecurringTransaction(ctx, ClaimRecurringParams{
			ID:                tmpl.ID,
			UserID:            tmpl.UserID,
			Status:            string(core.StatusCompleted),
			Now:               toMillis(rec.ProcessedAt),
			NextRecurringDate: toMillis(rec.Next),
		})
		if err != nil {
			return fmt.Errorf("claim template: %w", err)
		}
		if claimed == 0 {
			return errRolledBack
		}

		if err := q.CreateTransaction(ctx, transactionFromCore(inst)); err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}

		n, err := q.AdjustAccountBalance(ctx, inst.AccountID, inst.UserID, inst.SignedAmount().Cents())
		if err != nil {
			return fmt.Errorf("adjust balance: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("account %s: %w", inst.AccountID, core.ErrNotFound)
		}
		return nil
	})
	if errors.Is(err, errRolledBack) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("apply recurrence %s: %w", tmpl.ID, err)
	}
	return true, nil
}

// DeleteTransactions removes the user's transactions with the given ids and
// reverses their effect on each account balance. Ids that do not belong to
// the user are ignored. It returns the number of deleted transactions.
func (r *Repository) DeleteTransactions(ctx context.Context, userID string, ids []string) (int, error) {
	var deleted int64
	err := r.withTx(ctx, func(q *Queries) error {
		txs, err := q.ListTransactionsByIDs(ctx, userID, ids)
		if err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}
		if len(txs) == 0 {
			return nil
		}

		deltas := make(map[string]int64)
		for _, t := range txs {
			deltas[t.AccountID] -= transactionToCore(t).SignedAmount().Cents()
		}

		found := make([]string, len(txs))
		for i, t := range txs {
			found[i] = t.ID
		}
		if deleted, err = q.DeleteTransactionsByIDs(ctx, userID, found); err != nil {
			return fmt.Errorf("delete: %w", err)
		}

		for accountID, delta := range deltas {
			if _, err := q.AdjustAccountBalance(ctx, accountID, userID, delta); err != nil {
				return fmt.Errorf("adjust balance of %s: %w", accountID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	return int(deleted), nil
}

// SumExpenses totals the EXPENSE transactions of an account dated in [from, to).
func (r *Repository) SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (core.Money, error) {
	cents, err := r.queries.SumExpenses(ctx, userID, accountID, toMillis(from), toMillis(to))
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.NewMoneyFromCents(cents), nil
}

// --- budgets ---

func (r *Repository) UpsertBudget(ctx context.Context, userID string, amount core.Money) (core.Budget, error) {
	b, err := r.queries.UpsertBudget(ctx, UpsertBudgetParams{
		ID:          uuid.NewString(),
		UserID:      userID,
		AmountCents: amount.Cents(),
		Now:         toMillis(time.Now()),
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget: %w", missingParent(err))
	}
	return budgetToCore(b), nil
}

func (r *Repository) GetBudget(ctx context.Context, userID string) (core.Budget, error) {
	b, err := r.queries.GetBudgetByUser(ctx, userID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", notFound(err))
	}
	return budgetToCore(b), nil
}

// ListBudgetTargets returns every budget joined to its user and the user's
// default account, if any.
func (r *Repository) ListBudgetTargets(ctx context.Context) ([]core.BudgetTarget, error) {
	rows, err := r.queries.ListBudgetTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budget targets: %w", err)
	}

	targets := make([]core.BudgetTarget, len(rows))
	for i, row := range rows {
		target := core.BudgetTarget{
			Budget: budgetToCore(row.Budget),
			User: core.User{
				ID:    row.UserID,
				Email: row.UserEmail,
				Name:  row.UserName,
			},
		}
		if row.AccountID.Valid {
			target.DefaultAccount = &core.Account{
				ID:        row.AccountID.String,
				UserID:    row.UserID,
				Name:      row.AccountName.String,
				Balance:   core.NewMoneyFromCents(row.AccountBalanceCents.Int64),
				IsDefault: true,
			}
		}
		targets[i] = target
	}
	return targets, nil
}

func (r *Repository) MarkBudgetAlertSent(ctx context.Context, budgetID string, at time.Time) error {
	n, err := r.queries.MarkBudgetAlertSent(ctx, budgetID, toMillis(at))
	if err != nil {
		return fmt.Errorf("mark budget alert sent: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark budget alert sent %s: %w", budgetID, core.ErrNotFound)
	}
	return nil
}
