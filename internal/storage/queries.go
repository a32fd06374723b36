package storage

import (
	"context"
	"database/sql"
)

const transactionColumns = `id, user_id, account_id, type, amount_cents, description, date, category,
	is_recurring, recurring_interval, status, last_processed, next_recurring_date, created_at`

const accountColumns = `id, user_id, name, type, balance_cents, is_default, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s rowScanner) (Transaction, error) {
	var t Transaction
	err := s.Scan(
		&t.ID, &t.UserID, &t.AccountID, &t.Type, &t.AmountCents, &t.Description, &t.Date, &t.Category,
		&t.IsRecurring, &t.RecurringInterval, &t.Status, &t.LastProcessed, &t.NextRecurringDate, &t.CreatedAt,
	)
	return t, err
}

func scanAccount(s rowScanner) (Account, error) {
	var a Account
	err := s.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.BalanceCents, &a.IsDefault, &a.CreatedAt)
	return a, err
}

func collectTransactions(rows *sql.Rows) ([]Transaction, error) {
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// --- users ---

const createUser = `INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateUser(ctx context.Context, arg User) error {
	_, err := q.exec(ctx, createUser, arg.ID, arg.Email, arg.Name, arg.CreatedAt)
	return err
}

const getUser = `SELECT id, email, name, created_at FROM users WHERE id = ?`

func (q *Queries) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := q.queryRow(ctx, getUser, id).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	return u, err
}

const listUsers = `SELECT id, email, name, created_at FROM users ORDER BY created_at, id`

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.query(ctx, listUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

// --- accounts ---

const createAccount = `INSERT INTO accounts (` + accountColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateAccount(ctx context.Context, arg Account) error {
	_, err := q.exec(ctx, createAccount,
		arg.ID, arg.UserID, arg.Name, arg.Type, arg.BalanceCents, arg.IsDefault, arg.CreatedAt)
	return err
}

const countAccountsByUser = `SELECT COUNT(*) FROM accounts WHERE user_id = ?`

func (q *Queries) CountAccountsByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.queryRow(ctx, countAccountsByUser, userID).Scan(&n)
	return n, err
}

const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ? AND user_id = ?`

func (q *Queries) GetAccount(ctx context.Context, id, userID string) (Account, error) {
	return scanAccount(q.queryRow(ctx, getAccount, id, userID))
}

const listAccountsByUser = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ? ORDER BY created_at DESC, id`

func (q *Queries) ListAccountsByUser(ctx context.Context, userID string) ([]Account, error) {
	rows, err := q.query(ctx, listAccountsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const clearDefaultAccounts = `UPDATE accounts SET is_default = ? WHERE user_id = ? AND is_default = ?`

func (q *Queries) ClearDefaultAccounts(ctx context.Context, userID string) error {
	_, err := q.exec(ctx, clearDefaultAccounts, false, userID, true)
	return err
}

const setAccountDefault = `UPDATE accounts SET is_default = ? WHERE id = ? AND user_id = ?`

func (q *Queries) SetAccountDefault(ctx context.Context, id, userID string) (int64, error) {
	res, err := q.exec(ctx, setAccountDefault, true, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const adjustAccountBalance = `UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ? AND user_id = ?`

func (q *Queries) AdjustAccountBalance(ctx context.Context, id, userID string, deltaCents int64) (int64, error) {
	res, err := q.exec(ctx, adjustAccountBalance, deltaCents, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- transactions ---

const createTransaction = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateTransaction(ctx context.Context, arg Transaction) error {
	_, err := q.exec(ctx, createTransaction,
		arg.ID, arg.UserID, arg.AccountID, arg.Type, arg.AmountCents, arg.Description, arg.Date, arg.Category,
		arg.IsRecurring, arg.RecurringInterval, arg.Status, arg.LastProcessed, arg.NextRecurringDate, arg.CreatedAt)
	return err
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ? AND user_id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id, userID string) (Transaction, error) {
	return scanTransaction(q.queryRow(ctx, getTransaction, id, userID))
}

const listDueRecurringTransactions = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE is_recurring = ? AND status = ?
	  AND (last_processed IS NULL OR next_recurring_date IS NULL OR next_recurring_date <= ?)
	ORDER BY user_id, id`

func (q *Queries) ListDueRecurringTransactions(ctx context.Context, status string, now int64) ([]Transaction, error) {
	rows, err := q.query(ctx, listDueRecurringTransactions, true, status, now)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// claimRecurringTransaction advances a template's schedule only while it is
// still due. Zero affected rows means another run already fired this window.
const claimRecurringTransaction = `UPDATE transactions SET last_processed = ?, next_recurring_date = ?
	WHERE id = ? AND user_id = ? AND is_recurring = ? AND status = ?
	  AND (last_processed IS NULL OR next_recurring_date IS NULL OR next_recurring_date <= ?)`

type ClaimRecurringParams struct {
	ID                string
	UserID            string
	Status            string
	Now               int64
	NextRecurringDate int64
}

func (q *Queries) ClaimRecurringTransaction(ctx context.Context, arg ClaimRecurringParams) (int64, error) {
	res, err := q.exec(ctx, claimRecurringTransaction,
		arg.Now, arg.NextRecurringDate, arg.ID, arg.UserID, true, arg.Status, arg.Now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listTransactionsByAccount = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE account_id = ? AND user_id = ? ORDER BY date DESC, created_at DESC`

func (q *Queries) ListTransactionsByAccount(ctx context.Context, accountID, userID string) ([]Transaction, error) {
	rows, err := q.query(ctx, listTransactionsByAccount, accountID, userID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

const listTransactionsBetween = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE user_id = ? AND date >= ? AND date < ? ORDER BY date`

func (q *Queries) ListTransactionsBetween(ctx context.Context, userID string, from, to int64) ([]Transaction, error) {
	rows, err := q.query(ctx, listTransactionsBetween, userID, from, to)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (q *Queries) ListTransactionsByIDs(ctx context.Context, userID string, ids []string) ([]Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := q.query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (q *Queries) DeleteTransactionsByIDs(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	stmt := `DELETE FROM transactions WHERE user_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := q.exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const sumExpenses = `SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
	WHERE user_id = ? AND account_id = ? AND type = ? AND date >= ? AND date < ?`

func (q *Queries) SumExpenses(ctx context.Context, userID, accountID string, from, to int64) (int64, error) {
	var total int64
	err := q.queryRow(ctx, sumExpenses, userID, accountID, "EXPENSE", from, to).Scan(&total)
	return total, err
}

// --- budgets ---

const upsertBudget = `INSERT INTO budgets (id, user_id, amount_cents, last_alert_sent, created_at, updated_at)
	VALUES (?, ?, ?, NULL, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET amount_cents = excluded.amount_cents, updated_at = excluded.updated_at
	RETURNING id, user_id, amount_cents, last_alert_sent, created_at, updated_at`

type UpsertBudgetParams struct {
	ID          string
	UserID      string
	AmountCents int64
	Now         int64
}

func (q *Queries) UpsertBudget(ctx context.Context, arg UpsertBudgetParams) (Budget, error) {
	var b Budget
	err := q.queryRow(ctx, upsertBudget, arg.ID, arg.UserID, arg.AmountCents, arg.Now, arg.Now).
		Scan(&b.ID, &b.UserID, &b.AmountCents, &b.LastAlertSent, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

const getBudgetByUser = `SELECT id, user_id, amount_cents, last_alert_sent, created_at, updated_at
	FROM budgets WHERE user_id = ?`

func (q *Queries) GetBudgetByUser(ctx context.Context, userID string) (Budget, error) {
	var b Budget
	err := q.queryRow(ctx, getBudgetByUser, userID).
		Scan(&b.ID, &b.UserID, &b.AmountCents, &b.LastAlertSent, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

const listBudgetTargets = `SELECT b.id, b.user_id, b.amount_cents, b.last_alert_sent, b.created_at, b.updated_at,
	u.email, u.name, a.id, a.name, a.balance_cents
	FROM budgets b
	JOIN users u ON u.id = b.user_id
	LEFT JOIN accounts a ON a.user_id = b.user_id AND a.is_default = ?
	ORDER BY b.id`

func (q *Queries) ListBudgetTargets(ctx context.Context) ([]BudgetTargetRow, error) {
	rows, err := q.query(ctx, listBudgetTargets, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BudgetTargetRow
	for rows.Next() {
		var r BudgetTargetRow
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.AmountCents, &r.LastAlertSent, &r.CreatedAt, &r.UpdatedAt,
			&r.UserEmail, &r.UserName, &r.AccountID, &r.AccountName, &r.AccountBalanceCents,
		); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const markBudgetAlertSent = `UPDATE budgets SET last_alert_sent = ?, updated_at = ? WHERE id = ?`

func (q *Queries) MarkBudgetAlertSent(ctx context.Context, id string, at int64) (int64, error) {
	res, err := q.exec(ctx, markBudgetAlertSent, at, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
