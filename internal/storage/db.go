package storage

import (
	"database/sql"
	"errors"
	"time"

	"expense-control/internal/models"

	"github.com/shopspring/decimal"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// Demo account guaranteed to exist after initialization.
const (
	DemoName     = "Demo"
	DemoEmail    = "demo@demo.com"
	DemoPassword = "1234"
)

// ErrNotFound is returned when a mutation matched no expense owned by the
// given account.
var ErrNotFound = errors.New("expense not found")

// DB wraps a sql.DB connection.
type DB struct {
	conn *sql.DB
}

// NewDB opens a database connection, runs migrations and seeds the demo
// account. Safe to call on every process start.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// Single connection: the store is synchronous request/response, and a
	// shared :memory: database needs one connection to stay one database.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, err
	}
	if err := db.seedDemoAccount(); err != nil {
		return nil, err
	}

	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			description TEXT NOT NULL,
			amount REAL NOT NULL,
			expense_date TEXT NOT NULL,
			category TEXT,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			account_id INTEGER NOT NULL,
			expires_at DATETIME NOT NULL,
			last_activity DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}

	return nil
}

// seedDemoAccount inserts the demo account if it is absent. Idempotent.
func (db *DB) seedDemoAccount() error {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM accounts WHERE email = ?", DemoEmail).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = db.conn.Exec(
		"INSERT INTO accounts (name, email, password) VALUES (?, ?, ?)",
		DemoName, DemoEmail, DemoPassword,
	)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Authenticate looks up the account whose email and password both match
// exactly. It returns (nil, nil) when no account matches; callers cannot
// tell an unknown email from a wrong password.
func (db *DB) Authenticate(email, password string) (*models.Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, password FROM accounts WHERE email = ? AND password = ?",
		email, password,
	)

	var a models.Account
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Password); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account.
func (db *DB) CreateAccount(name, email, password string) (*models.Account, error) {
	result, err := db.conn.Exec(
		"INSERT INTO accounts (name, email, password) VALUES (?, ?, ?)",
		name, email, password,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetAccountByID(id)
}

// GetAccountByID retrieves an account by id.
func (db *DB) GetAccountByID(id int64) (*models.Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, password FROM accounts WHERE id = ?",
		id,
	)

	var a models.Account
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Password); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByEmail retrieves an account by email.
func (db *DB) GetAccountByEmail(email string) (*models.Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, password FROM accounts WHERE email = ?",
		email,
	)

	var a models.Account
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Password); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateExpense inserts a new expense owned by accountID.
func (db *DB) CreateExpense(accountID int64, description string, amount decimal.Decimal, date, category string) error {
	_, err := db.conn.Exec(
		"INSERT INTO expenses (account_id, description, amount, expense_date, category) VALUES (?, ?, ?, ?, ?)",
		accountID, description, amount, date, category,
	)
	return err
}

// GetExpense retrieves a single expense by id, filtered by owning account.
func (db *DB) GetExpense(id, accountID int64) (*models.Expense, error) {
	row := db.conn.QueryRow(
		`SELECT id, account_id, description, amount, expense_date, COALESCE(category, '')
		 FROM expenses WHERE id = ? AND account_id = ?`,
		id, accountID,
	)

	var e models.Expense
	if err := row.Scan(&e.ID, &e.AccountID, &e.Description, &e.Amount, &e.Date, &e.Category); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// UpdateExpense updates the expense matching both id and owning account.
// An expense owned by a different account is never touched; when nothing
// matched, ErrNotFound is returned.
func (db *DB) UpdateExpense(id, accountID int64, description string, amount decimal.Decimal, date, category string) error {
	result, err := db.conn.Exec(
		`UPDATE expenses SET description = ?, amount = ?, expense_date = ?, category = ?
		 WHERE id = ? AND account_id = ?`,
		description, amount, date, category, id, accountID,
	)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// DeleteExpense deletes the expense matching both id and owning account.
func (db *DB) DeleteExpense(id, accountID int64) error {
	result, err := db.conn.Exec(
		"DELETE FROM expenses WHERE id = ? AND account_id = ?",
		id, accountID,
	)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpenses retrieves all expenses owned by accountID, newest expense
// date first. An account with no expenses gets an empty slice.
func (db *DB) ListExpenses(accountID int64) ([]models.Expense, error) {
	rows, err := db.conn.Query(
		`SELECT id, account_id, description, amount, expense_date, COALESCE(category, '')
		 FROM expenses WHERE account_id = ? ORDER BY expense_date DESC`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExpenses(rows)
}

// GetExpensesByMonth retrieves the account's expenses dated in the given
// year and month, newest first.
func (db *DB) GetExpensesByMonth(accountID int64, year, month int) ([]models.Expense, error) {
	rows, err := db.conn.Query(
		`SELECT id, account_id, description, amount, expense_date, COALESCE(category, '')
		 FROM expenses WHERE account_id = ? AND substr(expense_date, 1, 7) = ?
		 ORDER BY expense_date DESC`,
		accountID, monthKey(year, month),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExpenses(rows)
}

func scanExpenses(rows *sql.Rows) ([]models.Expense, error) {
	expenses := []models.Expense{}
	for rows.Next() {
		var e models.Expense
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Description, &e.Amount, &e.Date, &e.Category); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// CategoryTotal holds aggregate spending for one category.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
	Count    int
}

// GetCategoryTotalsByMonth aggregates the account's spending per category
// for the given year and month, largest total first.
func (db *DB) GetCategoryTotalsByMonth(accountID int64, year, month int) ([]CategoryTotal, error) {
	rows, err := db.conn.Query(
		`SELECT COALESCE(category, ''), SUM(amount), COUNT(*)
		 FROM expenses WHERE account_id = ? AND substr(expense_date, 1, 7) = ?
		 GROUP BY COALESCE(category, '') ORDER BY SUM(amount) DESC`,
		accountID, monthKey(year, month),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []CategoryTotal{}
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, err
		}
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

func monthKey(year, month int) string {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// CreateSession creates a new session for an account.
func (db *DB) CreateSession(token string, accountID int64, expiresAt time.Time) error {
	now := time.Now()
	_, err := db.conn.Exec(
		"INSERT INTO sessions (token, account_id, expires_at, last_activity) VALUES (?, ?, ?, ?)",
		token, accountID, expiresAt, now,
	)
	return err
}

// SessionInfo holds session validation data.
type SessionInfo struct {
	Account      *models.Account
	LastActivity time.Time
	ExpiresAt    time.Time
}

// ValidateSession checks if a session token is valid and returns the
// associated account.
func (db *DB) ValidateSession(token string) (*models.Account, error) {
	info, err := db.ValidateSessionWithInfo(token)
	if err != nil {
		return nil, err
	}
	return info.Account, nil
}

// ValidateSessionWithInfo checks if a session token is valid and returns
// session details.
func (db *DB) ValidateSessionWithInfo(token string) (*SessionInfo, error) {
	row := db.conn.QueryRow(`
		SELECT a.id, a.name, a.email, a.password, s.last_activity, s.expires_at
		FROM sessions s
		JOIN accounts a ON s.account_id = a.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP
	`, token)

	var a models.Account
	var lastActivity, expiresAt time.Time
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Password, &lastActivity, &expiresAt); err != nil {
		return nil, err
	}
	return &SessionInfo{
		Account:      &a,
		LastActivity: lastActivity,
		ExpiresAt:    expiresAt,
	}, nil
}

// RenewSession updates the last_activity and expires_at for a session.
func (db *DB) RenewSession(token string, newExpiresAt time.Time) error {
	now := time.Now()
	_, err := db.conn.Exec(
		"UPDATE sessions SET last_activity = ?, expires_at = ? WHERE token = ?",
		now, newExpiresAt, token,
	)
	return err
}

// DeleteSession removes a session by token.
func (db *DB) DeleteSession(token string) error {
	_, err := db.conn.Exec("DELETE FROM sessions WHERE token = ?", token)
	return err
}

// CleanExpiredSessions removes all expired sessions.
func (db *DB) CleanExpiredSessions() error {
	_, err := db.conn.Exec("DELETE FROM sessions WHERE expires_at <= CURRENT_TIMESTAMP")
	return err
}
