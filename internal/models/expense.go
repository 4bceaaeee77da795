package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expense represents a single dated monetary record owned by one account.
// Date is the ISO YYYY-MM-DD string the store persists; lexicographic order
// on it equals chronological order.
type Expense struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Category    string          `json:"category,omitempty"`
}

// Account represents an authenticated identity owning a set of expenses.
type Account struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

// Session represents a logged-in account session.
type Session struct {
	Token     string    `json:"token"`
	AccountID int64     `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
