package handlers

import (
	"context"
	"errors"
	"html/template"
	"log"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"expense-control/internal/models"
	"expense-control/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// AccountContextKey is the context key for the authenticated account.
	AccountContextKey contextKey = "account"
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "session"
	// SessionDuration is how long sessions last (30 days).
	SessionDuration = 30 * 24 * time.Hour
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db           *storage.DB
	templateDir  string
	secureCookie bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *storage.DB, templateDir string, secureCookie bool) *Handlers {
	return &Handlers{db: db, templateDir: templateDir, secureCookie: secureCookie}
}

// GetAccountFromContext retrieves the authenticated account from request context.
func GetAccountFromContext(r *http.Request) *models.Account {
	if account, ok := r.Context().Value(AccountContextKey).(*models.Account); ok {
		return account
	}
	return nil
}

// AuthMiddleware wraps handlers to require a logged-in account.
// It also implements rolling sessions: if a session is past the halfway point
// of its lifetime, it automatically renews the session.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		sessionInfo, err := h.db.ValidateSessionWithInfo(cookie.Value)
		if err != nil {
			// Invalid or expired session, clear the cookie
			h.clearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		// Rolling session: renew if past halfway point
		// This keeps active accounts logged in while still expiring inactive sessions
		now := time.Now()
		timeUntilExpiry := sessionInfo.ExpiresAt.Sub(now)
		halfSessionDuration := SessionDuration / 2

		if timeUntilExpiry < halfSessionDuration {
			newExpiresAt := now.Add(SessionDuration)
			if err := h.db.RenewSession(cookie.Value, newExpiresAt); err == nil {
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookieName,
					Value:    cookie.Value,
					Path:     "/",
					MaxAge:   int(SessionDuration.Seconds()),
					HttpOnly: true,
					Secure:   h.secureCookie,
					SameSite: http.SameSiteLaxMode,
				})
			}
			// If renewal fails, just continue with the current session
		}

		ctx := context.WithValue(r.Context(), AccountContextKey, sessionInfo.Account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoginViewModel holds data for the login page.
type LoginViewModel struct {
	Error string
}

// LoginForm renders the login page.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	// If already logged in, redirect to expenses
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if _, err := h.db.ValidateSession(cookie.Value); err == nil {
			http.Redirect(w, r, "/expenses", http.StatusFound)
			return
		}
	}
	h.render(w, r, "login.html", LoginViewModel{})
}

// Login handles the login form submission. An unknown email and a wrong
// password produce the same response.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, r, "login.html", LoginViewModel{Error: "Invalid form submission"})
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	if email == "" || password == "" {
		h.render(w, r, "login.html", LoginViewModel{Error: "Email and password are required"})
		return
	}

	account, err := h.db.Authenticate(email, password)
	if err != nil {
		log.Printf("Authenticate error: %v", err)
		h.render(w, r, "login.html", LoginViewModel{Error: "An error occurred. Please try again."})
		return
	}
	if account == nil {
		h.render(w, r, "login.html", LoginViewModel{Error: "Incorrect email or password"})
		return
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(SessionDuration)
	if err := h.db.CreateSession(token, account.ID, expiresAt); err != nil {
		log.Printf("Failed to create session: %v", err)
		h.render(w, r, "login.html", LoginViewModel{Error: "An error occurred. Please try again."})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/expenses", http.StatusFound)
}

// Logout handles logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := h.db.DeleteSession(cookie.Value); err != nil {
			log.Printf("Failed to delete session: %v", err)
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// CategoryDef defines the properties of a category.
type CategoryDef struct {
	ID    string
	Name  string
	Icon  string
	Color string
}

var categories = []CategoryDef{
	{"food", "Food", "🍽️", "#60a5fa"},
	{"transport", "Transport", "🚌", "#a78bfa"},
	{"entertainment", "Entertainment", "🎮", "#f472b6"},
	{"utilities", "Utilities", "💡", "#fbbf24"},
	{"housing", "Housing", "🏠", "#818cf8"},
	{"gifts", "Gifts", "🎁", "#fb7185"},
	{"other", "Other", "📦", "#94a3b8"},
}

// CategoryStyle defines the visual style for a category.
type CategoryStyle struct {
	Icon  string
	Color string
}

func getCategoryStyle(category string) CategoryStyle {
	catLower := strings.ToLower(category)
	for _, c := range categories {
		if c.ID == catLower {
			return CategoryStyle{Icon: c.Icon, Color: c.Color}
		}
	}
	return CategoryStyle{Icon: "📦", Color: "#94a3b8"}
}

// ExpenseItem represents an expense in the list view.
type ExpenseItem struct {
	models.Expense
	CategoryStyle CategoryStyle
}

// ExpenseGroup groups expenses by date.
type ExpenseGroup struct {
	Title string
	Date  string
	Total decimal.Decimal
	Items []ExpenseItem
}

// ListViewModel is the data passed to the list view template.
type ListViewModel struct {
	AccountName string
	Total       decimal.Decimal
	Groups      []ExpenseGroup
}

// FormViewModel is the data passed to the create/edit form template.
type FormViewModel struct {
	Expense    *models.Expense
	IsEdit     bool
	Today      string
	Categories []CategoryDef
}

// ListExpenses renders the logged-in account's expenses, newest date first.
func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	account := GetAccountFromContext(r)
	expenses, err := h.db.ListExpenses(account.ID)
	if err != nil {
		log.Printf("ListExpenses error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	groupsMap := make(map[string]*ExpenseGroup)
	total := decimal.Zero

	for _, e := range expenses {
		if _, ok := groupsMap[e.Date]; !ok {
			groupsMap[e.Date] = &ExpenseGroup{Date: e.Date, Title: formatGroupTitle(e.Date)}
		}
		group := groupsMap[e.Date]
		group.Total = group.Total.Add(e.Amount)
		total = total.Add(e.Amount)

		group.Items = append(group.Items, ExpenseItem{
			Expense:       e,
			CategoryStyle: getCategoryStyle(e.Category),
		})
	}

	groups := make([]ExpenseGroup, 0, len(groupsMap))
	for _, g := range groupsMap {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Date > groups[j].Date })

	h.render(w, r, "list.html", ListViewModel{AccountName: account.Name, Total: total, Groups: groups})
}

// CreateExpenseForm renders the form to create a new expense.
func (h *Handlers) CreateExpenseForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "create.html", FormViewModel{
		IsEdit:     false,
		Today:      time.Now().Format("2006-01-02"),
		Categories: categories,
	})
}

// EditExpenseForm renders the form to edit an existing expense.
func (h *Handlers) EditExpenseForm(w http.ResponseWriter, r *http.Request) {
	account := GetAccountFromContext(r)
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	expense, err := h.db.GetExpense(id, account.ID)
	if err != nil {
		http.Error(w, "Expense not found", http.StatusNotFound)
		return
	}
	h.render(w, r, "create.html", FormViewModel{
		Expense:    expense,
		IsEdit:     true,
		Categories: categories,
	})
}

// CreateExpense handles the creation of a new expense.
func (h *Handlers) CreateExpense(w http.ResponseWriter, r *http.Request) {
	account := GetAccountFromContext(r)
	desc, amount, date, category, err := parseExpenseForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.db.CreateExpense(account.ID, desc, amount, date, category); err != nil {
		log.Printf("CreateExpense error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.redirectToList(w)
}

// UpdateExpense handles the update of an existing expense.
func (h *Handlers) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	account := GetAccountFromContext(r)
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	desc, amount, date, category, err := parseExpenseForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.db.UpdateExpense(id, account.ID, desc, amount, date, category); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Expense not found", http.StatusNotFound)
			return
		}
		log.Printf("UpdateExpense error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.redirectToList(w)
}

// DeleteExpense handles the removal of an expense.
func (h *Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	account := GetAccountFromContext(r)
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err := h.db.DeleteExpense(id, account.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Expense not found", http.StatusNotFound)
			return
		}
		log.Printf("DeleteExpense error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.redirectToList(w)
}

func (h *Handlers) redirectToList(w http.ResponseWriter) {
	w.Header().Set("HX-Location", `{"path":"/expenses", "target":"#content"}`)
}

// parseExpenseForm validates presence of the required fields: description,
// amount and date. Category stays optional.
func parseExpenseForm(r *http.Request) (desc string, amount decimal.Decimal, date, category string, err error) {
	if err := r.ParseForm(); err != nil {
		return "", decimal.Zero, "", "", err
	}

	desc = strings.TrimSpace(r.FormValue("description"))
	if desc == "" {
		return "", decimal.Zero, "", "", errors.New("description is required")
	}

	amountStr := strings.TrimSpace(r.FormValue("amount"))
	if amountStr == "" {
		return "", decimal.Zero, "", "", errors.New("amount is required")
	}
	amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return "", decimal.Zero, "", "", errors.New("amount must be a number")
	}

	date = strings.TrimSpace(r.FormValue("date"))
	if date == "" {
		return "", decimal.Zero, "", "", errors.New("date is required")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", decimal.Zero, "", "", errors.New("date must be YYYY-MM-DD")
	}

	category = strings.TrimSpace(r.FormValue("category"))
	return desc, amount, date, category, nil
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, viewName string, data any) {
	tmpl, err := template.ParseFiles(filepath.Join(h.templateDir, "base.html"), filepath.Join(h.templateDir, viewName))
	if err != nil {
		log.Printf("Template error: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	target := "base.html"
	if r.Header.Get("HX-Request") == "true" {
		target = "content"
	}
	if err := tmpl.ExecuteTemplate(w, target, data); err != nil {
		log.Printf("Template execution error: %v", err)
	}
}

func formatGroupTitle(date string) string {
	nowStr := time.Now().Format("2006-01-02")
	if date == nowStr {
		return "TODAY"
	}
	yesterdayStr := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	if date == yesterdayStr {
		return "YESTERDAY"
	}
	if d, err := time.Parse("2006-01-02", date); err == nil {
		return strings.ToUpper(d.Format("Mon, 02 Jan '06"))
	}
	return date
}
