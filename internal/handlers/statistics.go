package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// StatsCategoryItem represents a category with its spending statistics.
type StatsCategoryItem struct {
	Category      string
	Total         decimal.Decimal
	Count         int
	Percentage    float64
	CategoryStyle CategoryStyle
}

// StatsViewModel is the data passed to the statistics view template.
type StatsViewModel struct {
	Year           int
	Month          int
	MonthName      string
	Total          decimal.Decimal
	Categories     []StatsCategoryItem
	Expenses       []ExpenseItem
	PrevYear       int
	PrevMonth      int
	NextYear       int
	NextMonth      int
	IsCurrentMonth bool
}

// Statistics renders the monthly statistics page for the logged-in account.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	account := GetAccountFromContext(r)

	// Get year and month from query params, default to current month
	yearStr := r.URL.Query().Get("year")
	monthStr := r.URL.Query().Get("month")

	now := time.Now()
	year := now.Year()
	month := int(now.Month())

	if yearStr != "" {
		if y, err := strconv.Atoi(yearStr); err == nil {
			year = y
		}
	}
	if monthStr != "" {
		if m, err := strconv.Atoi(monthStr); err == nil && m >= 1 && m <= 12 {
			month = m
		}
	}

	categoryTotals, err := h.db.GetCategoryTotalsByMonth(account.ID, year, month)
	if err != nil {
		log.Printf("GetCategoryTotalsByMonth error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	expenses, err := h.db.GetExpensesByMonth(account.ID, year, month)
	if err != nil {
		log.Printf("GetExpensesByMonth error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	total := decimal.Zero
	for _, ct := range categoryTotals {
		total = total.Add(ct.Total)
	}

	categoryItems := make([]StatsCategoryItem, 0, len(categoryTotals))
	for _, ct := range categoryTotals {
		percentage := 0.0
		if total.IsPositive() {
			percentage = ct.Total.Div(total).InexactFloat64() * 100
		}
		categoryItems = append(categoryItems, StatsCategoryItem{
			Category:      ct.Category,
			Total:         ct.Total,
			Count:         ct.Count,
			Percentage:    percentage,
			CategoryStyle: getCategoryStyle(ct.Category),
		})
	}

	expenseItems := make([]ExpenseItem, 0, len(expenses))
	for _, e := range expenses {
		expenseItems = append(expenseItems, ExpenseItem{
			Expense:       e,
			CategoryStyle: getCategoryStyle(e.Category),
		})
	}

	// Calculate previous and next month
	prevDate := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	nextDate := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)

	isCurrentMonth := year == now.Year() && month == int(now.Month())

	h.render(w, r, "stats.html", StatsViewModel{
		Year:           year,
		Month:          month,
		MonthName:      time.Month(month).String(),
		Total:          total,
		Categories:     categoryItems,
		Expenses:       expenseItems,
		PrevYear:       prevDate.Year(),
		PrevMonth:      int(prevDate.Month()),
		NextYear:       nextDate.Year(),
		NextMonth:      int(nextDate.Month()),
		IsCurrentMonth: isCurrentMonth,
	})
}
