package core

import (
	"sort"
	"time"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthlyStats summarises one user's transactions for a calendar month.
type MonthlyStats struct {
	Period           time.Time // first instant of the month
	TotalIncome      Money
	TotalExpenses    Money
	ByCategory       map[string]Money // expenses only
	TransactionCount int
}

// NetIncome is income minus expenses.
func (s MonthlyStats) NetIncome() Money {
	return s.TotalIncome.Sub(s.TotalExpenses)
}

// Categories returns expense categories sorted by amount, largest first.
func (s MonthlyStats) Categories() []CategoryAmount {
	out := make([]CategoryAmount, 0, len(s.ByCategory))
	for name, amount := range s.ByCategory {
		out = append(out, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount.Decimal); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Summarize aggregates transactions into MonthlyStats for the given period.
func Summarize(period time.Time, txs []Transaction) MonthlyStats {
	stats := MonthlyStats{
		Period:           period,
		ByCategory:       make(map[string]Money),
		TransactionCount: len(txs),
	}
	for _, t := range txs {
		if t.Type == Expense {
			stats.TotalExpenses = stats.TotalExpenses.Add(t.Amount)
			stats.ByCategory[t.Category] = stats.ByCategory[t.Category].Add(t.Amount)
			continue
		}
		stats.TotalIncome = stats.TotalIncome.Add(t.Amount)
	}
	return stats
}

// MonthStart returns the first instant of the calendar month containing t,
// in t's location.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// MonthRange returns the half-open range [start, end) of t's calendar month.
func MonthRange(t time.Time) (time.Time, time.Time) {
	start := MonthStart(t)
	return start, start.AddDate(0, 1, 0)
}

// EarlierMonth reports whether a falls in a strictly earlier calendar month than b.
func EarlierMonth(a, b time.Time) bool {
	return a.Year()*12+int(a.Month()) < b.Year()*12+int(b.Month())
}
