// Package services holds the scheduling and ledger logic.
//
// This file implements the per-interval strategy used to advance a recurring
// template. Each interval has an Advancer that computes the next occurrence.
package services

import (
	"fmt"
	"time"

	"costrologer/internal/core"
)

// Advancer computes the next occurrence after from.
type Advancer interface {
	Next(from time.Time) time.Time
}

// AdvancerFunc adapts a function to Advancer.
type AdvancerFunc func(time.Time) time.Time

func (f AdvancerFunc) Next(from time.Time) time.Time { return f(from) }

var advancers = map[core.RecurringInterval]Advancer{
	core.Daily:   AdvancerFunc(func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }),
	core.Weekly:  AdvancerFunc(func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }),
	core.Monthly: AdvancerFunc(func(t time.Time) time.Time { return addMonthsClamped(t, 1) }),
	core.Yearly:  AdvancerFunc(func(t time.Time) time.Time { return addMonthsClamped(t, 12) }),
}

// NextOccurrence returns the next firing of interval after from. Month and
// year steps clamp to the last day of the target month, so 2024-01-31 plus one
// month is 2024-02-29 and 2024-02-29 plus one year is 2025-02-28.
func NextOccurrence(interval core.RecurringInterval, from time.Time) (time.Time, error) {
	a, ok := advancers[interval]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidInterval, interval)
	}
	return a.Next(from), nil
}

// addMonthsClamped adds n calendar months keeping the time of day and
// clamping the day to the length of the target month.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsDue reports whether a recurring template should fire at now: it has never
// been processed, it has no next date, or its next date has arrived.
func IsDue(t core.Transaction, now time.Time) bool {
	if t.LastProcessed == nil {
		return true
	}
	if t.NextRecurringDate == nil {
		return true
	}
	return !t.NextRecurringDate.After(now)
}
