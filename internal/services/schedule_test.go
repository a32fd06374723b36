package services

import (
	"testing"
	"time"

	"costrologer/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name     string
		interval core.RecurringInterval
		from     time.Time
		want     time.Time
	}{
		{"daily", core.Daily, date(2024, 3, 15), date(2024, 3, 16)},
		{"daily year end", core.Daily, date(2023, 12, 31), date(2024, 1, 1)},
		{"weekly", core.Weekly, date(2024, 2, 26), date(2024, 3, 4)},
		{"monthly", core.Monthly, date(2024, 3, 15), date(2024, 4, 15)},
		{"monthly clamps to leap february", core.Monthly, date(2024, 1, 31), date(2024, 2, 29)},
		{"monthly clamps to february", core.Monthly, date(2023, 1, 31), date(2023, 2, 28)},
		{"monthly clamps to 30 day month", core.Monthly, date(2024, 3, 31), date(2024, 4, 30)},
		{"monthly december carries year", core.Monthly, date(2024, 12, 31), date(2025, 1, 31)},
		{"yearly", core.Yearly, date(2024, 6, 1), date(2025, 6, 1)},
		{"yearly from leap day", core.Yearly, date(2024, 2, 29), date(2025, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(tt.interval, tt.from)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestNextOccurrence_MonthAlwaysAdvancesByOne(t *testing.T) {
	for m := time.January; m <= time.December; m++ {
		for d := 1; d <= daysIn(2024, m); d++ {
			from := date(2024, m, d)
			got, err := NextOccurrence(core.Monthly, from)
			require.NoError(t, err)

			wantMonth := m%12 + 1
			wantYear := 2024
			if m == time.December {
				wantYear = 2025
			}
			assert.Equal(t, wantMonth, got.Month(), "from %s", from)
			assert.Equal(t, wantYear, got.Year(), "from %s", from)
		}
	}
}

func TestNextOccurrence_InvalidInterval(t *testing.T) {
	for _, interval := range []core.RecurringInterval{"", "HOURLY", "monthly"} {
		_, err := NextOccurrence(interval, date(2024, 1, 1))
		assert.ErrorIs(t, err, core.ErrInvalidInterval, "interval %q", interval)
	}
}

func TestIsDue(t *testing.T) {
	now := date(2024, 3, 15)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name          string
		lastProcessed *time.Time
		next          *time.Time
		want          bool
	}{
		{"never processed", nil, nil, true},
		{"never processed with future next", nil, &future, true},
		{"next in past", &past, &past, true},
		{"next equals now", &past, &now, true},
		{"next in future", &past, &future, false},
		{"processed without next", &past, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := core.Transaction{LastProcessed: tt.lastProcessed, NextRecurringDate: tt.next}
			assert.Equal(t, tt.want, IsDue(tx, now))
		})
	}
}
