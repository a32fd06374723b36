// Package core provides money parsing and handling utilities.
//
// Amounts are held as decimal values and persisted as integer cents, so
// aggregation in the database stays exact.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a decimal monetary amount with two fractional digits.
type Money struct {
	decimal.Decimal
}

// NewMoneyFromCents builds a Money from an integer number of cents.
func NewMoneyFromCents(cents int64) Money {
	return Money{Decimal: decimal.New(cents, -2)}
}

// NewMoney wraps a decimal, rounding half-up to cents.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d.Round(2)}
}

// ParseMoney converts a decimal string to Money.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// rounds half-up on the third decimal place. Signs are accepted, so callers
// that need a strictly positive amount must call Validate.
//
// Examples:
//
//	ParseMoney("12.34")  -> 12.34
//	ParseMoney("12,345") -> 12.35
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return NewMoney(d), nil
}

// Cents returns the amount as integer cents for storage.
func (m Money) Cents() int64 {
	return m.Decimal.Shift(2).Round(0).IntPart()
}

func (m Money) Add(o Money) Money {
	return Money{Decimal: m.Decimal.Add(o.Decimal)}
}

func (m Money) Sub(o Money) Money {
	return Money{Decimal: m.Decimal.Sub(o.Decimal)}
}

func (m Money) Neg() Money {
	return Money{Decimal: m.Decimal.Neg()}
}

// Validate rejects zero and negative amounts.
func (m Money) Validate() error {
	if !m.Decimal.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// String formats the amount with exactly two decimals.
func (m Money) String() string {
	return m.Decimal.StringFixed(2)
}

// Float returns the value as a float64 for display purposes.
// Use cents for calculations to avoid floating-point precision issues.
func (m Money) Float() float64 {
	f, _ := m.Decimal.Float64()
	return f
}

// PercentOf returns m as a percentage of total. A non-positive total yields 0.
func (m Money) PercentOf(total Money) float64 {
	if !total.Decimal.IsPositive() {
		return 0
	}
	p, _ := m.Decimal.Div(total.Decimal).Mul(decimal.NewFromInt(100)).Float64()
	return p
}
