/*
Package engine provides the shared domain types for the timesheet
financial engine.

PURPOSE:
  This package contains the building blocks every other package works
  with: monetary values with explicit null semantics, per-bucket rate
  cards, classified hour buckets, calendar dates, pay channels, and the
  pay-time policies that drive classification.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: A decimal value plus a Valid flag. An invalid Money means
    "not yet resolved" and is never coerced to zero when deciding
    whether a rate exists. Zero IS a valid amount for totals.
  - RateCard: The five-bucket rate tuple {day, night, saturday,
    sunday, bank_holiday} used for both pay and charge rates.
  - HourBuckets: Classified hours in the same five buckets.

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 money.
  2. Null-correctness: resolution decisions look at Valid, not at
     value; a missing rate is a state, not a zero.
  3. Rounding discipline: totals are rounded to 2dp at the total
     level only, so margin = charge - pay holds exactly.

SEE ALSO:
  - date.go: calendar dates and bank-holiday lookup
  - classify.go: the hour-bucket classifier
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal with explicit null semantics
// =============================================================================

// Money is a monetary amount that may be unresolved. Valid=false means
// "no rate/amount has been determined yet" and must never be read as zero
// when deciding whether resolution succeeded.
type Money struct {
	Value decimal.Decimal
	Valid bool
}

func NewMoney(value decimal.Decimal) Money {
	return Money{Value: value, Valid: true}
}

func MoneyFromString(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}
	}
	return Money{Value: d, Valid: true}
}

func MoneyFromFloat(f float64) Money {
	return Money{Value: decimal.NewFromFloat(f), Valid: true}
}

// Or returns m if valid, otherwise other.
func (m Money) Or(other Money) Money {
	if m.Valid {
		return m
	}
	return other
}

// =============================================================================
// RATE CARD - Five-bucket rate tuple
// =============================================================================

// RateCard holds one rate per hour bucket. Pay and charge rates use the
// same shape; a card where some buckets are invalid is only a problem if
// hours were actually worked in those buckets.
type RateCard struct {
	Day         Money
	Night       Money
	Saturday    Money
	Sunday      Money
	BankHoliday Money
}

// Zero reports whether no bucket of the card carries a resolved rate.
func (rc RateCard) Zero() bool {
	return !rc.Day.Valid && !rc.Night.Valid && !rc.Saturday.Valid &&
		!rc.Sunday.Valid && !rc.BankHoliday.Valid
}

// CoversHours reports whether every bucket with non-zero hours has a
// resolved rate. Buckets with zero hours may be unresolved.
func (rc RateCard) CoversHours(h HourBuckets) bool {
	pairs := []struct {
		hours decimal.Decimal
		rate  Money
	}{
		{h.Day, rc.Day},
		{h.Night, rc.Night},
		{h.Saturday, rc.Saturday},
		{h.Sunday, rc.Sunday},
		{h.BankHoliday, rc.BankHoliday},
	}
	for _, p := range pairs {
		if !p.hours.IsZero() && !p.rate.Valid {
			return false
		}
	}
	return true
}

// =============================================================================
// HOUR BUCKETS - Classified shift hours
// =============================================================================

// HourBuckets is the output of shift classification: hours split into
// the five pay-time categories, each rounded to 2 decimal places.
type HourBuckets struct {
	Day         decimal.Decimal
	Night       decimal.Decimal
	Saturday    decimal.Decimal
	Sunday      decimal.Decimal
	BankHoliday decimal.Decimal
}

// Total returns the sum of all buckets.
func (h HourBuckets) Total() decimal.Decimal {
	return h.Day.Add(h.Night).Add(h.Saturday).Add(h.Sunday).Add(h.BankHoliday)
}

// IsZero reports whether all buckets are zero.
func (h HourBuckets) IsZero() bool {
	return h.Total().IsZero()
}

// Extend multiplies each bucket's hours by the matching rate and sums
// the result, rounding to 2dp at the total level. Unresolved rates
// contribute nothing; callers must verify CoversHours first if a
// missing rate is an error.
func (h HourBuckets) Extend(rc RateCard) decimal.Decimal {
	total := decimal.Zero
	add := func(hours decimal.Decimal, rate Money) {
		if rate.Valid && !hours.IsZero() {
			total = total.Add(hours.Mul(rate.Value))
		}
	}
	add(h.Day, rc.Day)
	add(h.Night, rc.Night)
	add(h.Saturday, rc.Saturday)
	add(h.Sunday, rc.Sunday)
	add(h.BankHoliday, rc.BankHoliday)
	return total.Round(2)
}
