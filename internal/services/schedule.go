// Package services provides the ledger business logic: transaction approval,
// duplicate resolution, category rule matching, recurring income distribution
// and reconciliation.
//
// This file implements the Strategy Pattern for recurring date advancement.
// Each frequency has its own advancer that encapsulates the arithmetic for
// that interval.
package services

import (
	"fmt"
	"time"

	"buste/internal/core"
)

// DateAdvancer is the strategy interface for moving a recurring template's
// next due date forward by one interval.
type DateAdvancer interface {
	// Next returns the due date one interval after from.
	Next(from time.Time) time.Time
}

// DayAdvancer advances by a fixed number of days (weekly, fortnightly).
type DayAdvancer struct {
	Days int
}

func (a DayAdvancer) Next(from time.Time) time.Time {
	return from.AddDate(0, 0, a.Days)
}

// MonthAdvancer advances by whole months, clamping to the last day of the
// target month so a Jan 31 schedule lands on Feb 28/29 instead of rolling
// into March.
type MonthAdvancer struct {
	Months int
}

func (a MonthAdvancer) Next(from time.Time) time.Time {
	return addMonthsClamped(from, a.Months)
}

// YearAdvancer advances by one year, clamping Feb 29 to Feb 28 on non-leap
// years.
type YearAdvancer struct{}

func (YearAdvancer) Next(from time.Time) time.Time {
	return addMonthsClamped(from, 12)
}

func addMonthsClamped(from time.Time, months int) time.Time {
	year, month, day := from.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, from.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

// advanceStrategies maps frequencies to their advancers.
var advanceStrategies = map[core.Frequency]DateAdvancer{
	core.Weekly:      DayAdvancer{Days: 7},
	core.Fortnightly: DayAdvancer{Days: 14},
	core.Monthly:     MonthAdvancer{Months: 1},
	core.Quarterly:   MonthAdvancer{Months: 3},
	core.Annual:      YearAdvancer{},
}

// AdvanceDate returns the due date one frequency interval after from.
// Returns core.ErrInvalidFrequency for unknown frequencies.
func AdvanceDate(frequency core.Frequency, from time.Time) (time.Time, error) {
	advancer, ok := advanceStrategies[frequency]
	if !ok {
		return time.Time{}, fmt.Errorf("frequency %q: %w", frequency, core.ErrInvalidFrequency)
	}
	return advancer.Next(from), nil
}
