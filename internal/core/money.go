// Package core provides the ledger domain types and money handling utilities.
//
// All monetary values are fixed-point decimals (shopspring/decimal); floats
// never enter a balance computation.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used when comparing monetary amounts: two amounts
// closer than one cent are considered equal for duplicate detection and
// reconciliation purposes.
var Epsilon = decimal.New(1, -2) // 0.01

// ParseAmount converts a user-supplied decimal string into a signed amount
// rounded to two decimal places.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign; rounding beyond the second decimal place is half
// away from zero. Returns ErrInvalidAmount for anything that does not parse
// as a decimal number.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("-45,67") -> -45.67
//	ParseAmount("12.346") -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(2), nil
}

// ParsePositiveAmount is ParseAmount restricted to strictly positive values,
// used for opening balances, budget targets and recurring template amounts.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// WithinEpsilon reports whether two amounts differ by at most Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(Epsilon) <= 0
}
