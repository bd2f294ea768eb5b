// Package core holds the budgeting domain model and money handling
// utilities shared by every layer of the engine.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds a currency amount to exactly two decimal places, half away
// from zero. Every arithmetic result that becomes a stored balance passes
// through here so repeated recalculations cannot drift.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent applies pct (e.g. 10 for 10%) to an amount, rounded to two places.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(hundred))
}

// ParseAmount converts user-typed allocation text to a currency amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// rounds anything past the second decimal place half-up. Negative amounts
// and signs are rejected: allocations only move money into an envelope.
// An empty string is not an amount; callers treat it as "nothing typed".
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35
//	ParseAmount("-5")     -> ValidationError
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "empty"}
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "signed amounts not allowed"}
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return decimal.Zero, &ValidationError{Field: "amount", Reason: "not a number"}
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	return Round2(d), nil
}
