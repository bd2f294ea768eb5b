// Package balance is the pure computation layer of the engine: how a
// category's or account's month balances derive from their inputs. No I/O.
package balance

import (
	"github.com/shopspring/decimal"

	"envelope/internal/core"
)

// DeriveAllocationAmount resolves the allocation for a category in one
// month. A percentage rule applies the category's percent to the income
// total of the budget's trailing window; a fixed rule wins over whatever
// was typed; otherwise the caller-supplied manual amount is used as-is.
func DeriveAllocationAmount(cat core.Category, windowIncome, manual decimal.Decimal) decimal.Decimal {
	if cat.Rule != nil {
		switch cat.Rule.Kind {
		case core.RulePercentage:
			return core.Percent(windowIncome, cat.Rule.Percent)
		case core.RuleFixed:
			return core.Round2(cat.Rule.Amount)
		}
	}
	return core.Round2(manual)
}

// AllocationSplit explains how much of an allocation services existing debt
// versus growing the envelope. It is presentational only: the end balance
// arithmetic is identical with or without the split.
type AllocationSplit struct {
	ToDebt    decimal.Decimal
	ToBalance decimal.Decimal
}

// SplitAllocationAgainstDebt splits an allocation against a (possibly
// negative) stored balance.
func SplitAllocationAgainstDebt(allocation, storedBalance decimal.Decimal) AllocationSplit {
	if !storedBalance.IsNegative() {
		return AllocationSplit{ToDebt: decimal.Zero, ToBalance: core.Round2(allocation)}
	}
	debt := storedBalance.Neg()
	toDebt := decimal.Min(allocation, debt)
	toBalance := allocation.Sub(toDebt)
	if toBalance.IsNegative() {
		toBalance = decimal.Zero
	}
	return AllocationSplit{ToDebt: core.Round2(toDebt), ToBalance: core.Round2(toBalance)}
}

// ComputeEndBalance applies the row invariant:
// end = start + allocated + spent + transfers + adjustments, rounded to two
// places. Spent is negative by convention. Debt is representable, so the
// result is never clamped at zero.
func ComputeEndBalance(row core.CategoryRow) decimal.Decimal {
	return core.Round2(row.StartBalance.
		Add(row.Allocated).
		Add(row.Spent).
		Add(row.Transfers).
		Add(row.Adjustments))
}

// ComputeAccountEnd applies the account row invariant: end = start + flow.
func ComputeAccountEnd(row core.AccountRow) decimal.Decimal {
	return core.Round2(row.StartBalance.Add(row.Flow))
}

// RecomputeRow re-derives a category row's activity nets from the month's
// entry arrays and refreshes the end balance. Start balance and allocation
// are left alone: the caller owns carry-forward and commit semantics.
func RecomputeRow(m *core.Month, row core.CategoryRow) core.CategoryRow {
	row.Spent = m.CategorySpent(row.CategoryID)
	row.Transfers = m.CategoryTransfers(row.CategoryID)
	row.Adjustments = m.CategoryAdjustments(row.CategoryID)
	row.EndBalance = ComputeEndBalance(row)
	return row
}
