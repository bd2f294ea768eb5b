package balance

import (
	"sort"

	"github.com/shopspring/decimal"

	"envelope/internal/core"
)

// DraftResolver reports the pending draft allocation for a category, if the
// user has typed one.
type DraftResolver func(categoryID string) (decimal.Decimal, bool)

// ProjectedRow is what the UI shows for one category in the open month. It
// is recomputed on every input change and never persisted.
type ProjectedRow struct {
	CategoryID   string
	StartBalance decimal.Decimal
	Allocated    decimal.Decimal
	Spent        decimal.Decimal
	Transfers    decimal.Decimal
	Adjustments  decimal.Decimal
	EndBalance   decimal.Decimal

	// AllTime is the category's cumulative balance as it should read with
	// this month's (possibly draft) contribution applied.
	AllTime decimal.Decimal

	// Split explains the allocation against any carried debt.
	Split AllocationSplit
}

// ProjectorInput bundles everything the projection depends on. Month may be
// nil when the month document has not been created yet.
type ProjectorInput struct {
	Month        *core.Month
	Categories   map[string]core.Category
	DraftMode    bool
	WindowIncome decimal.Decimal
	Resolve      DraftResolver
}

// Project produces the display rows for the open month without touching
// persisted state. Outside draft mode the rows are the persisted values,
// verbatim. In draft mode the allocation is re-resolved per category (typed
// draft first, then the category's default rule, then the saved value) and
// the end balance recomputed; everything else is read from the persisted
// row, or zero when the month does not exist yet.
//
// Rows come back sorted by category id so callers render deterministically.
func Project(in ProjectorInput) []ProjectedRow {
	finalized := in.Month != nil && in.Month.AllocationsFinalized

	ids := make([]string, 0, len(in.Categories))
	for id := range in.Categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]ProjectedRow, 0, len(ids))
	for _, id := range ids {
		cat := in.Categories[id]

		var saved core.CategoryRow
		if in.Month != nil {
			saved = in.Month.CategoryRows[id]
		}
		saved.CategoryID = id

		row := ProjectedRow{
			CategoryID:   id,
			StartBalance: saved.StartBalance,
			Allocated:    saved.Allocated,
			Spent:        saved.Spent,
			Transfers:    saved.Transfers,
			Adjustments:  saved.Adjustments,
			EndBalance:   saved.EndBalance,
		}

		if in.DraftMode {
			allocated := saved.Allocated
			if in.Resolve != nil {
				if typed, ok := in.Resolve(id); ok {
					allocated = core.Round2(typed)
				} else {
					allocated = DeriveAllocationAmount(cat, in.WindowIncome, saved.Allocated)
				}
			} else {
				allocated = DeriveAllocationAmount(cat, in.WindowIncome, saved.Allocated)
			}
			row.Allocated = allocated
			row.EndBalance = ComputeEndBalance(core.CategoryRow{
				CategoryID:   id,
				StartBalance: row.StartBalance,
				Allocated:    allocated,
				Spent:        row.Spent,
				Transfers:    row.Transfers,
				Adjustments:  row.Adjustments,
			})
		}

		row.AllTime = projectAllTime(cat, saved, row.Allocated, finalized, in.DraftMode)
		row.Split = SplitAllocationAgainstDebt(row.Allocated, cat.Balance)
		rows = append(rows, row)
	}
	return rows
}

// projectAllTime derives the cumulative balance to display. While the month
// is unfinalized the stored category balance does not yet include this
// month's allocation, so the allocation is added on top. Once finalized the
// stored balance is authoritative; a draft edit previews only the delta
// between the draft and what was committed.
func projectAllTime(cat core.Category, saved core.CategoryRow, allocated decimal.Decimal, finalized, draft bool) decimal.Decimal {
	if !finalized {
		return core.Round2(cat.Balance.Add(allocated))
	}
	if draft {
		return core.Round2(cat.Balance.Add(allocated.Sub(saved.Allocated)))
	}
	return cat.Balance
}
