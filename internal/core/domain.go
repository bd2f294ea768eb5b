package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// RuleKind selects how a category's default monthly allocation is derived.
type RuleKind string

const (
	RuleFixed      RuleKind = "fixed"
	RulePercentage RuleKind = "percentage"
)

// MonthStatus tracks whether a month's derived balances reflect the latest
// upstream data.
type MonthStatus string

const (
	MonthFresh         MonthStatus = "fresh"
	MonthStale         MonthStatus = "stale"
	MonthRecalculating MonthStatus = "recalculating"
)

// Ordinal identifies a calendar month on a single linear axis (year*12+month-1)
// so months compare and iterate with plain integer arithmetic.
type Ordinal int

// OrdinalOf returns the ordinal for a calendar year and 1-based month.
func OrdinalOf(year, month int) Ordinal {
	return Ordinal(year*12 + month - 1)
}

// Date returns the calendar year and 1-based month for the ordinal.
func (o Ordinal) Date() (year, month int) {
	return int(o) / 12, int(o)%12 + 1
}

func (o Ordinal) String() string {
	y, m := o.Date()
	return fmt.Sprintf("%04d-%02d", y, m)
}

type (
	// AllocationRule is a category's default monthly allocation: either a
	// fixed amount or a percentage of income over a trailing window of
	// previous months (window size is a budget-level setting).
	AllocationRule struct {
		Kind    RuleKind        `json:"kind"`
		Amount  decimal.Decimal `json:"amount"`
		Percent decimal.Decimal `json:"percent"`
	}

	// Category is a spending envelope. Balance is the all-time carried
	// balance and may go negative (debt). It is mutated only when a
	// recalculation run commits.
	Category struct {
		ID      string          `json:"id"`
		Name    string          `json:"name"`
		Group   string          `json:"group"`
		Rule    *AllocationRule `json:"rule,omitempty"`
		Balance decimal.Decimal `json:"balance"`
	}

	Account struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Group    string          `json:"group"`
		OnBudget bool            `json:"on_budget"`
		Balance  decimal.Decimal `json:"balance"`
	}

	// CashEntry is a single income or expense line within a month.
	// Amounts are always positive; the owning array gives the direction.
	CashEntry struct {
		ID         string          `json:"id"`
		AccountID  string          `json:"account_id"`
		CategoryID string          `json:"category_id,omitempty"`
		Amount     decimal.Decimal `json:"amount"`
		Memo       string          `json:"memo,omitempty"`
	}

	// Transfer moves money between accounts and/or categories within a
	// month. Either pair of legs may be empty.
	Transfer struct {
		ID             string          `json:"id"`
		FromAccountID  string          `json:"from_account_id,omitempty"`
		ToAccountID    string          `json:"to_account_id,omitempty"`
		FromCategoryID string          `json:"from_category_id,omitempty"`
		ToCategoryID   string          `json:"to_category_id,omitempty"`
		Amount         decimal.Decimal `json:"amount"`
	}

	// Adjustment is a signed manual correction against a category or
	// account balance.
	Adjustment struct {
		ID         string          `json:"id"`
		CategoryID string          `json:"category_id,omitempty"`
		AccountID  string          `json:"account_id,omitempty"`
		Amount     decimal.Decimal `json:"amount"`
		Reason     string          `json:"reason,omitempty"`
	}

	// CategoryRow is one category's derived balances for one month.
	// Spent is stored negative. EndBalance always satisfies
	// start + allocated + spent + transfers + adjustments, rounded to
	// two decimal places.
	CategoryRow struct {
		CategoryID   string          `json:"category_id"`
		StartBalance decimal.Decimal `json:"start_balance"`
		Allocated    decimal.Decimal `json:"allocated"`
		Spent        decimal.Decimal `json:"spent"`
		Transfers    decimal.Decimal `json:"transfers"`
		Adjustments  decimal.Decimal `json:"adjustments"`
		EndBalance   decimal.Decimal `json:"end_balance"`
	}

	// AccountRow is one account's derived balances for one month.
	AccountRow struct {
		AccountID    string          `json:"account_id"`
		StartBalance decimal.Decimal `json:"start_balance"`
		Flow         decimal.Decimal `json:"flow"`
		EndBalance   decimal.Decimal `json:"end_balance"`
	}

	// Month is the persisted document for one (budget, year, month).
	Month struct {
		BudgetID             string                 `json:"budget_id"`
		Year                 int                    `json:"year"`
		Month                int                    `json:"month"`
		CategoryRows         map[string]CategoryRow `json:"category_rows"`
		AccountRows          map[string]AccountRow  `json:"account_rows"`
		Income               []CashEntry            `json:"income"`
		Expenses             []CashEntry            `json:"expenses"`
		Transfers            []Transfer             `json:"transfers"`
		Adjustments          []Adjustment           `json:"adjustments"`
		AllocationsFinalized bool                   `json:"allocations_finalized"`
	}

	// MonthRef is the budget-level record of a month's existence and
	// freshness.
	MonthRef struct {
		Exists bool        `json:"exists"`
		Status MonthStatus `json:"status"`
	}

	// Budget is the root document: category and account definitions plus
	// the month map that drives recalculation.
	Budget struct {
		ID                 string               `json:"id"`
		Name               string               `json:"name"`
		Categories         map[string]Category  `json:"categories"`
		Accounts           map[string]Account   `json:"accounts"`
		MonthMap           map[Ordinal]MonthRef `json:"month_map"`
		TotalAvailable     decimal.Decimal      `json:"total_available"`
		IncomeWindowMonths int                  `json:"income_window_months"`
	}
)

// Ordinal returns the month's position on the linear month axis.
func (m *Month) Ordinal() Ordinal {
	return OrdinalOf(m.Year, m.Month)
}

// IncomeTotal sums the month's income entries, rounded to two places.
func (m *Month) IncomeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range m.Income {
		total = total.Add(e.Amount)
	}
	return Round2(total)
}

// CategorySpent returns the month's spend for a category as a negative
// amount.
func (m *Month) CategorySpent(categoryID string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range m.Expenses {
		if e.CategoryID == categoryID {
			total = total.Add(e.Amount)
		}
	}
	return Round2(total.Neg())
}

// CategoryTransfers nets the transfer legs touching a category.
func (m *Month) CategoryTransfers(categoryID string) decimal.Decimal {
	total := decimal.Zero
	for _, t := range m.Transfers {
		if t.ToCategoryID == categoryID {
			total = total.Add(t.Amount)
		}
		if t.FromCategoryID == categoryID {
			total = total.Sub(t.Amount)
		}
	}
	return Round2(total)
}

// CategoryAdjustments nets the manual corrections against a category.
func (m *Month) CategoryAdjustments(categoryID string) decimal.Decimal {
	total := decimal.Zero
	for _, a := range m.Adjustments {
		if a.CategoryID == categoryID {
			total = total.Add(a.Amount)
		}
	}
	return Round2(total)
}

// AccountFlow nets every movement touching an account this month: income
// in, expenses out, transfer legs, and adjustments.
func (m *Month) AccountFlow(accountID string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range m.Income {
		if e.AccountID == accountID {
			total = total.Add(e.Amount)
		}
	}
	for _, e := range m.Expenses {
		if e.AccountID == accountID {
			total = total.Sub(e.Amount)
		}
	}
	for _, t := range m.Transfers {
		if t.ToAccountID == accountID {
			total = total.Add(t.Amount)
		}
		if t.FromAccountID == accountID {
			total = total.Sub(t.Amount)
		}
	}
	for _, a := range m.Adjustments {
		if a.AccountID == accountID {
			total = total.Add(a.Amount)
		}
	}
	return Round2(total)
}

// AllocatedTotal sums the allocations committed in the month's rows.
func (m *Month) AllocatedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, row := range m.CategoryRows {
		total = total.Add(row.Allocated)
	}
	return Round2(total)
}

// EarliestStale returns the lowest ordinal flagged stale, or false when the
// month map is entirely fresh.
func (b *Budget) EarliestStale() (Ordinal, bool) {
	found := false
	var earliest Ordinal
	for o, ref := range b.MonthMap {
		if ref.Status != MonthStale {
			continue
		}
		if !found || o < earliest {
			earliest = o
			found = true
		}
	}
	return earliest, found
}

// LatestExisting returns the highest ordinal with month data, or false when
// no month exists yet.
func (b *Budget) LatestExisting() (Ordinal, bool) {
	found := false
	var latest Ordinal
	for o, ref := range b.MonthMap {
		if !ref.Exists {
			continue
		}
		if !found || o > latest {
			latest = o
			found = true
		}
	}
	return latest, found
}

// ExistingOrdinals returns every ordinal with month data in ascending order.
func (b *Budget) ExistingOrdinals() []Ordinal {
	ordinals := make([]Ordinal, 0, len(b.MonthMap))
	for o, ref := range b.MonthMap {
		if ref.Exists {
			ordinals = append(ordinals, o)
		}
	}
	sort.Slice(ordinals, func(i, j int) bool { return ordinals[i] < ordinals[j] })
	return ordinals
}

// MarkStaleFrom flags every existing month at or after the given ordinal.
// Returns how many months changed status.
func (b *Budget) MarkStaleFrom(from Ordinal) int {
	marked := 0
	for o, ref := range b.MonthMap {
		if o >= from && ref.Exists && ref.Status != MonthStale {
			ref.Status = MonthStale
			b.MonthMap[o] = ref
			marked++
		}
	}
	return marked
}

// RecomputeTotalAvailable re-derives the budget's headline available figure:
// on-budget account balances minus the positive category balances already
// set aside.
func (b *Budget) RecomputeTotalAvailable() {
	total := decimal.Zero
	for _, a := range b.Accounts {
		if a.OnBudget {
			total = total.Add(a.Balance)
		}
	}
	for _, c := range b.Categories {
		if c.Balance.IsPositive() {
			total = total.Sub(c.Balance)
		}
	}
	b.TotalAvailable = Round2(total)
}
