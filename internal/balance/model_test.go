package balance

import (
	"testing"

	"github.com/shopspring/decimal"

	"envelope/internal/core"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDeriveAllocationAmount(t *testing.T) {
	tests := []struct {
		name         string
		cat          core.Category
		windowIncome string
		manual       string
		want         string
	}{
		{
			name: "percentage of trailing income",
			cat: core.Category{ID: "save", Rule: &core.AllocationRule{
				Kind: core.RulePercentage, Percent: dec("10"),
			}},
			windowIncome: "2000.00",
			manual:       "999",
			want:         "200.00",
		},
		{
			name: "fixed wins over manual",
			cat: core.Category{ID: "rent", Rule: &core.AllocationRule{
				Kind: core.RuleFixed, Amount: dec("900"),
			}},
			windowIncome: "2000",
			manual:       "50",
			want:         "900",
		},
		{
			name:         "no rule falls back to manual",
			cat:          core.Category{ID: "fun"},
			windowIncome: "2000",
			manual:       "75.50",
			want:         "75.50",
		},
		{
			name: "percentage rounds to two places",
			cat: core.Category{ID: "save", Rule: &core.AllocationRule{
				Kind: core.RulePercentage, Percent: dec("33.33"),
			}},
			windowIncome: "1000",
			manual:       "0",
			want:         "333.30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveAllocationAmount(tt.cat, dec(tt.windowIncome), dec(tt.manual))
			if !got.Equal(dec(tt.want)) {
				t.Errorf("DeriveAllocationAmount() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSplitAllocationAgainstDebt(t *testing.T) {
	tests := []struct {
		name          string
		allocation    string
		stored        string
		wantToDebt    string
		wantToBalance string
	}{
		{name: "debt smaller than allocation", allocation: "80", stored: "-50", wantToDebt: "50", wantToBalance: "30"},
		{name: "debt larger than allocation", allocation: "30", stored: "-50", wantToDebt: "30", wantToBalance: "0"},
		{name: "no debt", allocation: "80", stored: "120", wantToDebt: "0", wantToBalance: "80"},
		{name: "zero balance", allocation: "80", stored: "0", wantToDebt: "0", wantToBalance: "80"},
		{name: "zero allocation against debt", allocation: "0", stored: "-50", wantToDebt: "0", wantToBalance: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitAllocationAgainstDebt(dec(tt.allocation), dec(tt.stored))
			if !got.ToDebt.Equal(dec(tt.wantToDebt)) {
				t.Errorf("ToDebt = %s, want %s", got.ToDebt, tt.wantToDebt)
			}
			if !got.ToBalance.Equal(dec(tt.wantToBalance)) {
				t.Errorf("ToBalance = %s, want %s", got.ToBalance, tt.wantToBalance)
			}
		})
	}
}

func TestComputeEndBalance(t *testing.T) {
	row := core.CategoryRow{
		CategoryID:   "food",
		StartBalance: dec("100"),
		Allocated:    dec("80"),
		Spent:        dec("-45.25"),
		Transfers:    dec("10"),
		Adjustments:  dec("-5"),
	}
	if got := ComputeEndBalance(row); !got.Equal(dec("139.75")) {
		t.Errorf("ComputeEndBalance() = %s, want 139.75", got)
	}
}

func TestComputeEndBalanceNeverClamps(t *testing.T) {
	row := core.CategoryRow{
		StartBalance: dec("10"),
		Spent:        dec("-200"),
	}
	if got := ComputeEndBalance(row); !got.Equal(dec("-190")) {
		t.Errorf("ComputeEndBalance() = %s, want -190 (debt must be representable)", got)
	}
}

// The split explains an allocation; it must not change the arithmetic.
func TestSplitDoesNotAffectEndBalance(t *testing.T) {
	row := core.CategoryRow{
		StartBalance: dec("-50"),
		Allocated:    dec("80"),
	}
	before := ComputeEndBalance(row)
	split := SplitAllocationAgainstDebt(row.Allocated, row.StartBalance)
	after := ComputeEndBalance(row)

	if !before.Equal(after) {
		t.Errorf("end balance changed across split: %s vs %s", before, after)
	}
	if !before.Equal(dec("30")) {
		t.Errorf("end balance = %s, want 30", before)
	}
	if !split.ToDebt.Equal(dec("50")) || !split.ToBalance.Equal(dec("30")) {
		t.Errorf("split = {%s, %s}, want {50, 30}", split.ToDebt, split.ToBalance)
	}
}

func TestRecomputeRow(t *testing.T) {
	m := &core.Month{
		Year: 2025, Month: 2,
		Expenses: []core.CashEntry{
			{ID: "e1", CategoryID: "food", AccountID: "checking", Amount: dec("60")},
		},
		Transfers: []core.Transfer{
			{ID: "t1", ToCategoryID: "food", Amount: dec("15")},
		},
		Adjustments: []core.Adjustment{
			{ID: "a1", CategoryID: "food", Amount: dec("-5")},
		},
	}
	row := RecomputeRow(m, core.CategoryRow{
		CategoryID:   "food",
		StartBalance: dec("100"),
		Allocated:    dec("50"),
	})
	if !row.Spent.Equal(dec("-60")) {
		t.Errorf("Spent = %s, want -60", row.Spent)
	}
	if !row.Transfers.Equal(dec("15")) {
		t.Errorf("Transfers = %s, want 15", row.Transfers)
	}
	if !row.Adjustments.Equal(dec("-5")) {
		t.Errorf("Adjustments = %s, want -5", row.Adjustments)
	}
	if !row.EndBalance.Equal(dec("100")) {
		t.Errorf("EndBalance = %s, want 100", row.EndBalance)
	}
}
