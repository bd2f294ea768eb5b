package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"envelope/internal/core"
	"envelope/internal/recalc"
	"envelope/internal/storage/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (*BudgetService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	// No AMQP client: recalculation requests run inline.
	svc := NewBudgetService(store, nil, recalc.New(store), 0)

	b := &core.Budget{
		ID: "b1",
		Categories: map[string]core.Category{
			"food": {ID: "food"},
		},
		Accounts: map[string]core.Account{
			"checking": {ID: "checking", OnBudget: true},
		},
		MonthMap: map[core.Ordinal]core.MonthRef{},
	}
	if err := store.WriteBudget(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	return svc, store
}

func TestOpenMonthCreatesAndSeeds(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	jan, err := svc.OpenMonth(ctx, "b1", 2025, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !jan.CategoryRows["food"].StartBalance.IsZero() {
		t.Error("first month should start every chain at zero")
	}

	// Give January an end balance, then open February.
	row := jan.CategoryRows["food"]
	row.Allocated = dec("100")
	row.EndBalance = dec("100")
	jan.CategoryRows["food"] = row
	if err := store.WriteMonths(ctx, []*core.Month{jan}); err != nil {
		t.Fatal(err)
	}
	svc.invalidate("b1")

	feb, err := svc.OpenMonth(ctx, "b1", 2025, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !feb.CategoryRows["food"].StartBalance.Equal(dec("100")) {
		t.Errorf("February start = %s, want seeded 100", feb.CategoryRows["food"].StartBalance)
	}

	b, err := store.ReadBudget(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	ref := b.MonthMap[core.OrdinalOf(2025, 2)]
	if !ref.Exists || ref.Status != core.MonthFresh {
		t.Errorf("month map entry = %+v, want exists and fresh", ref)
	}
}

func TestOpenMonthIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.OpenMonth(ctx, "b1", 2025, 1)
	if err != nil {
		t.Fatal(err)
	}
	first.Expenses = append(first.Expenses, core.CashEntry{ID: "e1", Amount: dec("1")})

	again, err := svc.OpenMonth(ctx, "b1", 2025, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Expenses) > 1 {
		t.Error("reopening a month must not recreate it")
	}
}

func TestRecordExpenseCascadesInline(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	if _, err := svc.OpenMonth(ctx, "b1", 2025, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.OpenMonth(ctx, "b1", 2025, 2); err != nil {
		t.Fatal(err)
	}

	id, err := svc.RecordExpense(ctx, "b1", 2025, 1, core.CashEntry{
		AccountID:  "checking",
		CategoryID: "food",
		Amount:     dec("25.50"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected a generated entry id")
	}

	// Without AMQP the recalculation ran inline: flags are fresh again
	// and the rows reflect the expense.
	b, err := store.ReadBudget(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	for ord, ref := range b.MonthMap {
		if ref.Status != core.MonthFresh {
			t.Errorf("month %s status = %s, want fresh after inline recalc", ord, ref.Status)
		}
	}
	if !b.Categories["food"].Balance.Equal(dec("-25.50")) {
		t.Errorf("food balance = %s, want -25.50", b.Categories["food"].Balance)
	}

	jan, err := store.ReadMonth(ctx, "b1", core.OrdinalOf(2025, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !jan.CategoryRows["food"].Spent.Equal(dec("-25.50")) {
		t.Errorf("January spent = %s, want -25.50", jan.CategoryRows["food"].Spent)
	}
	feb, err := store.ReadMonth(ctx, "b1", core.OrdinalOf(2025, 2))
	if err != nil {
		t.Fatal(err)
	}
	if !feb.CategoryRows["food"].StartBalance.Equal(dec("-25.50")) {
		t.Errorf("February start = %s, want carried -25.50", feb.CategoryRows["food"].StartBalance)
	}
}

func TestRecordExpenseRejectsNonPositive(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordExpense(ctx, "b1", 2025, 1, core.CashEntry{Amount: dec("0")})
	if err == nil {
		t.Fatal("zero amount should be rejected")
	}
	_, err = svc.RecordExpense(ctx, "b1", 2025, 1, core.CashEntry{Amount: dec("-5")})
	if err == nil {
		t.Fatal("negative amount should be rejected")
	}
}

func TestWindowIncome(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	for month, amount := range map[int]string{1: "2000", 2: "2200", 3: "1800"} {
		m, err := svc.OpenMonth(ctx, "b1", 2025, month)
		if err != nil {
			t.Fatal(err)
		}
		m.Income = append(m.Income, core.CashEntry{AccountID: "checking", Amount: dec(amount)})
		if err := store.WriteMonths(ctx, []*core.Month{m}); err != nil {
			t.Fatal(err)
		}
	}
	svc.invalidate("b1")

	b, err := store.ReadBudget(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("default window is the preceding month", func(t *testing.T) {
		got, err := svc.WindowIncome(ctx, b, core.OrdinalOf(2025, 4))
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(dec("1800")) {
			t.Errorf("WindowIncome = %s, want 1800", got)
		}
	})

	t.Run("wider window sums the trailing months", func(t *testing.T) {
		b.IncomeWindowMonths = 3
		got, err := svc.WindowIncome(ctx, b, core.OrdinalOf(2025, 4))
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(dec("6000")) {
			t.Errorf("WindowIncome = %s, want 6000", got)
		}
	})

	t.Run("missing months contribute nothing", func(t *testing.T) {
		b.IncomeWindowMonths = 12
		got, err := svc.WindowIncome(ctx, b, core.OrdinalOf(2025, 4))
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(dec("6000")) {
			t.Errorf("WindowIncome = %s, want 6000", got)
		}
	})
}

func TestCachedReadsAreIsolated(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.OpenMonth(ctx, "b1", 2025, 1); err != nil {
		t.Fatal(err)
	}

	t.Run("budget", func(t *testing.T) {
		first, err := svc.GetBudget(ctx, "b1")
		if err != nil {
			t.Fatal(err)
		}
		first.MonthMap[core.OrdinalOf(2025, 9)] = core.MonthRef{Exists: true, Status: core.MonthStale}
		delete(first.Categories, "food")

		second, err := svc.GetBudget(ctx, "b1")
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := second.MonthMap[core.OrdinalOf(2025, 9)]; ok {
			t.Error("mutation of one read leaked into the next")
		}
		if _, ok := second.Categories["food"]; !ok {
			t.Error("category deleted on one read vanished from the next")
		}
	})

	t.Run("month", func(t *testing.T) {
		first, err := svc.GetMonth(ctx, "b1", core.OrdinalOf(2025, 1))
		if err != nil {
			t.Fatal(err)
		}
		first.Expenses = append(first.Expenses, core.CashEntry{ID: "e1", Amount: dec("5")})
		row := first.CategoryRows["food"]
		row.Allocated = dec("999")
		first.CategoryRows["food"] = row

		second, err := svc.GetMonth(ctx, "b1", core.OrdinalOf(2025, 1))
		if err != nil {
			t.Fatal(err)
		}
		if len(second.Expenses) != 0 {
			t.Errorf("second read has %d expenses, want 0", len(second.Expenses))
		}
		if !second.CategoryRows["food"].Allocated.IsZero() {
			t.Errorf("second read allocated = %s, want 0", second.CategoryRows["food"].Allocated)
		}
	})
}

func TestCacheTTLExpiresEntries(t *testing.T) {
	store := memory.NewStore()
	svc := NewBudgetService(store, nil, recalc.New(store), 10*time.Millisecond)
	ctx := context.Background()

	b := &core.Budget{ID: "b1", Name: "before"}
	if err := store.WriteBudget(ctx, b); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetBudget(ctx, "b1"); err != nil {
		t.Fatal(err)
	}

	b.Name = "after"
	if err := store.WriteBudget(ctx, b); err != nil {
		t.Fatal(err)
	}

	cached, err := svc.GetBudget(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if cached.Name != "before" {
		t.Fatalf("read inside the TTL = %q, want cached %q", cached.Name, "before")
	}

	time.Sleep(25 * time.Millisecond)
	refreshed, err := svc.GetBudget(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Name != "after" {
		t.Errorf("read past the TTL = %q, want refreshed %q", refreshed.Name, "after")
	}
}

func TestAllocationSessionEndToEnd(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	if _, err := svc.OpenMonth(ctx, "b1", 2025, 1); err != nil {
		t.Fatal(err)
	}

	s, err := svc.OpenAllocationSession(ctx, "b1", 2025, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Edit(); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDraft("food", "150"); err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(ctx); err != nil {
		t.Fatal(err)
	}

	// The session requested an inline recalculation through the service.
	b, err := store.ReadBudget(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if ref := b.MonthMap[core.OrdinalOf(2025, 1)]; ref.Status != core.MonthFresh {
		t.Errorf("month status = %s, want fresh after finalize + recalc", ref.Status)
	}
	if !b.Categories["food"].Balance.Equal(dec("150")) {
		t.Errorf("food balance = %s, want committed 150", b.Categories["food"].Balance)
	}
}
