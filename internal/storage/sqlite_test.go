package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"envelope/internal/core"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "envelope.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteMonthRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := &core.Month{
		BudgetID: "b1", Year: 2025, Month: 6,
		CategoryRows: map[string]core.CategoryRow{
			"food": {
				CategoryID:   "food",
				StartBalance: decimal.RequireFromString("10.25"),
				Allocated:    decimal.RequireFromString("300"),
				Spent:        decimal.RequireFromString("-120.75"),
				EndBalance:   decimal.RequireFromString("189.50"),
			},
		},
		Income: []core.CashEntry{
			{ID: "i1", AccountID: "checking", Amount: decimal.RequireFromString("2000")},
		},
	}
	if err := store.WriteMonths(ctx, []*core.Month{m}); err != nil {
		t.Fatal(err)
	}

	got, err := store.ReadMonth(ctx, "b1", m.Ordinal())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("ReadMonth returned nil for a written month")
	}
	if !got.CategoryRows["food"].EndBalance.Equal(decimal.RequireFromString("189.50")) {
		t.Errorf("EndBalance = %s, want 189.50", got.CategoryRows["food"].EndBalance)
	}
	if len(got.Income) != 1 || got.Income[0].ID != "i1" {
		t.Errorf("Income = %+v, want the written entry", got.Income)
	}
}

func TestSQLiteMonthUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := &core.Month{BudgetID: "b1", Year: 2025, Month: 1}
	if err := store.WriteMonths(ctx, []*core.Month{m}); err != nil {
		t.Fatal(err)
	}
	m.AllocationsFinalized = true
	if err := store.WriteMonths(ctx, []*core.Month{m}); err != nil {
		t.Fatal(err)
	}

	got, err := store.ReadMonth(ctx, "b1", m.Ordinal())
	if err != nil {
		t.Fatal(err)
	}
	if !got.AllocationsFinalized {
		t.Error("second write should have replaced the document")
	}
}

func TestSQLiteReadMonthAbsent(t *testing.T) {
	store := openTestStore(t)
	m, err := store.ReadMonth(context.Background(), "b1", core.OrdinalOf(2025, 1))
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Error("absent month should read back as nil, nil")
	}
}

func TestSQLiteBudgetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	b := &core.Budget{
		ID: "b1",
		Categories: map[string]core.Category{
			"food": {ID: "food", Balance: decimal.RequireFromString("42")},
		},
		MonthMap: map[core.Ordinal]core.MonthRef{
			core.OrdinalOf(2025, 6): {Exists: true, Status: core.MonthFresh},
		},
		TotalAvailable: decimal.RequireFromString("958"),
	}
	if err := store.WriteBudget(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := store.ReadBudget(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.TotalAvailable.Equal(decimal.RequireFromString("958")) {
		t.Errorf("TotalAvailable = %s, want 958", got.TotalAvailable)
	}
	ref := got.MonthMap[core.OrdinalOf(2025, 6)]
	if !ref.Exists || ref.Status != core.MonthFresh {
		t.Errorf("month ref = %+v, want exists and fresh", ref)
	}
}

func TestSQLiteReadBudgetAbsent(t *testing.T) {
	store := openTestStore(t)
	_, err := store.ReadBudget(context.Background(), "missing")
	if !errors.Is(err, core.ErrBudgetNotFound) {
		t.Errorf("err = %v, want ErrBudgetNotFound", err)
	}
}
