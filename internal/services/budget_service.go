// Package services wires the engine together: mutations flag months stale
// and request recalculation, reads go through short-lived caches that a
// completed recalculation invalidates.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"envelope/internal/amqp"
	"envelope/internal/cache"
	"envelope/internal/core"
	"envelope/internal/recalc"
	"envelope/internal/session"
	"envelope/internal/storage"
)

const (
	cacheSize       = 256
	defaultCacheTTL = 30 * time.Second
)

// BudgetService orchestrates budget operations across the document store,
// the recalculation orchestrator, and AMQP.
//
// The caches hold marshaled documents, not pointers: every hit decodes a
// fresh copy, so concurrent handlers never mutate each other's reads.
type BudgetService struct {
	store      storage.Store
	amqpClient *amqp.Client
	orch       *recalc.Orchestrator

	budgets *cache.LRUCache[[]byte]
	months  *cache.LRUCache[[]byte]
}

func NewBudgetService(store storage.Store, amqpClient *amqp.Client, orch *recalc.Orchestrator, cacheTTL time.Duration) *BudgetService {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &BudgetService{
		store:      store,
		amqpClient: amqpClient,
		orch:       orch,
		budgets:    cache.NewLRUCache[[]byte](cacheSize, cacheTTL),
		months:     cache.NewLRUCache[[]byte](cacheSize, cacheTTL),
	}
}

// GetBudget reads a budget through the cache.
func (s *BudgetService) GetBudget(ctx context.Context, budgetID string) (*core.Budget, error) {
	if raw, ok := s.budgets.Get(budgetID); ok {
		var b core.Budget
		if err := json.Unmarshal(raw, &b); err == nil {
			return &b, nil
		}
		// An undecodable entry is treated as a miss.
		s.budgets.Delete(budgetID)
	}
	b, err := s.store.ReadBudget(ctx, budgetID)
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", err)
	}
	if raw, err := json.Marshal(b); err == nil {
		s.budgets.Set(budgetID, raw)
	}
	return b, nil
}

// GetMonth reads a month through the cache; nil means not created yet.
func (s *BudgetService) GetMonth(ctx context.Context, budgetID string, ordinal core.Ordinal) (*core.Month, error) {
	key := monthCacheKey(budgetID, ordinal)
	if raw, ok := s.months.Get(key); ok {
		var m core.Month
		if err := json.Unmarshal(raw, &m); err == nil {
			return &m, nil
		}
		s.months.Delete(key)
	}
	m, err := s.store.ReadMonth(ctx, budgetID, ordinal)
	if err != nil {
		return nil, fmt.Errorf("get month: %w", err)
	}
	if m != nil {
		if raw, err := json.Marshal(m); err == nil {
			s.months.Set(key, raw)
		}
	}
	return m, nil
}

// OpenMonth returns the month document, creating it on first navigation
// with start balances seeded from the predecessor's end balances, or zero
// when no earlier month exists.
func (s *BudgetService) OpenMonth(ctx context.Context, budgetID string, year, month int) (*core.Month, error) {
	ordinal := core.OrdinalOf(year, month)
	m, err := s.GetMonth(ctx, budgetID, ordinal)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}

	b, err := s.GetBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	m = &core.Month{
		BudgetID:     budgetID,
		Year:         year,
		Month:        month,
		CategoryRows: make(map[string]core.CategoryRow),
		AccountRows:  make(map[string]core.AccountRow),
	}

	prev, err := s.predecessor(ctx, b, ordinal)
	if err != nil {
		return nil, err
	}
	for id := range b.Categories {
		row := core.CategoryRow{CategoryID: id}
		if prev != nil {
			if prevRow, ok := prev.CategoryRows[id]; ok {
				row.StartBalance = prevRow.EndBalance
				row.EndBalance = prevRow.EndBalance
			}
		}
		m.CategoryRows[id] = row
	}
	for id := range b.Accounts {
		row := core.AccountRow{AccountID: id}
		if prev != nil {
			if prevRow, ok := prev.AccountRows[id]; ok {
				row.StartBalance = prevRow.EndBalance
				row.EndBalance = prevRow.EndBalance
			}
		}
		m.AccountRows[id] = row
	}

	if err := s.store.WriteMonths(ctx, []*core.Month{m}); err != nil {
		return nil, fmt.Errorf("create month: %w", err)
	}
	if b.MonthMap == nil {
		b.MonthMap = make(map[core.Ordinal]core.MonthRef)
	}
	b.MonthMap[ordinal] = core.MonthRef{Exists: true, Status: core.MonthFresh}
	if err := s.store.WriteBudget(ctx, b); err != nil {
		return nil, fmt.Errorf("register month: %w", err)
	}
	s.invalidate(budgetID)

	slog.InfoContext(ctx, "Month created",
		"budget_id", budgetID, "month", ordinal.String())
	return m, nil
}

// predecessor finds the closest existing month before the ordinal.
func (s *BudgetService) predecessor(ctx context.Context, b *core.Budget, ordinal core.Ordinal) (*core.Month, error) {
	var best *core.Ordinal
	for o, ref := range b.MonthMap {
		if ref.Exists && o < ordinal && (best == nil || o > *best) {
			v := o
			best = &v
		}
	}
	if best == nil {
		return nil, nil
	}
	return s.GetMonth(ctx, b.ID, *best)
}

// RecordExpense appends an expense entry to the month and flags the
// forward chain stale.
func (s *BudgetService) RecordExpense(ctx context.Context, budgetID string, year, month int, e core.CashEntry) (string, error) {
	return s.appendEntry(ctx, budgetID, year, month, e, false)
}

// RecordIncome appends an income entry to the month and flags the forward
// chain stale.
func (s *BudgetService) RecordIncome(ctx context.Context, budgetID string, year, month int, e core.CashEntry) (string, error) {
	return s.appendEntry(ctx, budgetID, year, month, e, true)
}

func (s *BudgetService) appendEntry(ctx context.Context, budgetID string, year, month int, e core.CashEntry, income bool) (string, error) {
	if !e.Amount.IsPositive() {
		return "", &core.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	m, err := s.OpenMonth(ctx, budgetID, year, month)
	if err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Amount = core.Round2(e.Amount)
	if income {
		m.Income = append(m.Income, e)
	} else {
		m.Expenses = append(m.Expenses, e)
	}
	if err := s.store.WriteMonths(ctx, []*core.Month{m}); err != nil {
		return "", fmt.Errorf("record entry: %w", err)
	}
	if err := s.markStale(ctx, budgetID, m.Ordinal()); err != nil {
		return "", err
	}
	return e.ID, nil
}

// markStale flags every existing month at or after the ordinal and asks for
// a recalculation.
func (s *BudgetService) markStale(ctx context.Context, budgetID string, from core.Ordinal) error {
	b, err := s.store.ReadBudget(ctx, budgetID)
	if err != nil {
		return fmt.Errorf("mark stale: %w", err)
	}
	b.MarkStaleFrom(from)
	if err := s.store.WriteBudget(ctx, b); err != nil {
		return fmt.Errorf("mark stale: %w", err)
	}
	s.invalidate(budgetID)

	if err := s.RequestRecalculation(ctx, budgetID, from); err != nil {
		// Flags are persisted; staying stale until the next run is safe.
		slog.ErrorContext(ctx, "Failed to request recalculation",
			"budget_id", budgetID, "error", err)
	}
	return nil
}

// RequestRecalculation publishes a recalculation request, or runs one
// inline when no AMQP client is configured.
func (s *BudgetService) RequestRecalculation(ctx context.Context, budgetID string, ordinal core.Ordinal) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, recalculating inline", "budget_id", budgetID)
		_, err := s.TriggerRecalculation(ctx, budgetID, recalc.Options{TriggeringOrdinal: &ordinal})
		if errors.Is(err, recalc.ErrRunInFlight) {
			return nil
		}
		return err
	}
	return s.amqpClient.RequestRecalculation(ctx, budgetID, ordinal)
}

// TriggerRecalculation is the single entry point every mutation source uses
// to invoke the orchestrator. On success the budget's cached documents are
// dropped so readers see the recomputed balances.
func (s *BudgetService) TriggerRecalculation(ctx context.Context, budgetID string, opts recalc.Options) (*recalc.Result, error) {
	result, err := s.orch.Run(ctx, budgetID, opts)
	if err != nil {
		return nil, err
	}
	s.invalidate(budgetID)
	return result, nil
}

// OpenAllocationSession opens the month for interactive allocation editing.
// The month is opened first so the budget read already carries its
// registration when the session later writes the budget back.
func (s *BudgetService) OpenAllocationSession(ctx context.Context, budgetID string, year, month int) (*session.Session, error) {
	m, err := s.OpenMonth(ctx, budgetID, year, month)
	if err != nil {
		return nil, err
	}
	b, err := s.GetBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	income, err := s.WindowIncome(ctx, b, core.OrdinalOf(year, month))
	if err != nil {
		return nil, err
	}
	return session.New(b, m, income, s.store, s), nil
}

// WindowIncome totals the income of the budget's trailing window of months
// immediately before the given one. The window size is a budget setting;
// it is read once and holds for the whole computation.
func (s *BudgetService) WindowIncome(ctx context.Context, b *core.Budget, before core.Ordinal) (decimal.Decimal, error) {
	window := b.IncomeWindowMonths
	if window <= 0 {
		window = 1
	}
	total := decimal.Zero
	for i := 1; i <= window; i++ {
		ord := before - core.Ordinal(i)
		ref, ok := b.MonthMap[ord]
		if !ok || !ref.Exists {
			continue
		}
		m, err := s.GetMonth(ctx, b.ID, ord)
		if err != nil {
			return decimal.Zero, err
		}
		if m != nil {
			total = total.Add(m.IncomeTotal())
		}
	}
	return core.Round2(total), nil
}

func (s *BudgetService) invalidate(budgetID string) {
	s.budgets.Delete(budgetID)
	s.months.DeletePrefix(budgetID + "/")
}

func monthCacheKey(budgetID string, ordinal core.Ordinal) string {
	return fmt.Sprintf("%s/%d", budgetID, int(ordinal))
}

// Close closes the service's external connections.
func (s *BudgetService) Close() error {
	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			return fmt.Errorf("close amqp: %w", err)
		}
	}
	return nil
}
