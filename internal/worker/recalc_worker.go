// Package worker runs recalculations in response to AMQP requests and
// exports a snapshot of each recomputed month once the run commits.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"envelope/internal/amqp"
	"envelope/internal/core"
	"envelope/internal/export"
	"envelope/internal/recalc"
	"envelope/internal/services"
)

type RecalcWorker struct {
	service  *services.BudgetService
	exporter export.SnapshotWriter
}

// NewRecalcWorker builds a worker. The exporter may be nil; snapshots are
// then skipped.
func NewRecalcWorker(service *services.BudgetService, exporter export.SnapshotWriter) *RecalcWorker {
	return &RecalcWorker{
		service:  service,
		exporter: exporter,
	}
}

// HandleRecalcMessage processes one recalculation request. A run already in
// flight for the budget is not an error: the in-flight run covers the same
// stale months, so the message is dropped.
func (w *RecalcWorker) HandleRecalcMessage(ctx context.Context, msg *amqp.RecalculationRequested) error {
	slog.InfoContext(ctx, "Processing recalculation request",
		"budget_id", msg.BudgetID,
		"triggering_ordinal", msg.TriggeringOrdinal)

	var trigger *core.Ordinal
	if msg.TriggeringOrdinal > 0 {
		ord := core.Ordinal(msg.TriggeringOrdinal)
		trigger = &ord
	}
	result, err := w.service.TriggerRecalculation(ctx, msg.BudgetID, recalc.Options{
		TriggeringOrdinal: trigger,
		OnProgress: func(p recalc.Progress) {
			slog.DebugContext(ctx, "Recalculation progress",
				"budget_id", msg.BudgetID,
				"phase", string(p.Phase),
				"percent", p.PercentComplete)
		},
	})
	if errors.Is(err, recalc.ErrRunInFlight) {
		slog.InfoContext(ctx, "Run already in flight, dropping request",
			"budget_id", msg.BudgetID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("trigger recalculation: %w", err)
	}

	if err := w.exportSnapshot(ctx, msg.BudgetID, result); err != nil {
		// The recalculation itself committed; a failed export is not
		// worth requeueing the message for.
		slog.ErrorContext(ctx, "Failed to export snapshot",
			"budget_id", msg.BudgetID, "error", err)
	}
	return nil
}

func (w *RecalcWorker) exportSnapshot(ctx context.Context, budgetID string, result *recalc.Result) error {
	if w.exporter == nil || result == nil || result.MonthsProcessed == 0 {
		return nil
	}

	b, err := w.service.GetBudget(ctx, budgetID)
	if err != nil {
		return fmt.Errorf("read budget for snapshot: %w", err)
	}
	for _, ord := range b.ExistingOrdinals() {
		if b.MonthMap[ord].Status != core.MonthFresh {
			continue
		}
		m, err := w.service.GetMonth(ctx, budgetID, ord)
		if err != nil {
			return fmt.Errorf("read month for snapshot: %w", err)
		}
		if m == nil {
			continue
		}
		year, month := ord.Date()
		summary := export.MonthSummary{
			BudgetID:       budgetID,
			Year:           year,
			Month:          month,
			TotalAllocated: m.AllocatedTotal(),
			TotalSpent:     totalSpent(m),
			TotalIncome:    m.IncomeTotal(),
			Finalized:      m.AllocationsFinalized,
		}
		if err := w.exporter.AppendMonthSummary(ctx, summary); err != nil {
			return fmt.Errorf("append summary %s: %w", ord, err)
		}
	}
	return nil
}

func totalSpent(m *core.Month) decimal.Decimal {
	total := decimal.Zero
	for _, row := range m.CategoryRows {
		total = total.Add(row.Spent)
	}
	return core.Round2(total)
}
