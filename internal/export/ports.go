// Package export pushes post-recalculation snapshots to external sinks.
// Exporters are collaborators outside the engine: they only ever see
// finished results, never intermediate state.
package export

import (
	"context"

	"github.com/shopspring/decimal"
)

// MonthSummary is one month's headline figures after a recalculation run.
type MonthSummary struct {
	BudgetID       string
	Year           int
	Month          int
	TotalAllocated decimal.Decimal
	TotalSpent     decimal.Decimal
	TotalIncome    decimal.Decimal
	Finalized      bool
}

// SnapshotWriter appends month summaries to a sink.
type SnapshotWriter interface {
	AppendMonthSummary(ctx context.Context, s MonthSummary) error
}
