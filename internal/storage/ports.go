// Package storage defines the persistence boundary of the engine. The
// engine only ever needs four operations against the document store; the
// SQLite and memory adapters both satisfy them.
package storage

import (
	"context"

	"envelope/internal/core"
)

type (
	// MonthReader fetches one month document. A month that has never been
	// created comes back as (nil, nil), not an error.
	MonthReader interface {
		ReadMonth(ctx context.Context, budgetID string, ordinal core.Ordinal) (*core.Month, error)
	}

	// MonthWriter persists a batch of month documents. The batch is
	// best-effort atomic: adapters that support it write all-or-nothing,
	// others write sequentially.
	MonthWriter interface {
		WriteMonths(ctx context.Context, months []*core.Month) error
	}

	BudgetReader interface {
		ReadBudget(ctx context.Context, budgetID string) (*core.Budget, error)
	}

	BudgetWriter interface {
		WriteBudget(ctx context.Context, b *core.Budget) error
	}

	// Store is the full persistence surface the engine depends on.
	Store interface {
		MonthReader
		MonthWriter
		BudgetReader
		BudgetWriter
	}
)
