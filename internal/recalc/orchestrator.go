// Package recalc walks a budget's months forward from the earliest stale
// one, re-deriving every category and account balance so the chain
// invariant holds again: each month's start balance equals its
// predecessor's end balance.
package recalc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"envelope/internal/balance"
	"envelope/internal/core"
	"envelope/internal/storage"
)

// Phase identifies where a run currently is. Phases are strictly
// sequential; an error short-circuits from any of them.
type Phase string

const (
	PhaseReadingBudget  Phase = "reading-budget"
	PhaseFetchingMonths Phase = "fetching-months"
	PhaseRecalculating  Phase = "recalculating"
	PhaseSaving         Phase = "saving"
	PhaseComplete       Phase = "complete"
	PhaseError          Phase = "error"
)

// Progress is a snapshot handed to the caller after each phase transition
// and, within the recalculating phase, after each month.
type Progress struct {
	Phase              Phase
	MonthsFetched      int
	TotalMonthsToFetch int
	MonthsProcessed    int
	TotalMonths        int
	CurrentMonth       core.Ordinal
	PercentComplete    float64
}

// Result reports what a completed run touched.
type Result struct {
	BudgetID          string
	MonthsProcessed   int
	MonthsUpdated     int
	CategoriesTouched int
	AccountsTouched   int
}

// Options tune a single run. TriggeringOrdinal lets a caller that knows
// which month changed skip the full-history scan for the earliest stale
// month; the run still never starts later than the earliest stale flag.
type Options struct {
	TriggeringOrdinal *core.Ordinal
	OnProgress        func(Progress)
}

// Error wraps a run failure with the phase it surfaced in. Stale flags are
// left untouched, so a retry reprocesses the same range.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("recalculation failed during %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrRunInFlight is returned when a run for the same budget is already
// executing. Two triggers racing for one budget collapse into one run.
var ErrRunInFlight = errors.New("recalculation already in flight for budget")

const (
	defaultBatchSize        = 25
	defaultFetchConcurrency = 8
)

// Orchestrator executes recalculation runs. It is safe for concurrent use;
// runs for distinct budgets may overlap, runs for the same budget never do.
type Orchestrator struct {
	store            storage.Store
	batchSize        int
	fetchConcurrency int

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(store storage.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:            store,
		batchSize:        defaultBatchSize,
		fetchConcurrency: defaultFetchConcurrency,
		inFlight:         make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Option func(*Orchestrator)

// WithBatchSize caps how many month documents go into one store write.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithFetchConcurrency bounds the parallel month fetches.
func WithFetchConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.fetchConcurrency = n
		}
	}
}

// Run recalculates every month of the budget from the earliest stale one
// through the latest existing one, persists the results, and clears the
// stale flags. Returns ErrRunInFlight if a run for this budget is already
// executing.
func (o *Orchestrator) Run(ctx context.Context, budgetID string, opts Options) (*Result, error) {
	if !o.acquire(budgetID) {
		slog.InfoContext(ctx, "Recalculation skipped, run in flight", "budget_id", budgetID)
		return nil, ErrRunInFlight
	}
	defer o.release(budgetID)

	report := func(p Progress) {
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
	}

	// reading-budget
	report(Progress{Phase: PhaseReadingBudget})
	b, err := o.store.ReadBudget(ctx, budgetID)
	if err != nil {
		return nil, &Error{Phase: PhaseReadingBudget, Err: err}
	}

	start, latest, ok := o.planRange(b, opts.TriggeringOrdinal)
	if !ok {
		slog.InfoContext(ctx, "Nothing to recalculate", "budget_id", budgetID)
		report(Progress{Phase: PhaseComplete, PercentComplete: 100})
		return &Result{BudgetID: budgetID}, nil
	}

	// Existing ordinals inside the run range, ascending. A predecessor
	// month just before the range seeds the carry but is never rewritten.
	var ordinals []core.Ordinal
	var seedOrdinal *core.Ordinal
	for _, ord := range b.ExistingOrdinals() {
		switch {
		case ord < start:
			s := ord
			seedOrdinal = &s
		case ord <= latest:
			ordinals = append(ordinals, ord)
		}
	}
	sort.Slice(ordinals, func(i, j int) bool { return ordinals[i] < ordinals[j] })

	for _, ord := range ordinals {
		ref := b.MonthMap[ord]
		ref.Status = core.MonthRecalculating
		b.MonthMap[ord] = ref
	}

	// fetching-months
	fetchList := ordinals
	if seedOrdinal != nil {
		fetchList = append([]core.Ordinal{*seedOrdinal}, ordinals...)
	}
	report(Progress{Phase: PhaseFetchingMonths, TotalMonthsToFetch: len(fetchList)})
	months, err := o.fetchMonths(ctx, budgetID, fetchList, func(fetched int) {
		report(Progress{
			Phase:              PhaseFetchingMonths,
			MonthsFetched:      fetched,
			TotalMonthsToFetch: len(fetchList),
			PercentComplete:    25 * float64(fetched) / float64(len(fetchList)),
		})
	})
	if err != nil {
		return nil, &Error{Phase: PhaseFetchingMonths, Err: err}
	}

	// recalculating
	report(Progress{Phase: PhaseRecalculating, TotalMonths: len(ordinals), PercentComplete: 25})
	walk := newWalker(b, months, seedOrdinal)
	for i, ord := range ordinals {
		if err := walk.advance(ord); err != nil {
			return nil, &Error{Phase: PhaseRecalculating, Err: err}
		}
		report(Progress{
			Phase:           PhaseRecalculating,
			MonthsProcessed: i + 1,
			TotalMonths:     len(ordinals),
			CurrentMonth:    ord,
			PercentComplete: 25 + 50*float64(i+1)/float64(len(ordinals)),
		})
	}

	// saving
	report(Progress{Phase: PhaseSaving, PercentComplete: 75})
	if err := o.save(ctx, b, walk, ordinals); err != nil {
		return nil, &Error{Phase: PhaseSaving, Err: err}
	}

	result := &Result{
		BudgetID:          budgetID,
		MonthsProcessed:   len(ordinals),
		MonthsUpdated:     walk.updated,
		CategoriesTouched: len(walk.categoryCarry),
		AccountsTouched:   len(walk.accountCarry),
	}
	report(Progress{
		Phase:           PhaseComplete,
		MonthsProcessed: len(ordinals),
		TotalMonths:     len(ordinals),
		PercentComplete: 100,
	})
	slog.InfoContext(ctx, "Recalculation complete",
		"budget_id", budgetID,
		"months_processed", result.MonthsProcessed,
		"months_updated", result.MonthsUpdated,
		"categories", result.CategoriesTouched,
		"accounts", result.AccountsTouched)
	return result, nil
}

func (o *Orchestrator) acquire(budgetID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[budgetID] {
		return false
	}
	o.inFlight[budgetID] = true
	return true
}

func (o *Orchestrator) release(budgetID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, budgetID)
}

// planRange picks the first month to recompute and the last existing month.
// The explicit trigger only narrows the scan; the earliest stale flag still
// wins when it is older.
func (o *Orchestrator) planRange(b *core.Budget, trigger *core.Ordinal) (start, latest core.Ordinal, ok bool) {
	latest, hasMonths := b.LatestExisting()
	if !hasMonths {
		return 0, 0, false
	}

	earliestStale, hasStale := b.EarliestStale()
	switch {
	case hasStale && trigger != nil && *trigger < earliestStale:
		start = *trigger
	case hasStale:
		start = earliestStale
	case trigger != nil:
		start = *trigger
	default:
		return 0, 0, false
	}
	if start > latest {
		return 0, 0, false
	}
	return start, latest, true
}

// fetchMonths loads the given ordinals concurrently. Fetches are read-only
// and order-independent; the recalculating phase re-imposes chronological
// order on the in-memory set.
func (o *Orchestrator) fetchMonths(ctx context.Context, budgetID string, ordinals []core.Ordinal, onFetched func(int)) (map[core.Ordinal]*core.Month, error) {
	months := make(map[core.Ordinal]*core.Month, len(ordinals))
	var mu sync.Mutex
	fetched := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.fetchConcurrency)
	for _, ord := range ordinals {
		ord := ord
		g.Go(func() error {
			m, err := o.store.ReadMonth(gctx, budgetID, ord)
			if err != nil {
				return fmt.Errorf("fetch month %s: %w", ord, err)
			}
			if m == nil {
				// The month map said this month exists; a missing
				// document is a gap we cannot recalculate across.
				return fmt.Errorf("month %s flagged as existing but not found", ord)
			}
			mu.Lock()
			months[ord] = m
			fetched++
			onFetched(fetched)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return months, nil
}

// walker carries category and account balances forward month by month.
// unfinalizedAlloc accumulates allocations from months that were saved but
// never finalized; the row chain carries them, the committed budget
// balances must not. The projector re-adds a month's working allocations
// when viewing it.
type walker struct {
	budget           *core.Budget
	months           map[core.Ordinal]*core.Month
	categoryCarry    map[string]decimal.Decimal
	accountCarry     map[string]decimal.Decimal
	unfinalizedAlloc map[string]decimal.Decimal
	updated          int
}

func newWalker(b *core.Budget, months map[core.Ordinal]*core.Month, seed *core.Ordinal) *walker {
	w := &walker{
		budget:           b,
		months:           months,
		categoryCarry:    make(map[string]decimal.Decimal),
		accountCarry:     make(map[string]decimal.Decimal),
		unfinalizedAlloc: make(map[string]decimal.Decimal),
	}
	// Seed the carry from the untouched month just before the run range.
	// The first month of a budget's history starts every chain at zero.
	if seed != nil {
		if prev := months[*seed]; prev != nil {
			for id, row := range prev.CategoryRows {
				w.categoryCarry[id] = row.EndBalance
			}
			for id, row := range prev.AccountRows {
				w.accountCarry[id] = row.EndBalance
			}
		}
	}
	return w
}

// advance recomputes one month in place: start balances come from the
// carry, activity nets come from the month's own entry arrays, and the
// resulting end balances become the next month's carry.
func (w *walker) advance(ord core.Ordinal) error {
	m, ok := w.months[ord]
	if !ok {
		return fmt.Errorf("month %s missing from fetched set", ord)
	}

	changed := false
	for id, row := range m.CategoryRows {
		if _, known := w.budget.Categories[id]; !known {
			// A category deleted after the month was written. Keep the
			// row arithmetic alive with a zero-balance stand-in.
			slog.Warn("Category missing from budget, treating as zero-balance",
				"budget_id", w.budget.ID, "category_id", id, "month", ord.String())
		}
		start := decimal.Zero
		if carried, seen := w.categoryCarry[id]; seen {
			start = carried
		}
		next := row
		next.StartBalance = start
		next = balance.RecomputeRow(m, next)
		if !categoryRowsEqual(row, next) {
			m.CategoryRows[id] = next
			changed = true
		}
		w.categoryCarry[id] = next.EndBalance
		if !m.AllocationsFinalized {
			w.unfinalizedAlloc[id] = w.unfinalizedAlloc[id].Add(next.Allocated)
		}
	}

	for id, row := range m.AccountRows {
		start := decimal.Zero
		if carried, seen := w.accountCarry[id]; seen {
			start = carried
		}
		next := row
		next.StartBalance = start
		next.Flow = m.AccountFlow(id)
		next.EndBalance = balance.ComputeAccountEnd(next)
		if !accountRowsEqual(row, next) {
			m.AccountRows[id] = next
			changed = true
		}
		w.accountCarry[id] = next.EndBalance
	}

	if changed {
		w.updated++
	}
	return nil
}

func categoryRowsEqual(a, b core.CategoryRow) bool {
	return a.StartBalance.Equal(b.StartBalance) &&
		a.Allocated.Equal(b.Allocated) &&
		a.Spent.Equal(b.Spent) &&
		a.Transfers.Equal(b.Transfers) &&
		a.Adjustments.Equal(b.Adjustments) &&
		a.EndBalance.Equal(b.EndBalance)
}

func accountRowsEqual(a, b core.AccountRow) bool {
	return a.StartBalance.Equal(b.StartBalance) &&
		a.Flow.Equal(b.Flow) &&
		a.EndBalance.Equal(b.EndBalance)
}

// save flushes the recomputed months in bounded batches, then commits the
// carried balances and fresh statuses on the budget document. The budget
// write happens last so a failed month flush leaves the stale flags intact
// for retry.
func (o *Orchestrator) save(ctx context.Context, b *core.Budget, w *walker, ordinals []core.Ordinal) error {
	batch := make([]*core.Month, 0, o.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := o.store.WriteMonths(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, ord := range ordinals {
		batch = append(batch, w.months[ord])
		if len(batch) >= o.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	for id, end := range w.categoryCarry {
		if cat, ok := b.Categories[id]; ok {
			// The committed balance carries only finalized contributions.
			cat.Balance = core.Round2(end.Sub(w.unfinalizedAlloc[id]))
			b.Categories[id] = cat
		}
	}
	for id, end := range w.accountCarry {
		if acc, ok := b.Accounts[id]; ok {
			acc.Balance = end
			b.Accounts[id] = acc
		}
	}
	b.RecomputeTotalAvailable()

	for _, ord := range ordinals {
		ref := b.MonthMap[ord]
		ref.Status = core.MonthFresh
		b.MonthMap[ord] = ref
	}

	return o.store.WriteBudget(ctx, b)
}
