// Package session is the interactive state machine for editing one month's
// allocations: draft amounts live here until they are saved, finalized, or
// discarded, and never touch stored balances on their own.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"envelope/internal/balance"
	"envelope/internal/core"
	"envelope/internal/storage"
)

// State is the session's position in the allocation lifecycle.
type State string

const (
	// StateViewingFinalized shows committed allocations read-only.
	StateViewingFinalized State = "viewing-finalized"
	// StateEditing has mutable draft values.
	StateEditing State = "editing"
	// StateSavedUnfinalized has a persisted working snapshot that is not
	// yet committed; it is also the resting state of a never-finalized
	// month.
	StateSavedUnfinalized State = "saved-unfinalized"
	// StateFinalized just committed; allocations are authoritative.
	StateFinalized State = "finalized"
)

// ErrInvalidTransition is returned when an operation is not legal from the
// session's current state.
var ErrInvalidTransition = errors.New("invalid allocation session transition")

// RecalcRequester asks for a downstream recalculation after a commit.
// A nil requester is tolerated; the months stay flagged stale until the
// next opportunistic run.
type RecalcRequester interface {
	RequestRecalculation(ctx context.Context, budgetID string, ordinal core.Ordinal) error
}

// Session edits one month's allocations for one budget. Not safe for
// concurrent use; a session belongs to a single interactive surface.
type Session struct {
	budget *core.Budget
	month  *core.Month

	store     storage.Store
	requester RecalcRequester

	state        State
	drafts       map[string]decimal.Decimal
	windowIncome decimal.Decimal
	availableNow decimal.Decimal
}

// New opens a session over an existing month document. The initial state
// follows the month: finalized months open read-only, everything else rests
// at saved-unfinalized.
func New(b *core.Budget, m *core.Month, windowIncome decimal.Decimal, store storage.Store, requester RecalcRequester) *Session {
	state := StateSavedUnfinalized
	if m.AllocationsFinalized {
		state = StateViewingFinalized
	}
	return &Session{
		budget:       b,
		month:        m,
		store:        store,
		requester:    requester,
		state:        state,
		drafts:       make(map[string]decimal.Decimal),
		windowIncome: windowIncome,
		availableNow: b.TotalAvailable,
	}
}

func (s *Session) State() State { return s.state }

// Edit opens the allocations for editing and seeds the draft set from the
// current saved or finalized values.
func (s *Session) Edit() error {
	if s.state != StateViewingFinalized && s.state != StateSavedUnfinalized && s.state != StateFinalized {
		return fmt.Errorf("%w: edit from %s", ErrInvalidTransition, s.state)
	}
	s.drafts = make(map[string]decimal.Decimal, len(s.month.CategoryRows))
	for id, row := range s.month.CategoryRows {
		s.drafts[id] = row.Allocated
	}
	s.state = StateEditing
	return nil
}

// SetDraft validates and records a typed allocation amount for a category.
// Malformed text is rejected here and never enters the draft set.
func (s *Session) SetDraft(categoryID, text string) error {
	if s.state != StateEditing {
		return fmt.Errorf("%w: set draft from %s", ErrInvalidTransition, s.state)
	}
	if _, ok := s.budget.Categories[categoryID]; !ok {
		return &core.NotFoundError{Kind: "category", ID: categoryID}
	}
	amount, err := core.ParseAmount(text)
	if err != nil {
		return err
	}
	s.drafts[categoryID] = amount
	return nil
}

// ClearDraft removes a typed amount so the category falls back to its
// default allocation rule.
func (s *Session) ClearDraft(categoryID string) {
	delete(s.drafts, categoryID)
}

// Resolver exposes the draft set to the live balance projector.
func (s *Session) Resolver() balance.DraftResolver {
	return func(categoryID string) (decimal.Decimal, bool) {
		d, ok := s.drafts[categoryID]
		return d, ok
	}
}

// Cancel discards draft edits and reverts to the last saved or finalized
// snapshot. Always legal from editing.
func (s *Session) Cancel() error {
	if s.state != StateEditing {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.state)
	}
	s.drafts = make(map[string]decimal.Decimal)
	if s.month.AllocationsFinalized {
		s.state = StateViewingFinalized
	} else {
		s.state = StateSavedUnfinalized
	}
	return nil
}

// Save persists the resolved draft amounts as the month's working,
// not-yet-committed allocations. Saving over a finalized month de-finalizes
// it: the committed chain no longer matches the stored rows, so the month
// and everything after it go stale and a recalculation is requested.
func (s *Session) Save(ctx context.Context) error {
	if s.state != StateEditing {
		return fmt.Errorf("%w: save from %s", ErrInvalidTransition, s.state)
	}
	s.applyDrafts()
	wasFinalized := s.month.AllocationsFinalized
	s.month.AllocationsFinalized = false
	if err := s.store.WriteMonths(ctx, []*core.Month{s.month}); err != nil {
		return fmt.Errorf("save allocations: %w", err)
	}
	if wasFinalized {
		if err := s.markStaleAndRequest(ctx); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "Allocations saved",
		"budget_id", s.budget.ID, "month", s.month.Ordinal().String())
	s.state = StateSavedUnfinalized
	return nil
}

// Finalize commits the current draft or saved allocations as authoritative,
// marks the month finalized, flags this and every later month stale, and
// requests the downstream recalculation.
func (s *Session) Finalize(ctx context.Context) error {
	if s.state != StateEditing && s.state != StateSavedUnfinalized {
		return fmt.Errorf("%w: finalize from %s", ErrInvalidTransition, s.state)
	}
	if s.state == StateEditing {
		s.applyDrafts()
	}
	s.month.AllocationsFinalized = true
	if err := s.store.WriteMonths(ctx, []*core.Month{s.month}); err != nil {
		return fmt.Errorf("finalize allocations: %w", err)
	}
	if err := s.markStaleAndRequest(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Allocations finalized",
		"budget_id", s.budget.ID, "month", s.month.Ordinal().String())
	s.state = StateFinalized
	s.drafts = make(map[string]decimal.Decimal)
	return nil
}

// Delete clears every allocation for the month and flags it stale. The
// confirmation step lives at the UI boundary, not here.
func (s *Session) Delete(ctx context.Context) error {
	for id, row := range s.month.CategoryRows {
		row.Allocated = decimal.Zero
		row.EndBalance = balance.ComputeEndBalance(row)
		s.month.CategoryRows[id] = row
	}
	s.month.AllocationsFinalized = false
	if err := s.store.WriteMonths(ctx, []*core.Month{s.month}); err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	if err := s.markStaleAndRequest(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Allocations deleted",
		"budget_id", s.budget.ID, "month", s.month.Ordinal().String())
	s.drafts = make(map[string]decimal.Decimal)
	s.state = StateSavedUnfinalized
	return nil
}

// applyDrafts writes the resolved allocation per category into the month's
// rows, creating rows for categories allocated for the first time.
func (s *Session) applyDrafts() {
	if s.month.CategoryRows == nil {
		s.month.CategoryRows = make(map[string]core.CategoryRow)
	}
	for _, id := range s.categoryIDs() {
		cat := s.budget.Categories[id]
		row, ok := s.month.CategoryRows[id]
		if !ok {
			row = core.CategoryRow{CategoryID: id}
		}
		row.Allocated = s.resolvedAllocation(cat, row)
		row.EndBalance = balance.ComputeEndBalance(row)
		s.month.CategoryRows[id] = row
	}
}

func (s *Session) resolvedAllocation(cat core.Category, row core.CategoryRow) decimal.Decimal {
	if typed, ok := s.drafts[cat.ID]; ok {
		return typed
	}
	return balance.DeriveAllocationAmount(cat, s.windowIncome, row.Allocated)
}

func (s *Session) markStaleAndRequest(ctx context.Context) error {
	ord := s.month.Ordinal()
	s.budget.MarkStaleFrom(ord)
	if err := s.store.WriteBudget(ctx, s.budget); err != nil {
		return fmt.Errorf("mark months stale: %w", err)
	}
	if s.requester == nil {
		slog.WarnContext(ctx, "No recalculation requester configured, months stay stale",
			"budget_id", s.budget.ID, "month", ord.String())
		return nil
	}
	if err := s.requester.RequestRecalculation(ctx, s.budget.ID, ord); err != nil {
		// The flags are already persisted; the next opportunistic run
		// will pick the months up.
		slog.ErrorContext(ctx, "Failed to request recalculation",
			"budget_id", s.budget.ID, "month", ord.String(), "error", err)
	}
	return nil
}

// AvailableNow is what there was to allocate before this session's edits.
func (s *Session) AvailableNow() decimal.Decimal {
	return s.availableNow
}

// CurrentDraftTotal sums the pending draft allocations, resolving
// percentage and fixed rules for categories the user has not typed over.
func (s *Session) CurrentDraftTotal() decimal.Decimal {
	total := decimal.Zero
	for _, id := range s.categoryIDs() {
		cat := s.budget.Categories[id]
		total = total.Add(s.resolvedAllocation(cat, s.month.CategoryRows[id]))
	}
	return core.Round2(total)
}

// DraftChangeAmount is the draft total minus the previously saved total.
func (s *Session) DraftChangeAmount() decimal.Decimal {
	return core.Round2(s.CurrentDraftTotal().Sub(s.month.AllocatedTotal()))
}

// AvailableAfterApply previews the available figure once the drafts apply.
func (s *Session) AvailableAfterApply() decimal.Decimal {
	return core.Round2(s.availableNow.Sub(s.DraftChangeAmount()))
}

func (s *Session) categoryIDs() []string {
	ids := make([]string, 0, len(s.budget.Categories))
	for id := range s.budget.Categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
