// Package memory is an in-memory document store used as the default backend
// for local development and by service and orchestrator tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"envelope/internal/core"
)

type Store struct {
	mu      sync.RWMutex
	budgets map[string][]byte
	months  map[string][]byte

	// FailWrites makes every write return a persistence error; tests use
	// it to exercise abort-and-retry semantics.
	FailWrites bool
}

func NewStore() *Store {
	return &Store{
		budgets: make(map[string][]byte),
		months:  make(map[string][]byte),
	}
}

func monthKey(budgetID string, ordinal core.Ordinal) string {
	return fmt.Sprintf("%s/%d", budgetID, int(ordinal))
}

func (s *Store) ReadMonth(_ context.Context, budgetID string, ordinal core.Ordinal) (*core.Month, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.months[monthKey(budgetID, ordinal)]
	if !ok {
		return nil, nil
	}
	var m core.Month
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, &core.PersistenceError{Op: "decode month", Err: err}
	}
	return &m, nil
}

func (s *Store) WriteMonths(_ context.Context, months []*core.Month) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return &core.PersistenceError{Op: "write months", Err: fmt.Errorf("writes disabled")}
	}
	for _, m := range months {
		doc, err := json.Marshal(m)
		if err != nil {
			return &core.PersistenceError{Op: "encode month", Err: err}
		}
		s.months[monthKey(m.BudgetID, m.Ordinal())] = doc
	}
	return nil
}

func (s *Store) ReadBudget(_ context.Context, budgetID string) (*core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.budgets[budgetID]
	if !ok {
		return nil, core.ErrBudgetNotFound
	}
	var b core.Budget
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, &core.PersistenceError{Op: "decode budget", Err: err}
	}
	return &b, nil
}

func (s *Store) WriteBudget(_ context.Context, b *core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return &core.PersistenceError{Op: "write budget", Err: fmt.Errorf("writes disabled")}
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return &core.PersistenceError{Op: "encode budget", Err: err}
	}
	s.budgets[b.ID] = doc
	return nil
}
