// Package memory collects snapshots in memory; used in tests and when no
// spreadsheet is configured.
package memory

import (
	"context"
	"sync"

	"envelope/internal/export"
)

type Writer struct {
	mu        sync.Mutex
	summaries []export.MonthSummary
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) AppendMonthSummary(_ context.Context, s export.MonthSummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summaries = append(w.summaries, s)
	return nil
}

// Summaries returns a copy of everything appended so far.
func (w *Writer) Summaries() []export.MonthSummary {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]export.MonthSummary, len(w.summaries))
	copy(out, w.summaries)
	return out
}
