// Package http is the thin operation surface over the engine: everything a
// form or script can do maps onto one of these endpoints, which call into
// the budget service like any other mutation source.
package http

import (
	"log/slog"
	"net/http"
	"time"

	applog "envelope/internal/log"
	"envelope/internal/services"
)

// NewServer wires the routes and returns a configured *http.Server.
func NewServer(addr string, service *services.BudgetService) *http.Server {
	h := &handlers{service: service}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /api/budgets/{budget}", h.getBudget)
	mux.HandleFunc("GET /api/budgets/{budget}/months", h.getMonth)
	mux.HandleFunc("POST /api/budgets/{budget}/recalculate", h.recalculate)
	mux.HandleFunc("POST /api/budgets/{budget}/expenses", h.recordExpense)
	mux.HandleFunc("POST /api/budgets/{budget}/income", h.recordIncome)
	mux.HandleFunc("POST /api/budgets/{budget}/allocations/save", h.saveAllocations)
	mux.HandleFunc("POST /api/budgets/{budget}/allocations/finalize", h.finalizeAllocations)
	mux.HandleFunc("POST /api/budgets/{budget}/allocations/delete", h.deleteAllocations)

	return &http.Server{
		Addr:           addr,
		Handler:        requestLogging(mux),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.InfoContext(r.Context(), "Request handled",
			applog.FieldComponent, applog.ComponentHTTP,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldDuration, time.Since(start).Milliseconds())
	})
}
