package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"envelope/internal/balance"
	"envelope/internal/core"
	"envelope/internal/recalc"
	"envelope/internal/services"
	"envelope/internal/session"
)

type handlers struct {
	service *services.BudgetService
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) getBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBudget(r.Context(), r.PathValue("budget"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// getMonth returns the month's rows through the live balance projector.
// With ?draft=true the allocations are re-resolved from the categories'
// default rules so the UI can preview an unsaved month.
func (h *handlers) getMonth(w http.ResponseWriter, r *http.Request) {
	budgetID := r.PathValue("budget")
	year, month, ok := parseYearMonth(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("year and month query parameters required"))
		return
	}

	b, err := h.service.GetBudget(r.Context(), budgetID)
	if err != nil {
		writeError(w, err)
		return
	}
	ordinal := core.OrdinalOf(year, month)
	m, err := h.service.GetMonth(r.Context(), budgetID, ordinal)
	if err != nil {
		writeError(w, err)
		return
	}

	var windowIncome decimal.Decimal
	draft := r.URL.Query().Get("draft") == "true"
	if draft {
		windowIncome, err = h.service.WindowIncome(r.Context(), b, ordinal)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	rows := balance.Project(balance.ProjectorInput{
		Month:        m,
		Categories:   b.Categories,
		DraftMode:    draft,
		WindowIncome: windowIncome,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"year":  year,
		"month": month,
		"rows":  rows,
	})
}

func (h *handlers) recalculate(w http.ResponseWriter, r *http.Request) {
	budgetID := r.PathValue("budget")

	var opts recalc.Options
	var body struct {
		TriggeringOrdinal *int `json:"triggering_ordinal"`
	}
	if r.Body != nil {
		// Body is optional; a bare POST recalculates from the earliest
		// stale month.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.TriggeringOrdinal != nil {
		ord := core.Ordinal(*body.TriggeringOrdinal)
		opts.TriggeringOrdinal = &ord
	}

	result, err := h.service.TriggerRecalculation(r.Context(), budgetID, opts)
	if errors.Is(err, recalc.ErrRunInFlight) {
		writeJSON(w, http.StatusConflict, errorBody("recalculation already in flight"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type entryRequest struct {
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	AccountID  string `json:"account_id"`
	CategoryID string `json:"category_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo"`
}

func (h *handlers) recordExpense(w http.ResponseWriter, r *http.Request) {
	h.recordEntry(w, r, false)
}

func (h *handlers) recordIncome(w http.ResponseWriter, r *http.Request) {
	h.recordEntry(w, r, true)
}

func (h *handlers) recordEntry(w http.ResponseWriter, r *http.Request, income bool) {
	budgetID := r.PathValue("budget")
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	entry := core.CashEntry{
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
		Amount:     amount,
		Memo:       req.Memo,
	}
	var id string
	if income {
		id, err = h.service.RecordIncome(r.Context(), budgetID, req.Year, req.Month, entry)
	} else {
		id, err = h.service.RecordExpense(r.Context(), budgetID, req.Year, req.Month, entry)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type allocationsRequest struct {
	Year    int               `json:"year"`
	Month   int               `json:"month"`
	Amounts map[string]string `json:"amounts"`
}

func (h *handlers) saveAllocations(w http.ResponseWriter, r *http.Request) {
	h.applyAllocations(w, r, func(ctx *http.Request, s *session.Session) error {
		return s.Save(ctx.Context())
	})
}

func (h *handlers) finalizeAllocations(w http.ResponseWriter, r *http.Request) {
	h.applyAllocations(w, r, func(ctx *http.Request, s *session.Session) error {
		return s.Finalize(ctx.Context())
	})
}

// applyAllocations maps the stateless HTTP surface onto the session state
// machine: open, edit, set the typed amounts, then commit one way or the
// other.
func (h *handlers) applyAllocations(w http.ResponseWriter, r *http.Request, commit func(*http.Request, *session.Session) error) {
	budgetID := r.PathValue("budget")
	var req allocationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}

	s, err := h.service.OpenAllocationSession(r.Context(), budgetID, req.Year, req.Month)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Edit(); err != nil {
		writeError(w, err)
		return
	}
	for categoryID, text := range req.Amounts {
		if err := s.SetDraft(categoryID, text); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := commit(r, s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":                 string(s.State()),
		"available_now":         s.AvailableNow(),
		"draft_change":          s.DraftChangeAmount(),
		"available_after_apply": s.AvailableAfterApply(),
	})
}

func (h *handlers) deleteAllocations(w http.ResponseWriter, r *http.Request) {
	budgetID := r.PathValue("budget")
	var req allocationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return
	}
	s, err := h.service.OpenAllocationSession(r.Context(), budgetID, req.Year, req.Month)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Delete(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.State())})
}
