package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"envelope/internal/core"
	"envelope/internal/session"
)

// parseYearMonth extracts year and month from query parameters.
func parseYearMonth(r *http.Request) (year, month int, ok bool) {
	y := strings.TrimSpace(r.URL.Query().Get("year"))
	m := strings.TrimSpace(r.URL.Query().Get("month"))
	if y == "" || m == "" {
		return 0, 0, false
	}
	year, errY := strconv.Atoi(y)
	month, errM := strconv.Atoi(m)
	if errY != nil || errM != nil || month < 1 || month > 12 {
		return 0, 0, false
	}
	return year, month, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var validation *core.ValidationError
	var notFound *core.NotFoundError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody(validation.Error()))
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody(notFound.Error()))
	case errors.Is(err, core.ErrBudgetNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, session.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		slog.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
