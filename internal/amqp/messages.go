package amqp

import "time"

// RecalculationRequested asks the worker to bring a budget's months back in
// agreement with the chain invariant. TriggeringOrdinal is the month the
// mutation touched; the orchestrator still starts no later than the
// earliest stale month.
type RecalculationRequested struct {
	BudgetID          string    `json:"budget_id"`
	TriggeringOrdinal int       `json:"triggering_ordinal"`
	Timestamp         time.Time `json:"timestamp"`
}
