package skillchain

import (
	"context"
	"time"
)

// OutcomeLogEntry represents a single recorded link outcome in the audit log
type OutcomeLogEntry struct {
	ExecutionID   string         `json:"execution_id"`
	LinkID        string         `json:"link_id"`
	LinkName      string         `json:"link_name"`
	AttemptNumber int            `json:"attempt_number"`
	Outcome       OutcomeStatus  `json:"outcome"`
	Transition    TransitionType `json:"transition,omitempty"`
	Output        string         `json:"output,omitempty"`
	ErrorDetails  string         `json:"error_details,omitempty"`
	ExecutedBy    string         `json:"executed_by,omitempty"`
	RecordedAt    time.Time      `json:"recorded_at"`
	Duration      float64        `json:"duration"`
}

// OutcomeLogger defines the append-only outcome audit interface
type OutcomeLogger interface {
	// LogOutcome logs a terminal link outcome
	LogOutcome(ctx context.Context, entry *OutcomeLogEntry) error

	// GetOutcomeHistory retrieves the outcome log for an execution
	GetOutcomeHistory(ctx context.Context, executionID string) ([]*OutcomeLogEntry, error)
}
