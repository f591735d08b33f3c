package skillchain

import (
	"context"
)

// ExecutionFilter narrows ListExecutions results. Zero values match
// everything.
type ExecutionFilter struct {
	ChainID              string
	TicketID             string
	Status               ExecutionStatus
	RequiresIntervention *bool
	Limit                int
}

// Matches reports whether an execution satisfies the filter.
func (f ExecutionFilter) Matches(execution *Execution) bool {
	if f.ChainID != "" && execution.ChainID != f.ChainID {
		return false
	}
	if f.TicketID != "" && execution.TicketID != f.TicketID {
		return false
	}
	if f.Status != "" && execution.Status != f.Status {
		return false
	}
	if f.RequiresIntervention != nil && execution.RequiresHumanIntervention != *f.RequiresIntervention {
		return false
	}
	return true
}

// ExecutionStore persists execution aggregates. Each engine operation reads
// the full aggregate, mutates it, and writes it back as one unit.
// UpdateExecution must reject writes whose revision does not match the stored
// revision, so two racing operations cannot both apply.
type ExecutionStore interface {
	// CreateExecution stores a new execution aggregate
	CreateExecution(ctx context.Context, execution *Execution) error

	// GetExecution loads the full aggregate for an execution
	GetExecution(ctx context.Context, executionID string) (*Execution, error)

	// UpdateExecution writes the aggregate back. The revision on the given
	// execution must equal the stored revision; on success the stored
	// revision is incremented.
	UpdateExecution(ctx context.Context, execution *Execution) error

	// ListExecutions returns executions matching the filter, most recently
	// started first.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
}
