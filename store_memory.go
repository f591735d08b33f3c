package skillchain

import (
	"context"
	"sort"
	"sync"
)

// MemoryExecutionStore is an in-memory ExecutionStore. It enforces the same
// revision checks as the durable stores, so engine tests exercise the real
// write path.
type MemoryExecutionStore struct {
	mutex      sync.Mutex
	executions map[string]*Execution
}

// NewMemoryExecutionStore creates an empty in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: map[string]*Execution{}}
}

// CreateExecution stores a new execution aggregate
func (s *MemoryExecutionStore) CreateExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return NewConflictError("execution %q already exists", execution.ID)
	}
	execution.Revision = 1
	s.executions[execution.ID] = execution.Copy()
	return nil
}

// GetExecution loads the full aggregate for an execution
func (s *MemoryExecutionStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return nil, NewNotFoundError("execution %q not found", executionID)
	}
	return execution.Copy(), nil
}

// UpdateExecution writes the aggregate back with a revision check
func (s *MemoryExecutionStore) UpdateExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.executions[execution.ID]
	if !ok {
		return NewNotFoundError("execution %q not found", execution.ID)
	}
	if stored.Revision != execution.Revision {
		return NewConflictError("execution %q revision %d is stale (stored %d)",
			execution.ID, execution.Revision, stored.Revision)
	}
	execution.Revision++
	s.executions[execution.ID] = execution.Copy()
	return nil
}

// ListExecutions returns executions matching the filter, newest first
func (s *MemoryExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var results []*Execution
	for _, execution := range s.executions {
		if filter.Matches(execution) {
			results = append(results, execution.Copy())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}
