package skillchain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileExecutionStore is a file-based ExecutionStore that persists each
// execution aggregate as a JSON file under a data directory. It is intended
// for single-process use (the CLI); the mutex provides the per-execution
// read-modify-write atomicity the engine expects.
type FileExecutionStore struct {
	dataDir string
	mutex   sync.Mutex
}

// NewFileExecutionStore creates a new file-based execution store
func NewFileExecutionStore(dataDir string) (*FileExecutionStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".skillchain", "executions")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileExecutionStore{dataDir: dataDir}, nil
}

func (s *FileExecutionStore) executionPath(executionID string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s.json", executionID))
}

func (s *FileExecutionStore) read(executionID string) (*Execution, error) {
	data, err := os.ReadFile(s.executionPath(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError("execution %q not found", executionID)
		}
		return nil, fmt.Errorf("failed to read execution file: %w", err)
	}
	var execution Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &execution, nil
}

func (s *FileExecutionStore) write(execution *Execution) error {
	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	if err := os.WriteFile(s.executionPath(execution.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write execution file: %w", err)
	}
	return nil
}

// CreateExecution stores a new execution aggregate
func (s *FileExecutionStore) CreateExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := os.Stat(s.executionPath(execution.ID)); err == nil {
		return NewConflictError("execution %q already exists", execution.ID)
	}
	execution.Revision = 1
	return s.write(execution)
}

// GetExecution loads the full aggregate for an execution
func (s *FileExecutionStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.read(executionID)
}

// UpdateExecution writes the aggregate back with a revision check
func (s *FileExecutionStore) UpdateExecution(ctx context.Context, execution *Execution) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, err := s.read(execution.ID)
	if err != nil {
		return err
	}
	if stored.Revision != execution.Revision {
		return NewConflictError("execution %q revision %d is stale (stored %d)",
			execution.ID, execution.Revision, stored.Revision)
	}
	execution.Revision++
	return s.write(execution)
}

// ListExecutions returns executions matching the filter, newest first
func (s *FileExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	var results []*Execution
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		execution, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip executions we can't read
			continue
		}
		if filter.Matches(execution) {
			results = append(results, execution)
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
