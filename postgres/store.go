// Package postgres provides PostgreSQL-backed implementations of the
// skillchain execution and session stores. Each aggregate is stored as one
// JSONB document with the filterable columns lifted out, so an engine
// operation remains a single read-modify-write per execution.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/hatchery-ai/skillchain"
)

const schema = `
CREATE TABLE IF NOT EXISTS chain_executions (
	id                    TEXT PRIMARY KEY,
	chain_id              TEXT NOT NULL,
	ticket_id             TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	requires_intervention BOOLEAN NOT NULL DEFAULT FALSE,
	started_at            TIMESTAMPTZ NOT NULL,
	revision              BIGINT NOT NULL,
	data                  JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS chain_executions_intervention_idx
	ON chain_executions (status, requires_intervention, started_at DESC);

CREATE TABLE IF NOT EXISTS session_states (
	session_id TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ,
	data       JSONB NOT NULL
);
`

// Open opens a database handle for the given connection string and verifies
// connectivity.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Store implements skillchain.ExecutionStore and skillchain.SessionStore on
// top of PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Bootstrap creates the store's tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateExecution stores a new execution aggregate
func (s *Store) CreateExecution(ctx context.Context, execution *skillchain.Execution) error {
	execution.Revision = 1
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chain_executions (id, chain_id, ticket_id, status, requires_intervention, started_at, revision, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		execution.ID, execution.ChainID, execution.TicketID, execution.Status,
		execution.RequiresHumanIntervention, execution.StartedAt, execution.Revision, data)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// GetExecution loads the full aggregate for an execution
func (s *Store) GetExecution(ctx context.Context, executionID string) (*skillchain.Execution, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM chain_executions WHERE id = $1`, executionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, skillchain.NewNotFoundError("execution %q not found", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	var execution skillchain.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &execution, nil
}

// UpdateExecution writes the aggregate back with a revision guard in the
// UPDATE itself, so two racing writers cannot both apply.
func (s *Store) UpdateExecution(ctx context.Context, execution *skillchain.Execution) error {
	priorRevision := execution.Revision
	execution.Revision++
	data, err := json.Marshal(execution)
	if err != nil {
		execution.Revision = priorRevision
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE chain_executions
		 SET chain_id = $2, ticket_id = $3, status = $4, requires_intervention = $5,
		     started_at = $6, revision = $7, data = $8
		 WHERE id = $1 AND revision = $9`,
		execution.ID, execution.ChainID, execution.TicketID, execution.Status,
		execution.RequiresHumanIntervention, execution.StartedAt,
		execution.Revision, data, priorRevision)
	if err != nil {
		execution.Revision = priorRevision
		return fmt.Errorf("failed to update execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		execution.Revision = priorRevision
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		execution.Revision = priorRevision
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM chain_executions WHERE id = $1)`,
			execution.ID).Scan(&exists); err == nil && !exists {
			return skillchain.NewNotFoundError("execution %q not found", execution.ID)
		}
		return skillchain.NewConflictError("execution %q revision %d is stale", execution.ID, priorRevision)
	}
	return nil
}

// ListExecutions returns executions matching the filter, newest first
func (s *Store) ListExecutions(ctx context.Context, filter skillchain.ExecutionFilter) ([]*skillchain.Execution, error) {
	query := `SELECT data FROM chain_executions WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ChainID != "" {
		query += ` AND chain_id = ` + arg(filter.ChainID)
	}
	if filter.TicketID != "" {
		query += ` AND ticket_id = ` + arg(filter.TicketID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.RequiresIntervention != nil {
		query += ` AND requires_intervention = ` + arg(*filter.RequiresIntervention)
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*skillchain.Execution
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		var execution skillchain.Execution
		if err := json.Unmarshal(data, &execution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		executions = append(executions, &execution)
	}
	return executions, rows.Err()
}

// Save creates or replaces the session record
func (s *Store) Save(ctx context.Context, state *skillchain.SessionState) (*skillchain.SessionState, error) {
	stored := state.Copy()
	stored.UpdatedAt = time.Now()
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session state: %w", err)
	}
	var expiresAt any
	if !stored.ExpiresAt.IsZero() {
		expiresAt = stored.ExpiresAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_states (session_id, expires_at, data)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET expires_at = $2, data = $3`,
		stored.SessionID, expiresAt, data)
	if err != nil {
		return nil, fmt.Errorf("failed to save session state: %w", err)
	}
	return stored, nil
}

// Load returns the session record, or nil when absent or expired
func (s *Store) Load(ctx context.Context, sessionID string) (*skillchain.SessionState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM session_states WHERE session_id = $1`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session state: %w", err)
	}
	var state skillchain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	if state.Expired(time.Now()) {
		return nil, nil
	}
	return &state, nil
}

// Clear removes the session record
func (s *Store) Clear(ctx context.Context, sessionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM session_states WHERE session_id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to clear session state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// CleanupExpired removes expired records
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM session_states WHERE expires_at IS NOT NULL AND expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return int(affected), nil
}
