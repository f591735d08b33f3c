package skillchain

import (
	"context"
	"time"
)

// WorkflowPhase is the coarse phase of work an execution is in, persisted to
// session state so a resumed AI session knows where it left off.
type WorkflowPhase string

const (
	PhaseResearching  WorkflowPhase = "researching"
	PhasePlanning     WorkflowPhase = "planning"
	PhaseImplementing WorkflowPhase = "implementing"
	PhaseReviewing    WorkflowPhase = "reviewing"
	PhaseTesting      WorkflowPhase = "testing"
	PhaseFinalizing   WorkflowPhase = "finalizing"
)

// SessionState is a small external working-memory record keyed by an
// application-chosen session id: a phase, a bounded working summary, and an
// arbitrary checkpoint map. This struct is fully JSON serializable.
type SessionState struct {
	SessionID      string         `json:"session_id"`
	TicketID       string         `json:"ticket_id,omitempty"`
	CurrentPhase   WorkflowPhase  `json:"current_phase"`
	WorkingSummary string         `json:"working_summary"`
	Checkpoint     map[string]any `json:"checkpoint,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ExpiresAt      time.Time      `json:"expires_at,omitzero"`
}

// Expired reports whether the record is past its expiry at the given time.
func (s *SessionState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Copy returns a copy of the session state with its own checkpoint map.
func (s *SessionState) Copy() *SessionState {
	dup := *s
	dup.Checkpoint = copyMap(s.Checkpoint)
	return &dup
}

// SessionStore is the external session-state contract. The engine only calls
// Save, Load, and Clear; expiry sweeping belongs to the store's owner.
type SessionStore interface {
	// Save creates or replaces the session record and returns the stored state
	Save(ctx context.Context, state *SessionState) (*SessionState, error)

	// Load returns the session record, or nil when it is absent or expired
	Load(ctx context.Context, sessionID string) (*SessionState, error)

	// Clear removes the session record, reporting whether one existed
	Clear(ctx context.Context, sessionID string) (bool, error)

	// CleanupExpired removes expired records and returns how many were removed
	CleanupExpired(ctx context.Context) (int, error)
}

// NullSessionStore is a SessionStore that stores nothing. It is the default
// when an engine is built without session synchronization.
type NullSessionStore struct{}

// NewNullSessionStore creates a new no-op session store
func NewNullSessionStore() *NullSessionStore {
	return &NullSessionStore{}
}

func (s *NullSessionStore) Save(ctx context.Context, state *SessionState) (*SessionState, error) {
	return state, nil
}

func (s *NullSessionStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	return nil, nil
}

func (s *NullSessionStore) Clear(ctx context.Context, sessionID string) (bool, error) {
	return false, nil
}

func (s *NullSessionStore) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}
