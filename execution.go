package skillchain

import (
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new prefixed UUID for execution identification
func NewExecutionID() string {
	return newID("exec")
}

// NewChainID returns a new prefixed UUID for chain identification
func NewChainID() string {
	return newID("chain")
}

// NewAttemptID returns a new prefixed UUID for link attempt identification
func NewAttemptID() string {
	return newID("attempt")
}

// NewCheckpointID returns a new prefixed UUID for checkpoint identification
func NewCheckpointID() string {
	return newID("chk")
}

func newID(prefix string) string {
	id, err := typeid.WithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusCancelled
}

// OutcomeStatus represents the outcome of one link attempt. Success, Failure,
// and Skipped are terminal; Pending marks the active attempt.
type OutcomeStatus string

const (
	OutcomePending OutcomeStatus = "pending"
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Terminal reports whether the outcome is final for an attempt.
func (o OutcomeStatus) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeSkipped
}

// LinkExecution is one attempt of one link within one execution. This struct
// is designed to be fully JSON serializable.
type LinkExecution struct {
	ID              string         `json:"id"`
	LinkID          string         `json:"link_id"`
	AttemptNumber   int            `json:"attempt_number"`
	Outcome         OutcomeStatus  `json:"outcome"`
	TransitionTaken TransitionType `json:"transition_taken,omitempty"`
	Output          string         `json:"output,omitempty"`
	ErrorDetails    string         `json:"error_details,omitempty"`
	ExecutedBy      string         `json:"executed_by,omitempty"`
	StartedAt       time.Time      `json:"started_at,omitzero"`
	CompletedAt     time.Time      `json:"completed_at,omitzero"`
}

// Copy returns a shallow copy of the attempt.
func (a *LinkExecution) Copy() *LinkExecution {
	dup := *a
	return &dup
}

// Checkpoint is an immutable snapshot created after a successful link
// attempt, holding a small structured blob distilled from the link's raw
// output. The checkpoint with the greatest position is the resume point.
type Checkpoint struct {
	ID        string         `json:"id"`
	LinkID    string         `json:"link_id"`
	LinkName  string         `json:"link_name"`
	Position  int            `json:"position"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Copy returns a copy of the checkpoint with its own data map.
func (c *Checkpoint) Copy() *Checkpoint {
	dup := *c
	dup.Data = copyMap(c.Data)
	return &dup
}

// SessionConfig configures session-state synchronization for one execution.
// Each flag is evaluated independently at its lifecycle event.
type SessionConfig struct {
	SessionID              string `json:"session_id"`
	ExpiresInHours         int    `json:"expires_in_hours,omitempty"`
	AutoSaveOnLinkComplete bool   `json:"auto_save_on_link_complete,omitempty"`
	AutoLoadOnStart        bool   `json:"auto_load_on_start,omitempty"`
	AutoClearOnComplete    bool   `json:"auto_clear_on_complete,omitempty"`
	AutoSaveOnPause        bool   `json:"auto_save_on_pause,omitempty"`
	AutoSaveOnCancel       bool   `json:"auto_save_on_cancel,omitempty"`
}

// ResumptionHint carries prior session state loaded at start time. It is
// informational context for the first link's invocation and never changes
// engine state.
type ResumptionHint struct {
	SessionID      string         `json:"session_id"`
	Phase          WorkflowPhase  `json:"phase,omitempty"`
	WorkingSummary string         `json:"working_summary,omitempty"`
	Checkpoint     map[string]any `json:"checkpoint,omitempty"`
}

// ExecutionContext is the typed execution context carried by an execution:
// session-sync configuration, an optional resumption hint, and merged
// transient data (start inputs, resume merges, intervention merges).
type ExecutionContext struct {
	SessionConfig *SessionConfig  `json:"session_config,omitempty"`
	ResumedFrom   *ResumptionHint `json:"resumed_from,omitempty"`
	Merged        map[string]any  `json:"merged,omitempty"`
}

// Copy returns a deep-enough copy of the context for aggregate snapshots.
func (c *ExecutionContext) Copy() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := &ExecutionContext{Merged: copyMap(c.Merged)}
	if c.SessionConfig != nil {
		cfg := *c.SessionConfig
		dup.SessionConfig = &cfg
	}
	if c.ResumedFrom != nil {
		hint := *c.ResumedFrom
		hint.Checkpoint = copyMap(c.ResumedFrom.Checkpoint)
		dup.ResumedFrom = &hint
	}
	return dup
}

// MergeContext merges values into the transient context data. Incoming keys
// win on conflict.
func (c *ExecutionContext) MergeContext(values map[string]any) {
	if len(values) == 0 {
		return
	}
	if c.Merged == nil {
		c.Merged = map[string]any{}
	}
	for k, v := range values {
		c.Merged[k] = v
	}
}

// Execution is one run of a chain. The engine reads the full aggregate
// (attempts and checkpoints included), mutates it, and persists it as one
// unit per operation; Revision guards against concurrent writers.
type Execution struct {
	ID                        string            `json:"id"`
	ChainID                   string            `json:"chain_id"`
	ChainName                 string            `json:"chain_name"`
	TicketID                  string            `json:"ticket_id,omitempty"`
	Status                    ExecutionStatus   `json:"status"`
	CurrentLinkID             string            `json:"current_link_id,omitempty"`
	TotalFailureCount         int               `json:"total_failure_count"`
	RequiresHumanIntervention bool              `json:"requires_human_intervention"`
	InterventionReason        string            `json:"intervention_reason,omitempty"`
	PauseReason               string            `json:"pause_reason,omitempty"`
	PausedBy                  string            `json:"paused_by,omitempty"`
	CancelReason              string            `json:"cancel_reason,omitempty"`
	StartedBy                 string            `json:"started_by,omitempty"`
	CompletedBy               string            `json:"completed_by,omitempty"`
	StartedAt                 time.Time         `json:"started_at,omitzero"`
	CompletedAt               time.Time         `json:"completed_at,omitzero"`
	Context                   *ExecutionContext `json:"context,omitempty"`
	Attempts                  []*LinkExecution  `json:"attempts"`
	Checkpoints               []*Checkpoint     `json:"checkpoints"`
	Revision                  int64             `json:"revision"`
}

// Copy returns a deep copy of the execution aggregate.
func (e *Execution) Copy() *Execution {
	dup := *e
	dup.Context = e.Context.Copy()
	dup.Attempts = make([]*LinkExecution, len(e.Attempts))
	for i, a := range e.Attempts {
		dup.Attempts[i] = a.Copy()
	}
	dup.Checkpoints = make([]*Checkpoint, len(e.Checkpoints))
	for i, c := range e.Checkpoints {
		dup.Checkpoints[i] = c.Copy()
	}
	return &dup
}

// PendingAttempt returns the active attempt for a link: the attempt with the
// highest attempt number whose outcome is still Pending. At most one such
// attempt exists per (execution, link).
func (e *Execution) PendingAttempt(linkID string) *LinkExecution {
	var pending *LinkExecution
	for _, a := range e.Attempts {
		if a.LinkID != linkID || a.Outcome != OutcomePending {
			continue
		}
		if pending == nil || a.AttemptNumber > pending.AttemptNumber {
			pending = a
		}
	}
	return pending
}

// AttemptCount returns how many attempts exist for a link across the whole
// execution, terminal or not.
func (e *Execution) AttemptCount(linkID string) int {
	count := 0
	for _, a := range e.Attempts {
		if a.LinkID == linkID {
			count++
		}
	}
	return count
}

// LatestAttempt returns the attempt with the highest attempt number for a
// link, or nil if the link was never attempted.
func (e *Execution) LatestAttempt(linkID string) *LinkExecution {
	var latest *LinkExecution
	for _, a := range e.Attempts {
		if a.LinkID != linkID {
			continue
		}
		if latest == nil || a.AttemptNumber > latest.AttemptNumber {
			latest = a
		}
	}
	return latest
}

// LatestCheckpoint returns the checkpoint with the greatest position, or nil
// if no link has succeeded yet. A link revisited through a GoToLink loop can
// succeed more than once at the same position; the most recently created
// snapshot wins the tie.
func (e *Execution) LatestCheckpoint() *Checkpoint {
	var latest *Checkpoint
	for _, c := range e.Checkpoints {
		if latest == nil || c.Position > latest.Position {
			latest = c
		} else if c.Position == latest.Position && !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	return latest
}

// RecentCompletedAttempts returns up to n terminal attempts, most recently
// completed first.
func (e *Execution) RecentCompletedAttempts(n int) []*LinkExecution {
	var completed []*LinkExecution
	for _, a := range e.Attempts {
		if a.Outcome.Terminal() {
			completed = append(completed, a)
		}
	}
	var recent []*LinkExecution
	for i := len(completed) - 1; i >= 0 && len(recent) < n; i-- {
		recent = append(recent, completed[i])
	}
	return recent
}

// newPendingAttempt appends a new pending attempt for a link. The attempt
// number continues from any prior attempts of the same link, so a link
// revisited through a GoToLink loop keeps an increasing attempt sequence.
func (e *Execution) newPendingAttempt(linkID string, now time.Time) *LinkExecution {
	attempt := &LinkExecution{
		ID:            NewAttemptID(),
		LinkID:        linkID,
		AttemptNumber: e.AttemptCount(linkID) + 1,
		Outcome:       OutcomePending,
		StartedAt:     now,
	}
	e.Attempts = append(e.Attempts, attempt)
	return attempt
}

// SessionConfig returns the session-sync configuration, or nil when session
// synchronization is disabled for this execution.
func (e *Execution) SessionConfig() *SessionConfig {
	if e.Context == nil {
		return nil
	}
	return e.Context.SessionConfig
}

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	dup := make(map[string]any, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}
