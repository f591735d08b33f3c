package skillchain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// EngineOptions configures a new engine
type EngineOptions struct {
	Chains        ChainProvider
	Store         ExecutionStore
	Sessions      SessionStore
	OutcomeLogger OutcomeLogger
	Callbacks     ExecutionCallbacks
	Logger        *slog.Logger
}

// Engine runs instances of chain definitions to completion, one explicit
// call at a time: start, record outcome, advance, pause/resume/cancel. It
// never progresses on its own between calls; there is no scheduler loop.
type Engine struct {
	chains    ChainProvider
	store     ExecutionStore
	sessions  SessionStore
	outcomes  OutcomeLogger
	callbacks ExecutionCallbacks
	logger    *slog.Logger
}

// NewEngine creates a new execution engine
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Chains == nil {
		return nil, fmt.Errorf("chain provider is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if opts.Sessions == nil {
		opts.Sessions = NewNullSessionStore()
	}
	if opts.OutcomeLogger == nil {
		opts.OutcomeLogger = NewNullOutcomeLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		chains:    opts.Chains,
		store:     opts.Store,
		sessions:  opts.Sessions,
		outcomes:  opts.OutcomeLogger,
		callbacks: opts.Callbacks,
		logger:    opts.Logger,
	}, nil
}

// StartOptions configures a new execution
type StartOptions struct {
	ChainID     string
	TicketID    string
	Inputs      map[string]any
	Session     *SessionConfig
	StartedBy   string
	ExecutionID string
}

// StartExecution creates a Running execution positioned at the chain's first
// link, with one pending attempt. The chain must be published and non-empty.
func (e *Engine) StartExecution(ctx context.Context, opts StartOptions) (*Execution, error) {
	chain, err := e.chains.GetChain(ctx, opts.ChainID)
	if err != nil {
		return nil, err
	}
	if !chain.Published() {
		return nil, NewInvalidOperationError("chain %q is not published", chain.Name())
	}
	if len(chain.Links()) == 0 {
		return nil, NewInvalidOperationError("chain %q has no links", chain.Name())
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = NewExecutionID()
	}

	now := time.Now()
	execution := &Execution{
		ID:            opts.ExecutionID,
		ChainID:       chain.ID(),
		ChainName:     chain.Name(),
		TicketID:      opts.TicketID,
		Status:        ExecutionStatusRunning,
		CurrentLinkID: chain.FirstLink().ID,
		StartedBy:     opts.StartedBy,
		StartedAt:     now,
		Context: &ExecutionContext{
			SessionConfig: opts.Session,
			Merged:        copyMap(opts.Inputs),
		},
	}
	execution.newPendingAttempt(execution.CurrentLinkID, now)

	// Prior session state is resumption context only; it never changes what
	// the engine does next.
	if opts.Session != nil && opts.Session.AutoLoadOnStart && opts.Session.SessionID != "" {
		prior, err := e.sessions.Load(ctx, opts.Session.SessionID)
		if err != nil {
			e.logger.Warn("failed to load prior session state",
				"session_id", opts.Session.SessionID, "error", err)
		} else if prior != nil {
			execution.Context.ResumedFrom = &ResumptionHint{
				SessionID:      prior.SessionID,
				Phase:          prior.CurrentPhase,
				WorkingSummary: prior.WorkingSummary,
				Checkpoint:     copyMap(prior.Checkpoint),
			}
		}
	}

	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	logger := e.logger.With("execution_id", execution.ID)
	logger.Info("execution started",
		"chain", chain.Name(),
		"current_link", execution.CurrentLinkID,
		"started_by", opts.StartedBy)

	e.callbacks.OnExecutionStarted(ctx, &ExecutionEvent{
		ExecutionID:   execution.ID,
		ChainID:       execution.ChainID,
		ChainName:     execution.ChainName,
		TicketID:      execution.TicketID,
		Status:        execution.Status,
		CurrentLinkID: execution.CurrentLinkID,
		StartedAt:     execution.StartedAt,
	})

	// Initial snapshot so a watcher sees the execution immediately
	e.syncSessionState(ctx, chain, execution, sessionEventLinkComplete)

	return execution, nil
}

// GetExecution loads the full execution aggregate.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	return e.store.GetExecution(ctx, executionID)
}

// GetLatestCheckpoint returns the checkpoint with the greatest position for
// an execution, or nil when no link has succeeded yet.
func (e *Engine) GetLatestCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error) {
	execution, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return execution.LatestCheckpoint(), nil
}

// OutcomeReport carries the result of one external link invocation back to
// the engine. The engine never invokes a skill itself.
type OutcomeReport struct {
	LinkID       string
	Outcome      OutcomeStatus
	Output       string
	ErrorDetails string
	ExecutedBy   string
}

// RecordLinkOutcome sets the terminal outcome of the active attempt for a
// link. A success creates a checkpoint; a failure counts toward the chain's
// failure limit and may force an escalation pause. The current link does not
// move until AdvanceExecution.
func (e *Engine) RecordLinkOutcome(ctx context.Context, executionID string, report OutcomeReport) (*LinkExecution, error) {
	if report.Outcome != OutcomeSuccess && report.Outcome != OutcomeFailure {
		return nil, NewInvalidOperationError("outcome must be success or failure, got %q", report.Outcome)
	}

	execution, chain, err := e.loadAggregate(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status != ExecutionStatusRunning {
		return nil, NewInvalidOperationError("cannot record outcome while execution is %s", execution.Status)
	}
	link, ok := chain.GetLink(report.LinkID)
	if !ok {
		return nil, NewInvalidOperationError("link %q not found in chain %q", report.LinkID, chain.Name())
	}
	attempt := execution.PendingAttempt(report.LinkID)
	if attempt == nil {
		return nil, NewInvalidOperationError("no pending attempt for link %q", link.Name)
	}

	now := time.Now()
	attempt.Outcome = report.Outcome
	attempt.Output = report.Output
	attempt.ErrorDetails = report.ErrorDetails
	attempt.ExecutedBy = report.ExecutedBy
	attempt.CompletedAt = now

	escalated := false
	if report.Outcome == OutcomeFailure {
		execution.TotalFailureCount++
		if execution.TotalFailureCount >= chain.MaxTotalFailures() {
			// The failure ceiling overrides whatever the link's own failure
			// transition would decide; Advance will see escalate-equivalent
			// state.
			execution.Status = ExecutionStatusPaused
			execution.RequiresHumanIntervention = true
			execution.InterventionReason = fmt.Sprintf(
				"Execution reached the failure limit (%d) and requires human intervention.",
				chain.MaxTotalFailures())
			escalated = true
		}
	} else {
		execution.Checkpoints = append(execution.Checkpoints, newCheckpoint(link, report.Output, now))
	}

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}

	logger := e.logger.With("execution_id", execution.ID)
	logger.Info("link outcome recorded",
		"link", link.Name,
		"attempt", attempt.AttemptNumber,
		"outcome", attempt.Outcome,
		"failure_count", execution.TotalFailureCount)

	if logErr := e.outcomes.LogOutcome(ctx, &OutcomeLogEntry{
		ExecutionID:   execution.ID,
		LinkID:        link.ID,
		LinkName:      link.Name,
		AttemptNumber: attempt.AttemptNumber,
		Outcome:       attempt.Outcome,
		Output:        attempt.Output,
		ErrorDetails:  attempt.ErrorDetails,
		ExecutedBy:    attempt.ExecutedBy,
		RecordedAt:    now,
		Duration:      now.Sub(attempt.StartedAt).Seconds(),
	}); logErr != nil {
		logger.Error("failed to log outcome", "error", logErr)
	}

	e.callbacks.OnOutcomeRecorded(ctx, &OutcomeEvent{
		ExecutionID:   execution.ID,
		ChainName:     execution.ChainName,
		LinkID:        link.ID,
		LinkName:      link.Name,
		AttemptNumber: attempt.AttemptNumber,
		Outcome:       attempt.Outcome,
		FailureCount:  execution.TotalFailureCount,
		ExecutedBy:    attempt.ExecutedBy,
	})

	if escalated {
		e.callbacks.OnEscalation(ctx, &EscalationEvent{
			ExecutionID:  execution.ID,
			ChainName:    execution.ChainName,
			LinkID:       link.ID,
			Reason:       execution.InterventionReason,
			FailureCount: execution.TotalFailureCount,
		})
		e.syncSessionState(ctx, chain, execution, sessionEventPause)
	} else {
		e.syncSessionState(ctx, chain, execution, sessionEventLinkComplete)
	}

	return attempt.Copy(), nil
}

// AdvanceExecution resolves the transition for the current link's most
// recent terminal attempt and applies it: complete the execution, move to
// the next or a targeted link, retry the same link, or escalate. The resolved
// transition is recorded on the completed attempt for audit.
func (e *Engine) AdvanceExecution(ctx context.Context, executionID string) (*Execution, error) {
	execution, chain, err := e.loadAggregate(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.CurrentLinkID == "" {
		return nil, NewInvalidOperationError("execution has no current link to advance from")
	}

	// A failure-ceiling escalation pauses the execution inside
	// RecordLinkOutcome; the advance that follows resolves as an escalate
	// regardless of the link's own policy.
	forcedEscalation := execution.Status == ExecutionStatusPaused && execution.RequiresHumanIntervention
	if !forcedEscalation && execution.Status != ExecutionStatusRunning {
		return nil, NewInvalidOperationError("cannot advance while execution is %s", execution.Status)
	}

	link, ok := chain.GetLink(execution.CurrentLinkID)
	if !ok {
		return nil, NewInvalidOperationError("current link %q not found in chain %q", execution.CurrentLinkID, chain.Name())
	}
	attempt := execution.LatestAttempt(link.ID)
	if attempt == nil || !attempt.Outcome.Terminal() {
		return nil, NewInvalidOperationError("link %q has no terminal attempt to advance from", link.Name)
	}

	var transition TransitionType
	var target string
	switch {
	case forcedEscalation:
		transition = TransitionEscalate
	case attempt.Outcome == OutcomeSuccess:
		transition = link.OnSuccess
		target = link.OnSuccessTarget
	default:
		attempts := execution.AttemptCount(link.ID)
		switch {
		case link.OnFailure == TransitionRetry && attempts < link.MaxRetries:
			transition = TransitionRetry
		case link.OnFailure == TransitionRetry:
			// Retry budget exhausted: the only remaining fallback is a human.
			transition = TransitionEscalate
		default:
			transition = link.OnFailure
			target = link.OnFailureTarget
		}
	}

	now := time.Now()
	switch transition {
	case TransitionComplete:
		e.completeExecution(execution, now, "")
	case TransitionNextLink:
		next, ok := chain.NextAfter(link.Position)
		if !ok {
			e.completeExecution(execution, now, "")
		} else {
			execution.CurrentLinkID = next.ID
			execution.newPendingAttempt(next.ID, now)
		}
	case TransitionGoToLink:
		if target == "" {
			return nil, NewInvalidOperationError("link %q transition requires a target link", link.Name)
		}
		if _, ok := chain.GetLink(target); !ok {
			return nil, NewInvalidOperationError("target link %q not found in chain %q", target, chain.Name())
		}
		execution.CurrentLinkID = target
		execution.newPendingAttempt(target, now)
	case TransitionRetry:
		execution.newPendingAttempt(link.ID, now)
	case TransitionEscalate:
		execution.Status = ExecutionStatusPaused
		execution.RequiresHumanIntervention = true
		if execution.InterventionReason == "" {
			execution.InterventionReason = fmt.Sprintf(
				"Link '%s' failed and requires human intervention.", link.Name)
		}
	default:
		return nil, NewInvalidOperationError("link %q has unknown transition %q", link.Name, transition)
	}
	attempt.TransitionTaken = transition

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}

	logger := e.logger.With("execution_id", execution.ID)
	logger.Info("execution advanced",
		"link", link.Name,
		"transition", transition,
		"status", execution.Status,
		"current_link", execution.CurrentLinkID)

	e.callbacks.OnTransition(ctx, &TransitionEvent{
		ExecutionID: execution.ID,
		ChainName:   execution.ChainName,
		LinkID:      link.ID,
		LinkName:    link.Name,
		Transition:  transition,
		NextLinkID:  execution.CurrentLinkID,
		Status:      execution.Status,
	})

	switch {
	case execution.Status == ExecutionStatusCompleted:
		e.callbacks.OnExecutionFinished(ctx, executionEvent(execution))
		e.syncSessionState(ctx, chain, execution, sessionEventComplete)
	case execution.Status == ExecutionStatusPaused:
		e.callbacks.OnEscalation(ctx, &EscalationEvent{
			ExecutionID:  execution.ID,
			ChainName:    execution.ChainName,
			LinkID:       link.ID,
			Reason:       execution.InterventionReason,
			FailureCount: execution.TotalFailureCount,
		})
		e.syncSessionState(ctx, chain, execution, sessionEventPause)
	default:
		e.syncSessionState(ctx, chain, execution, sessionEventLinkComplete)
	}

	return execution, nil
}

// PauseExecution pauses a running execution. In-flight attempts are left
// untouched; the caller performing the external skill call notices the pause
// on its next interaction with the engine.
func (e *Engine) PauseExecution(ctx context.Context, executionID, reason, pausedBy string) (*Execution, error) {
	execution, chain, err := e.loadAggregate(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status != ExecutionStatusRunning {
		return nil, NewInvalidOperationError("cannot pause while execution is %s", execution.Status)
	}
	execution.Status = ExecutionStatusPaused
	execution.PauseReason = reason
	execution.PausedBy = pausedBy

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}
	e.logger.Info("execution paused",
		"execution_id", execution.ID, "reason", reason, "paused_by", pausedBy)
	e.syncSessionState(ctx, chain, execution, sessionEventPause)
	return execution, nil
}

// ResumeExecution resumes a paused execution, clearing any intervention
// state and merging the latest checkpoint's data plus caller-supplied
// context into the execution context so the current link restarts with
// resumption context. Caller-supplied keys win on conflict.
func (e *Engine) ResumeExecution(ctx context.Context, executionID string, additionalContext map[string]any) (*Execution, error) {
	execution, _, err := e.loadAggregate(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status != ExecutionStatusPaused {
		return nil, NewInvalidOperationError("cannot resume while execution is %s", execution.Status)
	}
	execution.Status = ExecutionStatusRunning
	execution.RequiresHumanIntervention = false
	execution.InterventionReason = ""
	execution.PauseReason = ""
	execution.PausedBy = ""

	if execution.Context == nil {
		execution.Context = &ExecutionContext{}
	}
	if checkpoint := execution.LatestCheckpoint(); checkpoint != nil {
		execution.Context.MergeContext(checkpoint.Data)
	}
	execution.Context.MergeContext(additionalContext)

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}
	e.logger.Info("execution resumed",
		"execution_id", execution.ID, "current_link", execution.CurrentLinkID)
	return execution, nil
}

// CancelExecution terminates a running or paused execution. Every attempt
// still pending is forced to Skipped so no partial attempt is left open.
// Cancellation is not preemptive: it does not interrupt an in-flight external
// skill invocation.
func (e *Engine) CancelExecution(ctx context.Context, executionID, reason, cancelledBy string) (*Execution, error) {
	execution, chain, err := e.loadAggregate(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status.Terminal() {
		return nil, NewInvalidOperationError("cannot cancel while execution is %s", execution.Status)
	}
	now := time.Now()
	execution.Status = ExecutionStatusCancelled
	execution.CancelReason = reason
	execution.CompletedBy = cancelledBy
	execution.CompletedAt = now
	execution.CurrentLinkID = ""
	for _, attempt := range execution.Attempts {
		if attempt.Outcome == OutcomePending {
			attempt.Outcome = OutcomeSkipped
			attempt.CompletedAt = now
		}
	}

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}
	e.logger.Info("execution cancelled",
		"execution_id", execution.ID, "reason", reason, "cancelled_by", cancelledBy)
	e.callbacks.OnExecutionFinished(ctx, executionEvent(execution))

	// A final snapshot is deliberately written rather than cleared, so a
	// cancelled-but-revivable execution can still be inspected.
	e.syncSessionState(ctx, chain, execution, sessionEventCancel)
	return execution, nil
}

// completeExecution moves an execution to Completed.
func (e *Engine) completeExecution(execution *Execution, now time.Time, completedBy string) {
	execution.Status = ExecutionStatusCompleted
	execution.CompletedAt = now
	execution.CompletedBy = completedBy
	execution.CurrentLinkID = ""
	execution.RequiresHumanIntervention = false
	execution.InterventionReason = ""
}

// loadAggregate loads the execution and its chain definition together.
func (e *Engine) loadAggregate(ctx context.Context, executionID string) (*Execution, *Chain, error) {
	execution, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	chain, err := e.chains.GetChain(ctx, execution.ChainID)
	if err != nil {
		return nil, nil, err
	}
	return execution, chain, nil
}

func executionEvent(execution *Execution) *ExecutionEvent {
	return &ExecutionEvent{
		ExecutionID:   execution.ID,
		ChainID:       execution.ChainID,
		ChainName:     execution.ChainName,
		TicketID:      execution.TicketID,
		Status:        execution.Status,
		CurrentLinkID: execution.CurrentLinkID,
		StartedAt:     execution.StartedAt,
		CompletedAt:   execution.CompletedAt,
	}
}
