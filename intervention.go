package skillchain

import (
	"context"
	"time"
)

// InterventionFilter narrows the pending-intervention listing. Zero values
// match everything.
type InterventionFilter struct {
	ChainID  string
	TicketID string
	Limit    int
}

// PendingInterventions lists executions paused for human intervention, most
// recently started first.
func (e *Engine) PendingInterventions(ctx context.Context, filter InterventionFilter) ([]*Execution, error) {
	requires := true
	return e.store.ListExecutions(ctx, ExecutionFilter{
		ChainID:              filter.ChainID,
		TicketID:             filter.TicketID,
		Status:               ExecutionStatusPaused,
		RequiresIntervention: &requires,
		Limit:                filter.Limit,
	})
}

// ResolveInterventionOptions carries a human's decision on a paused
// execution.
type ResolveInterventionOptions struct {
	// Resolution is the human's free-text note about what was done
	Resolution string

	// NextAction is one of Retry, GoToLink, Complete, or Escalate
	NextAction TransitionType

	// TargetLinkID names the destination link when NextAction is GoToLink
	TargetLinkID string

	// ResolvedBy identifies who resolved the intervention
	ResolvedBy string
}

// ResolveIntervention applies a human decision to an execution paused for
// intervention: retry the current link, jump to another link, complete the
// execution outright, or record progress on a still-unresolved block without
// resuming (Escalate).
func (e *Engine) ResolveIntervention(ctx context.Context, executionID string, opts ResolveInterventionOptions) (*Execution, error) {
	execution, chain, err := e.loadAggregate(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status != ExecutionStatusPaused || !execution.RequiresHumanIntervention {
		return nil, NewInvalidOperationError("execution is not awaiting intervention")
	}

	now := time.Now()
	switch opts.NextAction {
	case TransitionRetry:
		if execution.CurrentLinkID == "" {
			return nil, NewInvalidOperationError("cannot retry without a current link")
		}
		execution.Status = ExecutionStatusRunning
		execution.RequiresHumanIntervention = false
		execution.InterventionReason = ""
		execution.newPendingAttempt(execution.CurrentLinkID, now)

	case TransitionGoToLink:
		if opts.TargetLinkID == "" {
			return nil, NewInvalidOperationError("go-to-link resolution requires a target link")
		}
		if _, ok := chain.GetLink(opts.TargetLinkID); !ok {
			return nil, NewInvalidOperationError("target link %q not found in chain %q", opts.TargetLinkID, chain.Name())
		}
		execution.Status = ExecutionStatusRunning
		execution.RequiresHumanIntervention = false
		execution.InterventionReason = ""
		execution.CurrentLinkID = opts.TargetLinkID
		execution.newPendingAttempt(opts.TargetLinkID, now)

	case TransitionComplete:
		completedBy := opts.ResolvedBy
		if completedBy == "" {
			completedBy = "human"
		}
		e.completeExecution(execution, now, completedBy)

	case TransitionEscalate:
		// Still blocked: only the reason is replaced with the human's note.
		execution.InterventionReason = opts.Resolution

	default:
		return nil, NewInvalidOperationError("unknown intervention action %q", opts.NextAction)
	}

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.Info("intervention resolved",
		"execution_id", execution.ID,
		"action", opts.NextAction,
		"resolved_by", opts.ResolvedBy,
		"status", execution.Status)

	e.callbacks.OnTransition(ctx, &TransitionEvent{
		ExecutionID: execution.ID,
		ChainName:   execution.ChainName,
		LinkID:      execution.CurrentLinkID,
		Transition:  opts.NextAction,
		NextLinkID:  execution.CurrentLinkID,
		Status:      execution.Status,
	})

	switch execution.Status {
	case ExecutionStatusCompleted:
		e.callbacks.OnExecutionFinished(ctx, executionEvent(execution))
		e.syncSessionState(ctx, chain, execution, sessionEventComplete)
	case ExecutionStatusPaused:
		e.syncSessionState(ctx, chain, execution, sessionEventPause)
	default:
		e.syncSessionState(ctx, chain, execution, sessionEventLinkComplete)
	}

	return execution, nil
}
