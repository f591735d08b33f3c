package skillchain

import (
	"context"
	"time"
)

// ExecutionCallbacks defines the callback interface for engine lifecycle
// events. Callers that poll a running execution can hook these to update
// their own views without re-reading the aggregate.
type ExecutionCallbacks interface {
	// OnExecutionStarted fires after a new execution is persisted
	OnExecutionStarted(ctx context.Context, event *ExecutionEvent)

	// OnOutcomeRecorded fires after a link attempt reaches a terminal outcome
	OnOutcomeRecorded(ctx context.Context, event *OutcomeEvent)

	// OnTransition fires after Advance or ResolveIntervention applies a transition
	OnTransition(ctx context.Context, event *TransitionEvent)

	// OnEscalation fires when an execution pauses for human intervention
	OnEscalation(ctx context.Context, event *EscalationEvent)

	// OnExecutionFinished fires when an execution completes or is cancelled
	OnExecutionFinished(ctx context.Context, event *ExecutionEvent)
}

// ExecutionEvent provides context for execution-level lifecycle events
type ExecutionEvent struct {
	ExecutionID   string
	ChainID       string
	ChainName     string
	TicketID      string
	Status        ExecutionStatus
	CurrentLinkID string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// OutcomeEvent provides context for a recorded link outcome
type OutcomeEvent struct {
	ExecutionID   string
	ChainName     string
	LinkID        string
	LinkName      string
	AttemptNumber int
	Outcome       OutcomeStatus
	FailureCount  int
	ExecutedBy    string
}

// TransitionEvent provides context for a resolved transition
type TransitionEvent struct {
	ExecutionID string
	ChainName   string
	LinkID      string
	LinkName    string
	Transition  TransitionType
	NextLinkID  string
	Status      ExecutionStatus
}

// EscalationEvent provides context for an escalation to human intervention
type EscalationEvent struct {
	ExecutionID  string
	ChainName    string
	LinkID       string
	Reason       string
	FailureCount int
}

// BaseExecutionCallbacks provides a default implementation that does nothing.
// Embed this in your own callbacks to override only the events you care about.
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) OnExecutionStarted(ctx context.Context, event *ExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) OnOutcomeRecorded(ctx context.Context, event *OutcomeEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) OnTransition(ctx context.Context, event *TransitionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) OnEscalation(ctx context.Context, event *EscalationEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) OnExecutionFinished(ctx context.Context, event *ExecutionEvent) {
	// noop
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) OnExecutionStarted(ctx context.Context, event *ExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.OnExecutionStarted(ctx, event)
	}
}

func (c *CallbackChain) OnOutcomeRecorded(ctx context.Context, event *OutcomeEvent) {
	for _, callback := range c.callbacks {
		callback.OnOutcomeRecorded(ctx, event)
	}
}

func (c *CallbackChain) OnTransition(ctx context.Context, event *TransitionEvent) {
	for _, callback := range c.callbacks {
		callback.OnTransition(ctx, event)
	}
}

func (c *CallbackChain) OnEscalation(ctx context.Context, event *EscalationEvent) {
	for _, callback := range c.callbacks {
		callback.OnEscalation(ctx, event)
	}
}

func (c *CallbackChain) OnExecutionFinished(ctx context.Context, event *ExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.OnExecutionFinished(ctx, event)
	}
}
