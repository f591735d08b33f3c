package skillchain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// blockedExecution starts an execution on a two-link chain and drives it into
// an intervention pause by exhausting the chain failure limit on link "a".
func blockedExecution(t *testing.T, ticketID string) (*Engine, *Execution) {
	t.Helper()
	ctx := context.Background()
	chain, err := NewChain(ChainOptions{
		ID:               "chain-blocked",
		Name:             "blocked-chain",
		Published:        true,
		MaxTotalFailures: 1,
		Links: []*Link{
			{ID: "a", Name: "Gather context", Position: 0, OnSuccess: TransitionNextLink, OnFailure: TransitionEscalate},
			{ID: "b", Name: "Apply fix", Position: 1, OnSuccess: TransitionComplete, OnFailure: TransitionEscalate},
		},
	})
	require.NoError(t, err)
	engine, _, _ := newTestEngine(t, chain)

	execution, err := engine.StartExecution(ctx, StartOptions{
		ChainID:  "chain-blocked",
		TicketID: ticketID,
	})
	require.NoError(t, err)

	_, err = engine.RecordLinkOutcome(ctx, execution.ID, OutcomeReport{
		LinkID: "a", Outcome: OutcomeFailure, ErrorDetails: "missing credentials",
	})
	require.NoError(t, err)

	execution, err = engine.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusPaused, execution.Status)
	require.True(t, execution.RequiresHumanIntervention)
	return engine, execution
}

func TestPendingInterventions(t *testing.T) {
	ctx := context.Background()

	t.Run("lists blocked executions", func(t *testing.T) {
		engine, execution := blockedExecution(t, "TICK-1")
		pending, err := engine.PendingInterventions(ctx, InterventionFilter{})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, execution.ID, pending[0].ID)
	})

	t.Run("excludes executions paused without intervention", func(t *testing.T) {
		engine, _, _ := newTestEngine(t, twoLinkChain(t))
		execution, err := engine.StartExecution(ctx, StartOptions{ChainID: "chain-two"})
		require.NoError(t, err)
		_, err = engine.PauseExecution(ctx, execution.ID, "on hold", "tester")
		require.NoError(t, err)

		pending, err := engine.PendingInterventions(ctx, InterventionFilter{})
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	t.Run("filters by ticket", func(t *testing.T) {
		engine, _ := blockedExecution(t, "TICK-7")
		pending, err := engine.PendingInterventions(ctx, InterventionFilter{TicketID: "TICK-7"})
		require.NoError(t, err)
		require.Len(t, pending, 1)

		pending, err = engine.PendingInterventions(ctx, InterventionFilter{TicketID: "TICK-other"})
		require.NoError(t, err)
		require.Empty(t, pending)
	})
}

func TestResolveIntervention(t *testing.T) {
	ctx := context.Background()

	t.Run("retry resumes with a fresh attempt", func(t *testing.T) {
		engine, execution := blockedExecution(t, "")
		resolved, err := engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			Resolution: "credentials rotated",
			NextAction: TransitionRetry,
			ResolvedBy: "oncall",
		})
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusRunning, resolved.Status)
		require.False(t, resolved.RequiresHumanIntervention)
		require.Empty(t, resolved.InterventionReason)
		require.Equal(t, "a", resolved.CurrentLinkID)

		attempt := resolved.PendingAttempt("a")
		require.NotNil(t, attempt)
		require.Equal(t, 2, attempt.AttemptNumber)

		// The execution can now run to completion
		_, err = engine.RecordLinkOutcome(ctx, resolved.ID, OutcomeReport{
			LinkID: "a", Outcome: OutcomeSuccess, Output: "{}",
		})
		require.NoError(t, err)
	})

	t.Run("go to link moves and resumes", func(t *testing.T) {
		engine, execution := blockedExecution(t, "")
		resolved, err := engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			NextAction:   TransitionGoToLink,
			TargetLinkID: "b",
			ResolvedBy:   "oncall",
		})
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusRunning, resolved.Status)
		require.Equal(t, "b", resolved.CurrentLinkID)
		require.NotNil(t, resolved.PendingAttempt("b"))
		require.Equal(t, 1, resolved.PendingAttempt("b").AttemptNumber)
	})

	t.Run("go to link requires a valid target", func(t *testing.T) {
		engine, execution := blockedExecution(t, "")
		_, err := engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			NextAction: TransitionGoToLink,
		})
		require.Error(t, err)
		require.True(t, IsInvalidOperation(err))

		_, err = engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			NextAction:   TransitionGoToLink,
			TargetLinkID: "nope",
		})
		require.Error(t, err)
		require.True(t, IsInvalidOperation(err))
	})

	t.Run("complete finishes the execution", func(t *testing.T) {
		engine, execution := blockedExecution(t, "")
		resolved, err := engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			Resolution: "done manually",
			NextAction: TransitionComplete,
			ResolvedBy: "oncall",
		})
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusCompleted, resolved.Status)
		require.Equal(t, "oncall", resolved.CompletedBy)
		require.Empty(t, resolved.CurrentLinkID)
		require.False(t, resolved.RequiresHumanIntervention)
	})

	t.Run("complete defaults the completer", func(t *testing.T) {
		engine, execution := blockedExecution(t, "")
		resolved, err := engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			NextAction: TransitionComplete,
		})
		require.NoError(t, err)
		require.Equal(t, "human", resolved.CompletedBy)
	})

	t.Run("escalate keeps the execution blocked with a new reason", func(t *testing.T) {
		engine, execution := blockedExecution(t, "")
		resolved, err := engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			Resolution: "waiting on vendor ticket",
			NextAction: TransitionEscalate,
			ResolvedBy: "oncall",
		})
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusPaused, resolved.Status)
		require.True(t, resolved.RequiresHumanIntervention)
		require.Equal(t, "waiting on vendor ticket", resolved.InterventionReason)
	})

	t.Run("rejects executions not awaiting intervention", func(t *testing.T) {
		engine, _, _ := newTestEngine(t, twoLinkChain(t))
		execution, err := engine.StartExecution(ctx, StartOptions{ChainID: "chain-two"})
		require.NoError(t, err)

		_, err = engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			NextAction: TransitionRetry,
		})
		require.Error(t, err)
		require.True(t, IsInvalidOperation(err))
	})

	t.Run("rejects unknown actions", func(t *testing.T) {
		engine, execution := blockedExecution(t, "")
		_, err := engine.ResolveIntervention(ctx, execution.ID, ResolveInterventionOptions{
			NextAction: TransitionNextLink,
		})
		require.Error(t, err)
		require.True(t, IsInvalidOperation(err))
	})
}
