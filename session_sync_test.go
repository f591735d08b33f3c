package skillchain

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func phaseTestChain(t *testing.T, names ...string) *Chain {
	t.Helper()
	links := make([]*Link, len(names))
	for i, name := range names {
		links[i] = &Link{ID: name, Name: name, Position: i}
	}
	chain, err := NewChain(ChainOptions{
		ID:               "chain-phase",
		Name:             "Phase Test",
		Published:        true,
		MaxTotalFailures: 3,
		Links:            links,
	})
	require.NoError(t, err)
	return chain
}

func TestInferPhase(t *testing.T) {
	t.Run("nil link maps to finalizing", func(t *testing.T) {
		chain := phaseTestChain(t, "alpha")
		require.Equal(t, PhaseFinalizing, inferPhase(chain, nil))
	})

	t.Run("keyword match beats position", func(t *testing.T) {
		chain := phaseTestChain(t, "alpha", "beta", "Review the result")
		link, ok := chain.GetLink("Review the result")
		require.True(t, ok)
		// Last position would be Finalizing by ratio, keyword wins
		require.Equal(t, PhaseReviewing, inferPhase(chain, link))
	})

	t.Run("single link chain maps to implementing", func(t *testing.T) {
		chain := phaseTestChain(t, "alpha")
		require.Equal(t, PhaseImplementing, inferPhase(chain, chain.FirstLink()))
	})

	t.Run("position ratio buckets", func(t *testing.T) {
		chain := phaseTestChain(t, "alpha", "beta", "gamma", "delta", "epsilon", "zeta")
		expected := []WorkflowPhase{
			PhaseResearching,  // 0.0
			PhasePlanning,     // 0.2
			PhaseImplementing, // 0.4
			PhaseImplementing, // 0.6
			PhaseReviewing,    // 0.8
			PhaseFinalizing,   // 1.0
		}
		for i, link := range chain.Links() {
			require.Equal(t, expected[i], inferPhase(chain, link), "position %d", i)
		}
	})
}

func TestComposeWorkingSummary(t *testing.T) {
	chain := phaseTestChain(t, "alpha", "beta")

	t.Run("includes status, link, failures, and recent activity", func(t *testing.T) {
		execution := &Execution{
			Status:            ExecutionStatusRunning,
			CurrentLinkID:     "beta",
			TotalFailureCount: 2,
			Attempts: []*LinkExecution{
				{LinkID: "alpha", AttemptNumber: 1, Outcome: OutcomeFailure},
				{LinkID: "alpha", AttemptNumber: 2, Outcome: OutcomeSuccess},
				{LinkID: "beta", AttemptNumber: 1, Outcome: OutcomePending},
			},
		}
		summary := composeWorkingSummary(chain, execution)
		require.Contains(t, summary, "Chain 'Phase Test' is running.")
		require.Contains(t, summary, "Current link: 'beta' (position 2 of 2).")
		require.Contains(t, summary, "Failures so far: 2.")
		require.Contains(t, summary, "'alpha' ended with failure")
		require.Contains(t, summary, "'alpha' ended with success")
		require.NotContains(t, summary, "Human intervention")
	})

	t.Run("includes intervention reason", func(t *testing.T) {
		execution := &Execution{
			Status:                    ExecutionStatusPaused,
			CurrentLinkID:             "alpha",
			RequiresHumanIntervention: true,
			InterventionReason:        "credentials expired",
		}
		summary := composeWorkingSummary(chain, execution)
		require.Contains(t, summary, "Human intervention required: credentials expired")
	})

	t.Run("bounded length", func(t *testing.T) {
		execution := &Execution{
			Status:                    ExecutionStatusPaused,
			RequiresHumanIntervention: true,
			InterventionReason:        strings.Repeat("x", workingSummaryLimit*2),
		}
		summary := composeWorkingSummary(chain, execution)
		require.LessOrEqual(t, len([]rune(summary)), workingSummaryLimit)
		require.True(t, strings.HasSuffix(summary, "..."))
	})
}

func TestBuildSessionState(t *testing.T) {
	chain := phaseTestChain(t, "Research the ticket", "beta")
	execution := &Execution{
		ID:            "exec-1",
		ChainID:       chain.ID(),
		TicketID:      "TICK-9",
		Status:        ExecutionStatusRunning,
		CurrentLinkID: "Research the ticket",
	}
	state := buildSessionState(chain, execution, &SessionConfig{SessionID: "sess-1"})
	require.Equal(t, "sess-1", state.SessionID)
	require.Equal(t, "TICK-9", state.TicketID)
	require.Equal(t, PhaseResearching, state.CurrentPhase)
	require.Equal(t, "exec-1", state.Checkpoint["executionId"])
	require.Equal(t, "running", state.Checkpoint["status"])
	require.False(t, state.ExpiresAt.IsZero())
}

func syncTestEngine(t *testing.T, chain *Chain) (*Engine, *MemorySessionStore) {
	t.Helper()
	sessions := NewMemorySessionStore()
	engine, err := NewEngine(EngineOptions{
		Chains:   NewChainRegistry(chain),
		Store:    NewMemoryExecutionStore(),
		Sessions: sessions,
	})
	require.NoError(t, err)
	return engine, sessions
}

func TestSyncSessionStateFlags(t *testing.T) {
	ctx := context.Background()
	chain := phaseTestChain(t, "alpha")

	execution := func(config *SessionConfig) *Execution {
		return &Execution{
			ID:            "exec-sync",
			ChainID:       chain.ID(),
			Status:        ExecutionStatusRunning,
			CurrentLinkID: "alpha",
			Context:       &ExecutionContext{SessionConfig: config},
		}
	}

	t.Run("no session config is a no-op", func(t *testing.T) {
		engine, sessions := syncTestEngine(t, chain)
		engine.syncSessionState(ctx, chain, execution(nil), sessionEventLinkComplete)
		state, err := sessions.Load(ctx, "sess-1")
		require.NoError(t, err)
		require.Nil(t, state)
	})

	t.Run("link complete saves only when enabled", func(t *testing.T) {
		engine, sessions := syncTestEngine(t, chain)
		engine.syncSessionState(ctx, chain,
			execution(&SessionConfig{SessionID: "sess-1"}), sessionEventLinkComplete)
		state, err := sessions.Load(ctx, "sess-1")
		require.NoError(t, err)
		require.Nil(t, state)

		engine.syncSessionState(ctx, chain,
			execution(&SessionConfig{SessionID: "sess-1", AutoSaveOnLinkComplete: true}),
			sessionEventLinkComplete)
		state, err = sessions.Load(ctx, "sess-1")
		require.NoError(t, err)
		require.NotNil(t, state)
	})

	t.Run("pause and cancel have their own flags", func(t *testing.T) {
		engine, sessions := syncTestEngine(t, chain)
		engine.syncSessionState(ctx, chain,
			execution(&SessionConfig{SessionID: "sess-p", AutoSaveOnLinkComplete: true}),
			sessionEventPause)
		state, err := sessions.Load(ctx, "sess-p")
		require.NoError(t, err)
		require.Nil(t, state)

		engine.syncSessionState(ctx, chain,
			execution(&SessionConfig{SessionID: "sess-p", AutoSaveOnPause: true}),
			sessionEventPause)
		state, err = sessions.Load(ctx, "sess-p")
		require.NoError(t, err)
		require.NotNil(t, state)

		engine.syncSessionState(ctx, chain,
			execution(&SessionConfig{SessionID: "sess-c", AutoSaveOnCancel: true}),
			sessionEventCancel)
		state, err = sessions.Load(ctx, "sess-c")
		require.NoError(t, err)
		require.NotNil(t, state)
	})

	t.Run("complete clears when auto clear is set", func(t *testing.T) {
		engine, sessions := syncTestEngine(t, chain)
		_, err := sessions.Save(ctx, &SessionState{SessionID: "sess-done"})
		require.NoError(t, err)

		engine.syncSessionState(ctx, chain,
			execution(&SessionConfig{
				SessionID:              "sess-done",
				AutoClearOnComplete:    true,
				AutoSaveOnLinkComplete: true,
			}),
			sessionEventComplete)
		state, err := sessions.Load(ctx, "sess-done")
		require.NoError(t, err)
		require.Nil(t, state)
	})

	t.Run("complete saves a final snapshot when clear is off", func(t *testing.T) {
		engine, sessions := syncTestEngine(t, chain)
		engine.syncSessionState(ctx, chain,
			execution(&SessionConfig{SessionID: "sess-final", AutoSaveOnLinkComplete: true}),
			sessionEventComplete)
		state, err := sessions.Load(ctx, "sess-final")
		require.NoError(t, err)
		require.NotNil(t, state)
	})
}
