package skillchain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// workingSummaryLimit bounds the composed working summary so it fits
// inexpensively into an LLM context window on resumption.
const workingSummaryLimit = 4000

// recentAttemptCount is how many completed links appear in the summary.
const recentAttemptCount = 3

// defaultSessionExpiryHours applies when a session config gives no expiry.
const defaultSessionExpiryHours = 24

// phaseKeywords maps link-name keywords to workflow phases. First matching
// group in this order wins.
var phaseKeywords = []struct {
	keywords []string
	phase    WorkflowPhase
}{
	{[]string{"research", "explore", "discover"}, PhaseResearching},
	{[]string{"plan", "design", "architect"}, PhasePlanning},
	{[]string{"implement", "build", "create", "develop", "code"}, PhaseImplementing},
	{[]string{"review", "approve", "validate"}, PhaseReviewing},
	{[]string{"test", "qa", "verify"}, PhaseTesting},
	{[]string{"finalize", "deliver", "release", "deploy"}, PhaseFinalizing},
}

// inferPhase maps the current link to a coarse workflow phase: first by
// keyword match on the link name, then by position ratio. A nil current link
// (post-completion) maps to Finalizing; a single-link chain always maps to
// Implementing.
func inferPhase(chain *Chain, currentLink *Link) WorkflowPhase {
	if currentLink == nil {
		return PhaseFinalizing
	}
	name := strings.ToLower(currentLink.Name)
	for _, group := range phaseKeywords {
		for _, keyword := range group.keywords {
			if strings.Contains(name, keyword) {
				return group.phase
			}
		}
	}
	totalLinks := len(chain.Links())
	if totalLinks <= 1 {
		return PhaseImplementing
	}
	ratio := float64(currentLink.Position) / float64(totalLinks-1)
	switch {
	case ratio < 0.2:
		return PhaseResearching
	case ratio < 0.4:
		return PhasePlanning
	case ratio < 0.7:
		return PhaseImplementing
	case ratio < 0.9:
		return PhaseReviewing
	default:
		return PhaseFinalizing
	}
}

// composeWorkingSummary builds the bounded human-readable summary persisted
// to session state: chain name, status, current link, failure count,
// intervention reason, and the most recently completed links.
func composeWorkingSummary(chain *Chain, execution *Execution) string {
	var sentences []string
	sentences = append(sentences,
		fmt.Sprintf("Chain '%s' is %s.", chain.Name(), execution.Status))

	if execution.CurrentLinkID != "" {
		if link, ok := chain.GetLink(execution.CurrentLinkID); ok {
			sentences = append(sentences,
				fmt.Sprintf("Current link: '%s' (position %d of %d).",
					link.Name, link.Position+1, len(chain.Links())))
		}
	}
	sentences = append(sentences,
		fmt.Sprintf("Failures so far: %d.", execution.TotalFailureCount))

	if execution.RequiresHumanIntervention && execution.InterventionReason != "" {
		sentences = append(sentences,
			fmt.Sprintf("Human intervention required: %s", execution.InterventionReason))
	}

	recent := execution.RecentCompletedAttempts(recentAttemptCount)
	if len(recent) > 0 {
		var parts []string
		for _, attempt := range recent {
			linkName := attempt.LinkID
			if link, ok := chain.GetLink(attempt.LinkID); ok {
				linkName = link.Name
			}
			parts = append(parts, fmt.Sprintf("'%s' ended with %s", linkName, attempt.Outcome))
		}
		sentences = append(sentences, fmt.Sprintf("Recent activity: %s.", strings.Join(parts, "; ")))
	}

	return truncate(strings.Join(sentences, " "), workingSummaryLimit)
}

// buildSessionCheckpoint captures the execution coordinates a resumed session
// needs to re-attach to the engine.
func buildSessionCheckpoint(execution *Execution) map[string]any {
	return map[string]any{
		"executionId":          execution.ID,
		"chainId":              execution.ChainID,
		"status":               string(execution.Status),
		"currentLinkId":        execution.CurrentLinkID,
		"totalFailureCount":    execution.TotalFailureCount,
		"requiresIntervention": execution.RequiresHumanIntervention,
	}
}

// buildSessionState assembles the full snapshot written to the session store.
func buildSessionState(chain *Chain, execution *Execution, config *SessionConfig) *SessionState {
	var currentLink *Link
	if execution.CurrentLinkID != "" {
		currentLink, _ = chain.GetLink(execution.CurrentLinkID)
	}
	expiresIn := config.ExpiresInHours
	if expiresIn <= 0 {
		expiresIn = defaultSessionExpiryHours
	}
	return &SessionState{
		SessionID:      config.SessionID,
		TicketID:       execution.TicketID,
		CurrentPhase:   inferPhase(chain, currentLink),
		WorkingSummary: composeWorkingSummary(chain, execution),
		Checkpoint:     buildSessionCheckpoint(execution),
		ExpiresAt:      time.Now().Add(time.Duration(expiresIn) * time.Hour),
	}
}

// sessionEvent identifies which lifecycle flag gates a session-state write.
type sessionEvent int

const (
	sessionEventLinkComplete sessionEvent = iota
	sessionEventPause
	sessionEventCancel
	sessionEventComplete
)

// syncSessionState evaluates the execution's session config for one
// lifecycle event and saves or clears the external record accordingly.
// Session-store failures are logged, never propagated: losing a snapshot
// must not fail the engine operation that triggered it.
func (e *Engine) syncSessionState(ctx context.Context, chain *Chain, execution *Execution, event sessionEvent) {
	config := execution.SessionConfig()
	if config == nil || config.SessionID == "" {
		return
	}

	logger := e.logger.With("execution_id", execution.ID, "session_id", config.SessionID)

	if event == sessionEventComplete {
		if config.AutoClearOnComplete {
			if _, err := e.sessions.Clear(ctx, config.SessionID); err != nil {
				logger.Error("failed to clear session state", "error", err)
			}
			return
		}
		if !config.AutoSaveOnLinkComplete {
			return
		}
	} else {
		save := false
		switch event {
		case sessionEventLinkComplete:
			save = config.AutoSaveOnLinkComplete
		case sessionEventPause:
			save = config.AutoSaveOnPause
		case sessionEventCancel:
			save = config.AutoSaveOnCancel
		}
		if !save {
			return
		}
	}

	state := buildSessionState(chain, execution, config)
	if _, err := e.sessions.Save(ctx, state); err != nil {
		logger.Error("failed to save session state", "error", err)
		return
	}
	logger.Debug("session state saved", "phase", state.CurrentPhase)
}
