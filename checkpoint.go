package skillchain

import (
	"encoding/json"
	"strings"
	"time"
)

// rawOutputLimit bounds the raw-text fallback stored when a link's output is
// not valid structured data.
const rawOutputLimit = 500

// checkpointProfile maps a group of link-name keywords to the whitelist of
// fields distilled from the link's JSON output. Groups are checked in listed
// order and the first match wins, which settles ambiguous names like
// "review-and-plan".
type checkpointProfile struct {
	keywords []string
	fields   []string
}

var checkpointProfiles = []checkpointProfile{
	{
		keywords: []string{"research", "explore", "discover", "investigate", "analyze"},
		fields:   []string{"findings", "sources", "summary"},
	},
	{
		keywords: []string{"plan", "design", "architect"},
		fields:   []string{"planId", "estimatedEffort", "keyDecisions"},
	},
	{
		keywords: []string{"review", "approve", "validate", "verify", "check"},
		fields:   []string{"approved", "feedbackSummary"},
	},
	{
		keywords: []string{"implement", "build", "create", "develop", "write", "code"},
		fields:   []string{"artifacts", "filesChanged", "summary"},
	},
	{
		keywords: []string{"organize", "triage", "sort", "prioritize"},
		fields:   []string{"categories", "assignments"},
	},
	{
		keywords: []string{"finalize", "complete", "deliver", "release", "deploy"},
		fields:   []string{"deliverables", "completionNotes"},
	},
}

// genericCheckpointFields is the fallback whitelist for link names that match
// no keyword group.
var genericCheckpointFields = []string{"summary", "outcome"}

// checkpointFieldsForLink selects the extraction whitelist for a link name.
func checkpointFieldsForLink(linkName string) []string {
	name := strings.ToLower(linkName)
	for _, profile := range checkpointProfiles {
		for _, keyword := range profile.keywords {
			if strings.Contains(name, keyword) {
				return profile.fields
			}
		}
	}
	return genericCheckpointFields
}

// buildCheckpointData distills a link's raw output into a compact checkpoint
// blob. Structured output is reduced to the whitelist for the link's name;
// anything else becomes a truncated raw-text fallback tagged with the link
// name. Checkpoint creation never fails.
func buildCheckpointData(link *Link, output string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil || parsed == nil {
		return map[string]any{
			"link": link.Name,
			"raw":  truncate(output, rawOutputLimit),
		}
	}
	data := map[string]any{}
	for _, field := range checkpointFieldsForLink(link.Name) {
		if value, ok := parsed[field]; ok {
			data[field] = value
		}
	}
	if len(data) == 0 {
		return map[string]any{
			"link": link.Name,
			"raw":  truncate(output, rawOutputLimit),
		}
	}
	return data
}

// newCheckpoint builds an immutable checkpoint from a successful attempt.
func newCheckpoint(link *Link, output string, now time.Time) *Checkpoint {
	return &Checkpoint{
		ID:        NewCheckpointID(),
		LinkID:    link.ID,
		LinkName:  link.Name,
		Position:  link.Position,
		Data:      buildCheckpointData(link, output),
		CreatedAt: now,
	}
}

// truncate shortens s to at most limit runes, appending an ellipsis when
// anything was cut.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
