package skillchain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckpointFieldsForLink(t *testing.T) {
	tests := []struct {
		name     string
		linkName string
		fields   []string
	}{
		{"research keyword", "Research the ticket", []string{"findings", "sources", "summary"}},
		{"plan keyword", "Plan the fix", []string{"planId", "estimatedEffort", "keyDecisions"}},
		{"design keyword", "Design the schema", []string{"planId", "estimatedEffort", "keyDecisions"}},
		{"review keyword", "Review the diff", []string{"approved", "feedbackSummary"}},
		{"implement keyword", "Implement parser", []string{"artifacts", "filesChanged", "summary"}},
		{"organize keyword", "Triage incoming bugs", []string{"categories", "assignments"}},
		{"finalize keyword", "Deploy to production", []string{"deliverables", "completionNotes"}},
		{"case insensitive", "RESEARCH phase", []string{"findings", "sources", "summary"}},
		{"no match falls back to generic", "Mysterious step", []string{"summary", "outcome"}},
		// First matching group in listed order wins for ambiguous names
		{"ambiguous name takes first group", "review-and-plan", []string{"planId", "estimatedEffort", "keyDecisions"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.fields, checkpointFieldsForLink(tt.linkName))
		})
	}
}

func TestBuildCheckpointData(t *testing.T) {
	t.Run("extracts whitelisted fields from JSON output", func(t *testing.T) {
		link := &Link{ID: "a", Name: "Plan the fix", Position: 0}
		data := buildCheckpointData(link, `{
			"planId": "p-1",
			"estimatedEffort": "medium",
			"keyDecisions": ["use a queue"],
			"irrelevant": "dropped"
		}`)
		require.Equal(t, "p-1", data["planId"])
		require.Equal(t, "medium", data["estimatedEffort"])
		require.NotContains(t, data, "irrelevant")
	})

	t.Run("generic extraction for unmatched names", func(t *testing.T) {
		link := &Link{ID: "a", Name: "Something else", Position: 0}
		data := buildCheckpointData(link, `{"summary": "done", "outcome": "ok", "extra": 1}`)
		require.Equal(t, map[string]any{"summary": "done", "outcome": "ok"}, data)
	})

	t.Run("non-JSON output falls back to truncated raw text", func(t *testing.T) {
		link := &Link{ID: "a", Name: "Research", Position: 0}
		long := strings.Repeat("x", 600)
		data := buildCheckpointData(link, long)
		require.Equal(t, "Research", data["link"])
		raw := data["raw"].(string)
		require.Len(t, raw, rawOutputLimit)
		require.True(t, strings.HasSuffix(raw, "..."))
	})

	t.Run("JSON with none of the whitelisted fields falls back to raw", func(t *testing.T) {
		link := &Link{ID: "a", Name: "Research", Position: 0}
		data := buildCheckpointData(link, `{"other": true}`)
		require.Contains(t, data, "raw")
		require.Equal(t, "Research", data["link"])
	})

	t.Run("never fails on empty output", func(t *testing.T) {
		link := &Link{ID: "a", Name: "Research", Position: 0}
		data := buildCheckpointData(link, "")
		require.Equal(t, "", data["raw"])
	})
}

func TestLatestCheckpoint(t *testing.T) {
	execution := &Execution{
		Checkpoints: []*Checkpoint{
			{ID: "c1", Position: 0},
			{ID: "c3", Position: 2},
			{ID: "c2", Position: 1},
		},
	}
	latest := execution.LatestCheckpoint()
	require.Equal(t, "c3", latest.ID)

	empty := &Execution{}
	require.Nil(t, empty.LatestCheckpoint())

	t.Run("newest snapshot wins at equal positions", func(t *testing.T) {
		// A GoToLink loop can land a second success on the same link
		base := time.Now()
		execution := &Execution{
			Checkpoints: []*Checkpoint{
				{ID: "first", Position: 1, CreatedAt: base},
				{ID: "second", Position: 1, CreatedAt: base.Add(time.Minute)},
				{ID: "earlier-link", Position: 0, CreatedAt: base.Add(2 * time.Minute)},
			},
		}
		require.Equal(t, "second", execution.LatestCheckpoint().ID)
	})
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "exact", truncate("exact", 5))
	out := truncate("0123456789", 8)
	require.Len(t, out, 8)
	require.Equal(t, "01234...", out)
}
