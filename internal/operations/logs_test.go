package operations

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"argo-workflows-mcp/backend/internal/argo"
)

func TestFormatLogs_KeepsLastMatchUnderCap(t *testing.T) {
	entries := []argo.LogEntry{
		{PodName: "pod-a", Content: "starting"},
		{PodName: "pod-a", Content: "ERROR first"},
		{PodName: "pod-b", Content: "working"},
		{PodName: "pod-b", Content: "error second"},
	}

	view := FormatLogs(entries, "error", 1)

	assert.Equal(t, 4, view.Total)
	assert.Equal(t, 2, view.Matched)
	assert.Equal(t, 1, view.Returned)
	assert.True(t, view.Truncated)
	assert.Equal(t, "[pod-b] error second", view.Text)
	assert.Contains(t, view.Note, "1 of 2")
	assert.Equal(t, "Showing last 1 of 2 matching lines (search='error'). Total lines: 4.", view.Note)
}

func TestFormatLogs_NoQueryNoCapIsVerbatim(t *testing.T) {
	entries := []argo.LogEntry{
		{PodName: "pod-a", Content: "one"},
		{Content: "two"},
		{PodName: "pod-b", Content: "three"},
	}

	view := FormatLogs(entries, "", 0)

	assert.Equal(t, "[pod-a] one\ntwo\n[pod-b] three", view.Text)
	assert.Equal(t, 3, view.Returned)
	assert.False(t, view.Truncated)
	assert.Empty(t, view.Note)
}

func TestFormatLogs_Notes(t *testing.T) {
	entries := []argo.LogEntry{
		{PodName: "pod-a", Content: "alpha"},
		{PodName: "pod-a", Content: "beta"},
		{PodName: "pod-b", Content: "gamma"},
	}

	tests := []struct {
		name     string
		query    string
		maxLines int
		note     string
		text     string
	}{
		{
			name:  "zero matches",
			query: "delta",
			note:  "No lines matched search 'delta'. Total lines: 3.",
		},
		{
			name:  "query without truncation",
			query: "ALPHA",
			note:  "Search matched 1 line(s) out of 3.",
			text:  "[pod-a] alpha",
		},
		{
			name:     "pod name matches",
			query:    "pod-b",
			maxLines: 5,
			note:     "Search matched 1 line(s) out of 3.",
			text:     "[pod-b] gamma",
		},
		{
			name:     "truncation without query",
			maxLines: 2,
			note:     "Showing last 2 of 3 lines. Total lines: 3.",
			text:     "[pod-a] beta\n[pod-b] gamma",
		},
		{
			name:     "blank query is no query",
			query:    "   ",
			maxLines: 3,
			text:     "[pod-a] alpha\n[pod-a] beta\n[pod-b] gamma",
		},
		{
			name:     "negative cap is unlimited",
			maxLines: -1,
			text:     "[pod-a] alpha\n[pod-a] beta\n[pod-b] gamma",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := FormatLogs(entries, tt.query, tt.maxLines)
			assert.Equal(t, tt.note, view.Note)
			assert.Equal(t, tt.text, view.Text)
		})
	}
}

func TestFormatLogs_Empty(t *testing.T) {
	view := FormatLogs(nil, "", 200)
	assert.Equal(t, LogView{}, view)
}
