package operations

import (
	"fmt"
	"strings"

	"argo-workflows-mcp/backend/internal/argo"
)

// LogView is the filtered, truncated rendering of a log stream.
type LogView struct {
	Text      string
	Note      string
	Total     int
	Matched   int
	Returned  int
	Truncated bool
}

// cond is a rule predicate: don't care, must be true or must be false.
type cond int8

const (
	anyValue cond = iota
	isTrue
	isFalse
)

func (c cond) admits(v bool) bool {
	return c == anyValue || (c == isTrue) == v
}

// logNoteRule selects a note from the (query present, zero matches,
// truncated) triple. Rules are evaluated in order; the first match wins.
type logNoteRule struct {
	query     cond
	noMatches cond
	truncated cond
	render    func(query string, v LogView) string
}

var logNoteRules = []logNoteRule{
	{isTrue, isTrue, anyValue, func(q string, v LogView) string {
		return fmt.Sprintf("No lines matched search '%s'. Total lines: %d.", q, v.Total)
	}},
	{isTrue, isFalse, isTrue, func(q string, v LogView) string {
		return fmt.Sprintf("Showing last %d of %d matching lines (search='%s'). Total lines: %d.", v.Returned, v.Matched, q, v.Total)
	}},
	{isTrue, isFalse, isFalse, func(_ string, v LogView) string {
		return fmt.Sprintf("Search matched %d line(s) out of %d.", v.Matched, v.Total)
	}},
	{isFalse, anyValue, isTrue, func(_ string, v LogView) string {
		return fmt.Sprintf("Showing last %d of %d lines. Total lines: %d.", v.Returned, v.Matched, v.Total)
	}},
	{isFalse, anyValue, isFalse, func(string, LogView) string { return "" }},
}

func (r logNoteRule) matches(query bool, v LogView) bool {
	return r.query.admits(query) && r.noMatches.admits(v.Matched == 0) && r.truncated.admits(v.Truncated)
}

// FormatLogs filters entries by a case-insensitive substring of either the
// content or the pod name, keeps the last maxLines matches (0 = unlimited)
// and describes what was dropped.
func FormatLogs(entries []argo.LogEntry, query string, maxLines int) LogView {
	query = strings.TrimSpace(query)
	hasQuery := query != ""

	filtered := entries
	if hasQuery {
		needle := strings.ToLower(query)
		filtered = make([]argo.LogEntry, 0, len(entries))
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.Content), needle) ||
				strings.Contains(strings.ToLower(e.PodName), needle) {
				filtered = append(filtered, e)
			}
		}
	}

	view := LogView{Total: len(entries), Matched: len(filtered)}
	kept := filtered
	if maxLines > 0 && len(filtered) > maxLines {
		kept = filtered[len(filtered)-maxLines:]
		view.Truncated = true
	}
	view.Returned = len(kept)

	lines := make([]string, len(kept))
	for i, e := range kept {
		if e.PodName != "" {
			lines[i] = "[" + e.PodName + "] " + e.Content
		} else {
			lines[i] = e.Content
		}
	}
	view.Text = strings.Join(lines, "\n")

	for _, rule := range logNoteRules {
		if rule.matches(hasQuery, view) {
			view.Note = rule.render(query, view)
			break
		}
	}
	return view
}
