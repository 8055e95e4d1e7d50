package operations

import (
	"strconv"
	"strings"
	"time"
)

const notAvailable = "n/a"

// elapsed returns finish-start for finished runs and now-start for running
// ones. It reports false when there is no start or the result is negative.
func elapsed(start, finish *time.Time, now time.Time) (time.Duration, bool) {
	if start == nil {
		return 0, false
	}
	end := now
	if finish != nil {
		end = *finish
	}
	d := end.Sub(*start)
	if d < 0 {
		return 0, false
	}
	return d, true
}

// formatDuration renders d as "1d 2h 3m 4s", omitting zero components.
// Sub-second durations render as "0s".
func formatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, strconv.FormatInt(days, 10)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.FormatInt(hours, 10)+"h")
	}
	if minutes > 0 {
		parts = append(parts, strconv.FormatInt(minutes, 10)+"m")
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, strconv.FormatInt(seconds, 10)+"s")
	}
	return strings.Join(parts, " ")
}

func durationText(start, finish *time.Time, now time.Time) (string, bool) {
	d, ok := elapsed(start, finish, now)
	if !ok {
		return "", false
	}
	return formatDuration(d), true
}

func formatTime(t *time.Time) string {
	if t == nil {
		return notAvailable
	}
	return t.UTC().Format(time.RFC3339)
}
