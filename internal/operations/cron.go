package operations

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"argo-workflows-mcp/backend/internal/argo"
	"argo-workflows-mcp/backend/internal/logging"
)

const (
	DefaultCronHistoryLimit = 10

	// CronWorkflowLabel is set by the Argo controller on every workflow a
	// CronWorkflow spawns.
	CronWorkflowLabel = "workflows.argoproj.io/cron-workflow"
)

// CronWorkflows implements the CronWorkflow tools.
type CronWorkflows struct {
	base
}

func NewCronWorkflows(scope Scope, logger *logging.Logger) *CronWorkflows {
	return &CronWorkflows{base: newBase(scope, logger)}
}

// List returns CronWorkflows in ns. A non-nil suspended keeps only those in
// that state.
func (c *CronWorkflows) List(ctx context.Context, ns string, suspended *bool) Result {
	ns, denied := c.namespace(ns)
	if denied != nil {
		return denied
	}
	c.logger.Info("listing cron workflows", "namespace", ns, "suspended", suspended)

	items, err := c.scope.Client.ListCronWorkflows(ctx, ns)
	if err != nil {
		c.logger.Error("failed to list cron workflows", "namespace", ns, "error", err)
		return backendError("list cron workflows", err)
	}

	var lines []string
	for _, cw := range items {
		if suspended != nil && cw.Suspended != *suspended {
			continue
		}
		line := fmt.Sprintf("%s schedule='%s'", cw.Name, strings.Join(cw.Schedules, "; "))
		if cw.Suspended {
			line += " [suspended]"
		}
		line += " last=" + formatTime(cw.LastScheduledAt)
		lines = append(lines, line)
	}

	message := fmt.Sprintf("Found %d cron workflow(s) in namespace '%s'", len(lines), ns)
	if len(lines) == 0 {
		message = fmt.Sprintf("No cron workflows found in namespace '%s'", ns)
	}
	var data Fields
	data.Add("namespace", ns)
	data.Add("count", strconv.Itoa(len(lines)))
	if suspended != nil {
		data.Add("suspended_filter", strconv.FormatBool(*suspended))
	}
	if len(lines) > 0 {
		data.Add("cron_workflows", strings.Join(lines, "\n"))
	}
	return Success{Message: message, Data: data}
}

// Get describes one CronWorkflow including its next fire time.
func (c *CronWorkflows) Get(ctx context.Context, ns, name string) Result {
	ns, denied := c.namespace(ns)
	if denied != nil {
		return denied
	}
	c.logger.Info("getting cron workflow", "namespace", ns, "name", name)

	cw, err := c.scope.Client.GetCronWorkflow(ctx, ns, name)
	if err != nil {
		c.logger.Error("failed to get cron workflow", "namespace", ns, "name", name, "error", err)
		return backendError("retrieve cron workflow", err)
	}

	var data Fields
	data.Add("name", cw.Name)
	data.Add("namespace", cw.Namespace)
	data.Add("schedule", strings.Join(cw.Schedules, "; "))
	data.Add("timezone", orDefaultText(cw.Timezone, "UTC"))
	data.Add("suspended", strconv.FormatBool(cw.Suspended))
	data.Add("concurrency_policy", orDefaultText(cw.ConcurrencyPolicy, "Allow"))
	data.Add("last_scheduled_at", formatTime(cw.LastScheduledAt))
	data.Add("next_scheduled_at", nextRunText(cw.CronWorkflowSummary, c.now()))
	if len(cw.Active) > 0 {
		data.Add("active", strings.Join(cw.Active, ", "))
	}
	if cw.Entrypoint != "" {
		data.Add("entrypoint", cw.Entrypoint)
	}
	if len(cw.Labels) > 0 {
		data.Add("labels", joinPairs(cw.Labels, "=", ", "))
	}
	if len(cw.Conditions) > 0 {
		data.Add("conditions", strings.Join(cw.Conditions, "\n"))
	}
	return Success{Message: fmt.Sprintf("CronWorkflow '%s' details", cw.Name), Data: data}
}

// NextRun returns the earliest time after now at which any of the schedules
// fires, evaluated in timezone (UTC when empty).
func NextRun(schedules []string, timezone string, now time.Time) (time.Time, error) {
	if len(schedules) == 0 {
		return time.Time{}, fmt.Errorf("no schedule defined")
	}
	var next time.Time
	for _, expr := range schedules {
		spec := expr
		if timezone != "" {
			spec = "CRON_TZ=" + timezone + " " + expr
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid schedule %q: %w", expr, err)
		}
		t := sched.Next(now)
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("schedule never fires")
	}
	return next, nil
}

func nextRunText(cw argo.CronWorkflowSummary, now time.Time) string {
	if cw.Suspended {
		return notAvailable + " (suspended)"
	}
	next, err := NextRun(cw.Schedules, cw.Timezone, now)
	if err != nil {
		return fmt.Sprintf("%s (%v)", notAvailable, err)
	}
	return next.UTC().Format(time.RFC3339)
}

// History lists workflows spawned by a CronWorkflow, newest first.
func (c *CronWorkflows) History(ctx context.Context, ns, name string, limit int) Result {
	ns, denied := c.namespace(ns)
	if denied != nil {
		return denied
	}
	if limit <= 0 {
		limit = DefaultCronHistoryLimit
	}
	c.logger.Info("getting cron history", "namespace", ns, "name", name, "limit", limit)

	runs, err := c.scope.Client.ListWorkflows(ctx, ns, 0, CronWorkflowLabel+"="+name, "")
	if err != nil {
		c.logger.Error("failed to list cron history", "namespace", ns, "name", name, "error", err)
		return backendError("list cron workflow history", err)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i].StartedAt, runs[j].StartedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	total := len(runs)
	if len(runs) > limit {
		runs = runs[:limit]
	}

	lines := make([]string, len(runs))
	for i, wf := range runs {
		line := fmt.Sprintf("%s [%s] started=%s", wf.Name, wf.Phase, formatTime(wf.StartedAt))
		if d, ok := durationText(wf.StartedAt, wf.FinishedAt, c.now()); ok {
			line += " duration=" + d
		}
		lines[i] = line
	}

	var data Fields
	data.Add("namespace", ns)
	data.Add("cron_workflow", name)
	data.Add("count", strconv.Itoa(len(runs)))
	data.Add("total", strconv.Itoa(total))
	if len(lines) > 0 {
		data.Add("history", strings.Join(lines, "\n"))
	}
	message := fmt.Sprintf("Found %d run(s) of cron workflow '%s'", len(runs), name)
	if total == 0 {
		message = fmt.Sprintf("No runs found for cron workflow '%s'", name)
	}
	return Success{Message: message, Data: data}
}

// ToggleSuspension suspends or resumes a CronWorkflow. Requires
// allow_mutations.
func (c *CronWorkflows) ToggleSuspension(ctx context.Context, ns, name string, suspend bool) Result {
	c.logger.Info("toggling cron suspension", "namespace", ns, "name", name, "suspend", suspend)
	if !c.scope.Policy.AllowMutations {
		return Errorf(CodePermissionDenied, "Mutation operations are not allowed by configuration")
	}
	ns, denied := c.namespace(ns)
	if denied != nil {
		return denied
	}

	var (
		cw  *argo.CronWorkflowSummary
		err error
	)
	verb := "resumed"
	if suspend {
		verb = "suspended"
		cw, err = c.scope.Client.SuspendCronWorkflow(ctx, ns, name)
	} else {
		cw, err = c.scope.Client.ResumeCronWorkflow(ctx, ns, name)
	}
	if err != nil {
		c.logger.Error("failed to toggle cron suspension", "namespace", ns, "name", name, "error", err)
		return backendError("update cron workflow suspension", err)
	}

	var data Fields
	data.Add("namespace", ns)
	data.Add("cron_workflow", name)
	data.Add("suspended", strconv.FormatBool(cw.Suspended))
	return Success{Message: fmt.Sprintf("CronWorkflow '%s' %s", name, verb), Data: data}
}

func orDefaultText(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
