package operations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"argo-workflows-mcp/backend/internal/argo"
	"argo-workflows-mcp/backend/internal/logging"
)

const (
	DefaultListLimit    = 50
	DefaultLogMaxLines  = 200
	DefaultLogContainer = "main"

	verbTerminate = "terminate"
)

// Workflows implements the workflow tools.
type Workflows struct {
	base
	confirmer *Confirmer
}

// NewWorkflows binds the workflow operations to one dispatch scope.
func NewWorkflows(scope Scope, confirmer *Confirmer, logger *logging.Logger) *Workflows {
	return &Workflows{base: newBase(scope, logger), confirmer: confirmer}
}

// List returns workflows in ns, optionally filtered by phase. The filter is
// applied to the page returned by the server.
func (w *Workflows) List(ctx context.Context, ns, status string, limit int) Result {
	ns, denied := w.namespace(ns)
	if denied != nil {
		return denied
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	status = strings.TrimSpace(status)
	w.logger.Info("listing workflows", "namespace", ns, "status", status, "limit", limit)

	items, err := w.scope.Client.ListWorkflows(ctx, ns, limit, "", "")
	if err != nil {
		w.logger.Error("failed to list workflows", "namespace", ns, "error", err)
		return backendError("list workflows", err)
	}

	filtered := items
	if status != "" {
		filtered = items[:0:0]
		for _, wf := range items {
			if strings.EqualFold(wf.Phase, status) {
				filtered = append(filtered, wf)
			}
		}
	}

	message := fmt.Sprintf("Found %d workflow(s) in namespace '%s'", len(filtered), ns)
	if len(filtered) == 0 {
		message = fmt.Sprintf("No workflows found in namespace '%s'", ns)
	}

	var data Fields
	data.Add("namespace", ns)
	data.Add("count", strconv.Itoa(len(filtered)))
	if status != "" {
		data.Add("status_filter", status)
	}
	if len(filtered) > 0 {
		lines := make([]string, len(filtered))
		for i, wf := range filtered {
			lines[i] = w.describe(wf)
		}
		data.Add("workflows", strings.Join(lines, "\n"))
	}
	return Success{Message: message, Data: data}
}

func (w *Workflows) describe(wf argo.WorkflowSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", wf.Name, wf.Phase)
	if wf.Progress != "" {
		b.WriteString(" progress=" + wf.Progress)
	}
	b.WriteString(" started=" + formatTime(wf.StartedAt))
	if d, ok := durationText(wf.StartedAt, wf.FinishedAt, w.now()); ok {
		b.WriteString(" duration=" + d)
	}
	return b.String()
}

// Get returns a workflow's status, metadata and arguments. With
// includeManifest the full server payload is appended as YAML.
func (w *Workflows) Get(ctx context.Context, ns, name string, includeManifest bool) Result {
	ns, denied := w.namespace(ns)
	if denied != nil {
		return denied
	}
	w.logger.Info("getting workflow", "namespace", ns, "name", name)

	wf, err := w.scope.Client.GetWorkflow(ctx, ns, name)
	if err != nil {
		w.logger.Error("failed to get workflow", "namespace", ns, "name", name, "error", err)
		return backendError("retrieve workflow details", err)
	}

	var data Fields
	data.Add("namespace", wf.Namespace)
	data.Add("status", wf.Phase)
	data.Add("progress", orNA(wf.Progress))
	data.Add("started_at", formatTime(wf.StartedAt))
	data.Add("finished_at", formatTime(wf.FinishedAt))
	duration, ok := durationText(wf.StartedAt, wf.FinishedAt, w.now())
	if !ok {
		duration = notAvailable
	}
	data.Add("duration", duration)
	if strings.TrimSpace(wf.Message) != "" {
		data.Add("message", wf.Message)
	}
	if len(wf.Labels) > 0 {
		data.Add("labels", joinPairs(wf.Labels, "=", ", "))
	}
	if len(wf.Annotations) > 0 {
		data.Add("annotations", joinPairs(wf.Annotations, "=", ", "))
	}
	if len(wf.Parameters) > 0 {
		data.Add("parameters", joinPairs(wf.Parameters, " = ", "\n"))
	}
	if len(wf.Outputs) > 0 {
		data.Add("outputs", joinPairs(wf.Outputs, " = ", "\n"))
	}
	if includeManifest {
		manifest, err := toYAML(wf.Raw)
		if err != nil {
			w.logger.Warn("failed to render workflow manifest", "namespace", ns, "name", name, "error", err)
		} else {
			data.Add("manifest", manifest)
		}
	}

	return Success{
		Message: fmt.Sprintf("Workflow '%s' status: %s", wf.Name, wf.Phase),
		Data:    data,
	}
}

// LogsRequest selects and filters workflow logs.
type LogsRequest struct {
	Namespace string
	Workflow  string
	Pod       string
	Container string
	Search    string
	MaxLines  int
}

// Logs fetches a workflow's logs and applies FormatLogs.
func (w *Workflows) Logs(ctx context.Context, req LogsRequest) Result {
	ns, denied := w.namespace(req.Namespace)
	if denied != nil {
		return denied
	}
	container := strings.TrimSpace(req.Container)
	if container == "" {
		container = DefaultLogContainer
	}
	pod := strings.TrimSpace(req.Pod)
	search := strings.TrimSpace(req.Search)
	w.logger.Info("getting workflow logs",
		"namespace", ns,
		"workflow", req.Workflow,
		"pod", pod,
		"container", container,
		"search", search,
		"max_lines", req.MaxLines,
	)

	entries, err := w.scope.Client.GetWorkflowLogs(ctx, ns, req.Workflow, pod, container)
	if err != nil {
		w.logger.Error("failed to fetch workflow logs", "namespace", ns, "workflow", req.Workflow, "error", err)
		return backendError("fetch workflow logs", err)
	}
	view := FormatLogs(entries, search, req.MaxLines)

	var data Fields
	data.Add("namespace", ns)
	data.Add("workflow", req.Workflow)
	data.Add("container", container)
	if pod != "" {
		data.Add("pod", pod)
	}
	if search != "" {
		data.Add("search_term", search)
	}
	data.Add("total_lines", strconv.Itoa(view.Total))
	data.Add("matching_lines", strconv.Itoa(view.Matched))
	data.Add("returned_lines", strconv.Itoa(view.Returned))
	if req.MaxLines > 0 {
		data.Add("max_lines", strconv.Itoa(req.MaxLines))
	}
	if view.Note != "" {
		data.Add("note", view.Note)
	}
	data.Add("logs", view.Text)

	var message string
	switch {
	case view.Returned == 0 && search != "":
		message = fmt.Sprintf("No log lines matching '%s' for '%s'", search, req.Workflow)
	case view.Returned == 0:
		message = fmt.Sprintf("No logs returned for '%s'", req.Workflow)
	case search != "":
		message = fmt.Sprintf("Retrieved %d of %d matching log line(s) for '%s'", view.Returned, view.Matched, req.Workflow)
	default:
		message = fmt.Sprintf("Retrieved %d of %d log line(s) for '%s'", view.Returned, view.Total, req.Workflow)
	}
	return Success{Message: message, Data: data}
}

// TerminateRequest describes a terminate call. DryRun defaults to true at
// the tool surface.
type TerminateRequest struct {
	Namespace         string
	Name              string
	Reason            string
	DryRun            bool
	ConfirmationToken string
}

// Terminate stops a running workflow. The call moves through Blocked,
// DryRun, AwaitingConfirmation and Executing in that order; only Executing
// reaches the destructive endpoint.
func (w *Workflows) Terminate(ctx context.Context, req TerminateRequest) Result {
	w.logger.Info("terminating workflow",
		"namespace", req.Namespace,
		"name", req.Name,
		"reason", req.Reason,
		"dry_run", req.DryRun,
		"has_token", req.ConfirmationToken != "",
	)

	if !w.scope.Policy.AllowDestructive {
		return Errorf(CodePermissionDenied, "Destructive operations are not allowed by configuration")
	}
	ns, denied := w.namespace(req.Namespace)
	if denied != nil {
		return denied
	}
	action := Action{Connection: w.scope.Connection, Verb: verbTerminate, Namespace: ns, Name: req.Name, Reason: req.Reason}
	token := strings.TrimSpace(req.ConfirmationToken)

	if req.DryRun {
		preview, failed := w.terminatePreview(ctx, action)
		if failed != nil {
			return failed
		}
		issued, err := w.confirmer.Issue(action)
		if err != nil {
			return Errorf(CodeInvalidConfirmationToken, "Failed to issue confirmation token: %v", err)
		}
		return DryRun{
			Preview: preview,
			Instructions: fmt.Sprintf("Call again with dry_run=false and confirmation_token='%s' within %s to terminate the workflow.",
				issued, w.confirmer.TTL()),
		}
	}

	if token == "" && w.scope.Policy.RequireConfirmation {
		preview, failed := w.terminatePreview(ctx, action)
		if failed != nil {
			return failed
		}
		issued, err := w.confirmer.Issue(action)
		if err != nil {
			return Errorf(CodeInvalidConfirmationToken, "Failed to issue confirmation token: %v", err)
		}
		return NeedsConfirmation{Preview: preview, Token: issued}
	}

	if token != "" {
		if err := w.confirmer.Redeem(action, token); err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				return Cancelled{Reason: "Confirmation token expired; run a dry run again to obtain a new one"}
			case errors.Is(err, ErrTokenUsed):
				return Errorf(CodeInvalidConfirmationToken, "Confirmation token was already used to terminate %s/%s; run a dry run again to obtain a new one", ns, req.Name)
			}
			return Errorf(CodeInvalidConfirmationToken, "Confirmation token was not issued for terminating %s/%s with this reason on the active connection", ns, req.Name)
		}
	}

	wf, err := w.scope.Client.TerminateWorkflow(ctx, ns, req.Name)
	if err != nil {
		if token != "" {
			w.confirmer.Release(token)
		}
		w.logger.Error("failed to terminate workflow", "namespace", ns, "name", req.Name, "error", err)
		return backendError("terminate workflow", err)
	}
	w.logger.Warn("workflow terminated", "namespace", ns, "name", req.Name, "reason", req.Reason)

	var data Fields
	data.Add("namespace", ns)
	data.Add("workflow", req.Name)
	data.Add("action", "terminated")
	data.Add("reason", req.Reason)
	data.Add("status", wf.Phase)
	return Success{Message: fmt.Sprintf("Workflow '%s' terminated", req.Name), Data: data}
}

// terminatePreview describes what terminating would do, using a read-only
// lookup of the workflow.
func (w *Workflows) terminatePreview(ctx context.Context, a Action) (string, Result) {
	wf, err := w.scope.Client.GetWorkflow(ctx, a.Namespace, a.Name)
	if err != nil {
		return "", backendError("look up workflow to terminate", err)
	}
	var b strings.Builder
	b.WriteString("Would terminate workflow\n")
	fmt.Fprintf(&b, "- Namespace: %s\n", a.Namespace)
	fmt.Fprintf(&b, "- Workflow: %s\n", a.Name)
	fmt.Fprintf(&b, "- Reason: %s\n", a.Reason)
	fmt.Fprintf(&b, "- Current status: %s\n", wf.Phase)
	if wf.Progress != "" {
		fmt.Fprintf(&b, "- Progress: %s\n", wf.Progress)
	}
	if d, ok := durationText(wf.StartedAt, wf.FinishedAt, w.now()); ok {
		fmt.Fprintf(&b, "- Running for: %s\n", d)
	}
	b.WriteString("- Impact: all running pods of the workflow will be stopped immediately")
	return b.String(), nil
}

// Retry resubmits a failed workflow. Requires allow_mutations.
func (w *Workflows) Retry(ctx context.Context, ns, name string, restartSuccessful bool) Result {
	w.logger.Info("retrying workflow", "namespace", ns, "name", name, "restart_successful", restartSuccessful)
	if !w.scope.Policy.AllowMutations {
		return Errorf(CodePermissionDenied, "Mutation operations are not allowed by configuration")
	}
	ns, denied := w.namespace(ns)
	if denied != nil {
		return denied
	}

	wf, err := w.scope.Client.RetryWorkflow(ctx, ns, name, restartSuccessful)
	if err != nil {
		w.logger.Error("failed to retry workflow", "namespace", ns, "name", name, "error", err)
		return backendError("retry workflow", err)
	}

	var data Fields
	data.Add("namespace", ns)
	data.Add("workflow", name)
	data.Add("restart_successful", strconv.FormatBool(restartSuccessful))
	data.Add("status", wf.Phase)
	return Success{Message: fmt.Sprintf("Workflow '%s' retry initiated", name), Data: data}
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func toYAML(v any) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}
