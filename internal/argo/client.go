// Package argo is a small client for the Argo Workflows server REST API.
package argo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the subset of the Argo Workflows API used by the tool server.
// Implementations must be safe for concurrent use.
type Client interface {
	io.Closer

	// ListWorkflows lists workflows in namespace. Empty selectors are omitted.
	ListWorkflows(ctx context.Context, namespace string, limit int, labelSelector, fieldSelector string) ([]WorkflowSummary, error)
	// GetWorkflow retrieves a single workflow.
	GetWorkflow(ctx context.Context, namespace, name string) (*WorkflowDetail, error)
	// GetWorkflowLogs fetches log lines for the workflow's pods. An empty
	// podName returns logs of every pod.
	GetWorkflowLogs(ctx context.Context, namespace, workflowName, podName, container string) ([]LogEntry, error)
	// TerminateWorkflow stops a running workflow immediately.
	TerminateWorkflow(ctx context.Context, namespace, name string) (*WorkflowSummary, error)
	// RetryWorkflow resubmits failed steps of a workflow.
	RetryWorkflow(ctx context.Context, namespace, name string, restartSuccessful bool) (*WorkflowSummary, error)

	ListCronWorkflows(ctx context.Context, namespace string) ([]CronWorkflowSummary, error)
	GetCronWorkflow(ctx context.Context, namespace, name string) (*CronWorkflowDetail, error)
	SuspendCronWorkflow(ctx context.Context, namespace, name string) (*CronWorkflowSummary, error)
	ResumeCronWorkflow(ctx context.Context, namespace, name string) (*CronWorkflowSummary, error)

	ListWorkflowTemplates(ctx context.Context, namespace, labelSelector string) ([]TemplateSummary, error)
	GetWorkflowTemplate(ctx context.Context, namespace, name string) (*TemplateDetail, error)
	ListClusterWorkflowTemplates(ctx context.Context, labelSelector string) ([]TemplateSummary, error)
	GetClusterWorkflowTemplate(ctx context.Context, name string) (*TemplateDetail, error)
}

// WorkflowSummary is the list view of a workflow. Phase is free-form; Argo
// may add phases, so it is compared case-insensitively and never enumerated.
type WorkflowSummary struct {
	Name       string
	Namespace  string
	Phase      string
	Progress   string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// WorkflowDetail is a workflow with its metadata, arguments and outputs.
type WorkflowDetail struct {
	WorkflowSummary
	Message     string
	Labels      map[string]string
	Annotations map[string]string
	Parameters  map[string]string
	Outputs     map[string]string
	// Raw is the complete payload returned by the server.
	Raw map[string]any
}

// LogEntry is one line of workflow output.
type LogEntry struct {
	PodName string
	Content string
}

// CronWorkflowSummary is the list view of a CronWorkflow.
type CronWorkflowSummary struct {
	Name              string
	Namespace         string
	Schedules         []string
	Timezone          string
	Suspended         bool
	ConcurrencyPolicy string
	LastScheduledAt   *time.Time
	Active            []string
}

// CronWorkflowDetail adds metadata and the workflow spec entrypoint.
type CronWorkflowDetail struct {
	CronWorkflowSummary
	Labels     map[string]string
	Entrypoint string
	Conditions []string
	Raw        map[string]any
}

// TemplateSummary describes a WorkflowTemplate or ClusterWorkflowTemplate.
// Namespace is empty for cluster-scoped templates.
type TemplateSummary struct {
	Name      string
	Namespace string
	CreatedAt *time.Time
}

// TemplateDetail adds the template spec.
type TemplateDetail struct {
	TemplateSummary
	Labels     map[string]string
	Entrypoint string
	Templates  []string
	Parameters map[string]string
	Spec       map[string]any
}

var (
	// ErrNotFound is matched by errors.Is when the server returned 404.
	ErrNotFound = errors.New("argo: not found")
	// ErrMalformedResponse is returned when a payload lacks required fields.
	ErrMalformedResponse = errors.New("argo: malformed response")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("argo API call failed with status %s", e.Status)
	}
	return fmt.Sprintf("argo API call failed with status %s: %s", e.Status, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) true for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
