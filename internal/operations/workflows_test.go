package operations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"argo-workflows-mcp/backend/internal/argo"
	"argo-workflows-mcp/backend/internal/argo/argotest"
	"argo-workflows-mcp/backend/pkg/models"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestWorkflows(t *testing.T, client argo.Client, policy models.Policy) *Workflows {
	t.Helper()
	confirmer, err := NewConfirmer("test-secret", 10*time.Minute)
	require.NoError(t, err)
	w := NewWorkflows(Scope{Client: client, DefaultNamespace: "argo", Policy: policy}, confirmer, nil)
	w.now = func() time.Time { return testNow }
	return w
}

func runningWorkflow(ns, name string) *argo.WorkflowDetail {
	return &argo.WorkflowDetail{
		WorkflowSummary: argo.WorkflowSummary{
			Name:      name,
			Namespace: ns,
			Phase:     "Running",
			Progress:  "1/3",
			StartedAt: ptr(testNow.Add(-5 * time.Minute)),
		},
	}
}

func TestTerminate_BlockedBeforeAnyBackendCall(t *testing.T) {
	for _, mutations := range []bool{false, true} {
		for _, confirm := range []bool{false, true} {
			for _, dryRun := range []bool{false, true} {
				for _, token := range []string{"", "v1.1.x.y"} {
					name := fmt.Sprintf("mutations=%v/confirm=%v/dry=%v/token=%q", mutations, confirm, dryRun, token)
					t.Run(name, func(t *testing.T) {
						client := new(argotest.MockClient)
						w := newTestWorkflows(t, client, models.Policy{
							AllowDestructive:    false,
							AllowMutations:      mutations,
							RequireConfirmation: confirm,
						})

						res := w.Terminate(context.Background(), TerminateRequest{
							Namespace: "argo", Name: "wf-1", Reason: "stuck", DryRun: dryRun, ConfirmationToken: token,
						})

						require.IsType(t, Error{}, res)
						assert.Equal(t, CodePermissionDenied, res.(Error).Code)
						client.AssertNotCalled(t, "GetWorkflow", mock.Anything, mock.Anything, mock.Anything)
						client.AssertNotCalled(t, "TerminateWorkflow", mock.Anything, mock.Anything, mock.Anything)
					})
				}
			}
		}
	}
}

func TestTerminate_DryRunNeverTerminates(t *testing.T) {
	for _, confirm := range []bool{false, true} {
		t.Run(fmt.Sprintf("confirm=%v", confirm), func(t *testing.T) {
			client := new(argotest.MockClient)
			client.On("GetWorkflow", mock.Anything, "argo", "wf-1").Return(runningWorkflow("argo", "wf-1"), nil)
			w := newTestWorkflows(t, client, models.Policy{AllowDestructive: true, RequireConfirmation: confirm})

			res := w.Terminate(context.Background(), TerminateRequest{
				Name: "wf-1", Reason: "stuck", DryRun: true,
			})

			require.IsType(t, DryRun{}, res)
			dry := res.(DryRun)
			assert.Contains(t, dry.Preview, "- Workflow: wf-1")
			assert.Contains(t, dry.Preview, "- Current status: Running")
			assert.Contains(t, dry.Preview, "- Running for: 5m")
			assert.Contains(t, dry.Instructions, "dry_run=false")
			assert.Contains(t, dry.Instructions, "confirmation_token='v1.")
			client.AssertNotCalled(t, "TerminateWorkflow", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestTerminate_ConfirmationFlow(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("GetWorkflow", mock.Anything, "argo", "wf-1").Return(runningWorkflow("argo", "wf-1"), nil)
	client.On("TerminateWorkflow", mock.Anything, "argo", "wf-1").
		Return(&argo.WorkflowSummary{Name: "wf-1", Namespace: "argo", Phase: "Failed"}, nil).Once()
	w := newTestWorkflows(t, client, models.Policy{AllowDestructive: true, RequireConfirmation: true})

	req := TerminateRequest{Namespace: "argo", Name: "wf-1", Reason: "stuck"}
	res := w.Terminate(context.Background(), req)
	require.IsType(t, NeedsConfirmation{}, res)
	token := res.(NeedsConfirmation).Token
	client.AssertNotCalled(t, "TerminateWorkflow", mock.Anything, mock.Anything, mock.Anything)

	req.ConfirmationToken = token
	res = w.Terminate(context.Background(), req)
	require.IsType(t, Success{}, res)
	status, _ := res.(Success).Data.Get("status")
	assert.Equal(t, "Failed", status)

	// Replaying the same token does not terminate again.
	res = w.Terminate(context.Background(), req)
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodeInvalidConfirmationToken, res.(Error).Code)
	client.AssertNumberOfCalls(t, "TerminateWorkflow", 1)
}

func TestTerminate_TokenForOtherWorkflowRejected(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("GetWorkflow", mock.Anything, "A", "X").Return(runningWorkflow("A", "X"), nil)
	w := newTestWorkflows(t, client, models.Policy{AllowDestructive: true, RequireConfirmation: true})

	res := w.Terminate(context.Background(), TerminateRequest{Namespace: "A", Name: "X", Reason: "stuck", DryRun: true})
	require.IsType(t, DryRun{}, res)
	token := extractToken(t, res.(DryRun).Instructions)

	res = w.Terminate(context.Background(), TerminateRequest{
		Namespace: "A", Name: "Y", Reason: "stuck", ConfirmationToken: token,
	})
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodeInvalidConfirmationToken, res.(Error).Code)
	client.AssertNotCalled(t, "TerminateWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestTerminate_TokenFromOtherConnectionRejected(t *testing.T) {
	confirmer, err := NewConfirmer("test-secret", 10*time.Minute)
	require.NoError(t, err)
	policy := models.Policy{AllowDestructive: true, RequireConfirmation: true}

	staging := new(argotest.MockClient)
	staging.On("GetWorkflow", mock.Anything, "argo", "wf-1").Return(runningWorkflow("argo", "wf-1"), nil)
	onStaging := NewWorkflows(Scope{Client: staging, Connection: "staging@1", DefaultNamespace: "argo", Policy: policy}, confirmer, nil)

	res := onStaging.Terminate(context.Background(), TerminateRequest{Namespace: "argo", Name: "wf-1", Reason: "stuck", DryRun: true})
	require.IsType(t, DryRun{}, res)
	token := extractToken(t, res.(DryRun).Instructions)

	prod := new(argotest.MockClient)
	onProd := NewWorkflows(Scope{Client: prod, Connection: "prod@1", DefaultNamespace: "argo", Policy: policy}, confirmer, nil)
	res = onProd.Terminate(context.Background(), TerminateRequest{
		Namespace: "argo", Name: "wf-1", Reason: "stuck", ConfirmationToken: token,
	})
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodeInvalidConfirmationToken, res.(Error).Code)
	prod.AssertNotCalled(t, "TerminateWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestTerminate_BackendFailureKeepsTokenUsable(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("GetWorkflow", mock.Anything, "argo", "wf-1").Return(runningWorkflow("argo", "wf-1"), nil)
	client.On("TerminateWorkflow", mock.Anything, "argo", "wf-1").
		Return(nil, errors.New("connection reset")).Once()
	client.On("TerminateWorkflow", mock.Anything, "argo", "wf-1").
		Return(&argo.WorkflowSummary{Name: "wf-1", Namespace: "argo", Phase: "Failed"}, nil).Once()
	w := newTestWorkflows(t, client, models.Policy{AllowDestructive: true, RequireConfirmation: true})

	req := TerminateRequest{Namespace: "argo", Name: "wf-1", Reason: "stuck"}
	res := w.Terminate(context.Background(), req)
	require.IsType(t, NeedsConfirmation{}, res)
	req.ConfirmationToken = res.(NeedsConfirmation).Token

	res = w.Terminate(context.Background(), req)
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodeArgoAPI, res.(Error).Code)

	res = w.Terminate(context.Background(), req)
	require.IsType(t, Success{}, res)

	res = w.Terminate(context.Background(), req)
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodeInvalidConfirmationToken, res.(Error).Code)
	assert.Contains(t, res.(Error).Message, "already used")
	client.AssertNumberOfCalls(t, "TerminateWorkflow", 2)
}

func TestTerminate_ExpiredTokenIsCancelled(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("GetWorkflow", mock.Anything, "argo", "wf-1").Return(runningWorkflow("argo", "wf-1"), nil)
	w := newTestWorkflows(t, client, models.Policy{AllowDestructive: true, RequireConfirmation: true})
	clock := testNow
	w.confirmer.now = func() time.Time { return clock }

	res := w.Terminate(context.Background(), TerminateRequest{Namespace: "argo", Name: "wf-1", Reason: "r"})
	require.IsType(t, NeedsConfirmation{}, res)

	clock = clock.Add(time.Hour)
	res = w.Terminate(context.Background(), TerminateRequest{
		Namespace: "argo", Name: "wf-1", Reason: "r", ConfirmationToken: res.(NeedsConfirmation).Token,
	})
	assert.IsType(t, Cancelled{}, res)
	client.AssertNotCalled(t, "TerminateWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestTerminate_WithoutConfirmationRequirement(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("TerminateWorkflow", mock.Anything, "argo", "wf-1").
		Return(&argo.WorkflowSummary{Name: "wf-1", Phase: "Failed"}, nil)
	w := newTestWorkflows(t, client, models.Policy{AllowDestructive: true, RequireConfirmation: false})

	res := w.Terminate(context.Background(), TerminateRequest{Name: "wf-1", Reason: "r"})
	assert.IsType(t, Success{}, res)

	// A supplied token is still checked.
	res = w.Terminate(context.Background(), TerminateRequest{Name: "wf-1", Reason: "r", ConfirmationToken: "mock-token-123"})
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodeInvalidConfirmationToken, res.(Error).Code)
	client.AssertNumberOfCalls(t, "TerminateWorkflow", 1)
}

func TestTerminate_PreviewNotFound(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("GetWorkflow", mock.Anything, "argo", "ghost").
		Return(nil, &argo.APIError{StatusCode: 404, Status: "404 Not Found"})
	w := newTestWorkflows(t, client, models.Policy{AllowDestructive: true})

	res := w.Terminate(context.Background(), TerminateRequest{Name: "ghost", Reason: "r", DryRun: true})
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodeNotFound, res.(Error).Code)
}

func TestRetry_RequiresMutations(t *testing.T) {
	client := new(argotest.MockClient)
	w := newTestWorkflows(t, client, models.Policy{AllowDestructive: true})

	res := w.Retry(context.Background(), "argo", "wf-1", false)
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodePermissionDenied, res.(Error).Code)
	client.AssertNotCalled(t, "RetryWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	client.On("RetryWorkflow", mock.Anything, "argo", "wf-1", true).
		Return(&argo.WorkflowSummary{Name: "wf-1", Phase: "Running"}, nil)
	w = newTestWorkflows(t, client, models.Policy{AllowMutations: true})
	res = w.Retry(context.Background(), "", "wf-1", true)
	require.IsType(t, Success{}, res)
	v, _ := res.(Success).Data.Get("restart_successful")
	assert.Equal(t, "true", v)
}

func TestList_StatusFilterIsCaseInsensitive(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("ListWorkflows", mock.Anything, "argo", DefaultListLimit, "", "").Return([]argo.WorkflowSummary{
		{Name: "a", Namespace: "argo", Phase: "succeeded"},
		{Name: "b", Namespace: "argo", Phase: "Running"},
		{Name: "c", Namespace: "argo", Phase: "SUCCEEDED"},
	}, nil)
	w := newTestWorkflows(t, client, models.DefaultPolicy())

	res := w.List(context.Background(), " ", "Succeeded", 0)
	require.IsType(t, Success{}, res)
	data := res.(Success).Data
	count, _ := data.Get("count")
	assert.Equal(t, "2", count)
	lines, _ := data.Get("workflows")
	assert.Contains(t, lines, "a [succeeded]")
	assert.Contains(t, lines, "c [SUCCEEDED]")
	assert.NotContains(t, lines, "b [Running]")
}

func TestReadOperationsAreIdempotent(t *testing.T) {
	client := new(argotest.MockClient)
	detail := runningWorkflow("argo", "wf-1")
	detail.Labels = map[string]string{"b": "2", "a": "1", "c": "3"}
	detail.Parameters = map[string]string{"y": "2", "x": "1"}
	detail.Raw = map[string]any{"metadata": map[string]any{"name": "wf-1"}}
	client.On("GetWorkflow", mock.Anything, "argo", "wf-1").Return(detail, nil)
	client.On("ListWorkflows", mock.Anything, "argo", 10, "", "").Return([]argo.WorkflowSummary{detail.WorkflowSummary}, nil)
	w := newTestWorkflows(t, client, models.DefaultPolicy())

	first := w.Get(context.Background(), "argo", "wf-1", true)
	second := w.Get(context.Background(), "argo", "wf-1", true)
	assert.Equal(t, first, second)
	assert.Equal(t, first.String(), second.String())
	labels, _ := first.(Success).Data.Get("labels")
	assert.Equal(t, "a=1, b=2, c=3", labels)
	manifest, _ := first.(Success).Data.Get("manifest")
	assert.Equal(t, "metadata:\n    name: wf-1", manifest)

	assert.Equal(t, w.List(context.Background(), "argo", "", 10), w.List(context.Background(), "argo", "", 10))
}

func TestGet_DurationOmittedOnClockSkew(t *testing.T) {
	client := new(argotest.MockClient)
	detail := runningWorkflow("argo", "wf-1")
	detail.StartedAt = ptr(testNow.Add(time.Hour))
	client.On("GetWorkflow", mock.Anything, "argo", "wf-1").Return(detail, nil)
	w := newTestWorkflows(t, client, models.DefaultPolicy())

	res := w.Get(context.Background(), "argo", "wf-1", false)
	duration, _ := res.(Success).Data.Get("duration")
	assert.Equal(t, "n/a", duration)
}

func TestNamespacePolicy(t *testing.T) {
	client := new(argotest.MockClient)
	policy := models.DefaultPolicy()
	policy.NamespacesAllow = []string{"team-*", "argo"}
	policy.NamespacesDeny = []string{"team-secret"}
	w := newTestWorkflows(t, client, policy)

	for _, ns := range []string{"kube-system", "team-secret"} {
		res := w.Get(context.Background(), ns, "wf-1", false)
		require.IsType(t, Error{}, res, ns)
		assert.Equal(t, CodeNamespaceDenied, res.(Error).Code)
	}
	client.AssertNotCalled(t, "GetWorkflow", mock.Anything, mock.Anything, mock.Anything)

	assert.True(t, NamespaceAllowed(policy, "team-a"))
	assert.True(t, NamespaceAllowed(models.Policy{}, "anything"))
}

func TestBackendErrorMapping(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("GetWorkflowLogs", mock.Anything, "argo", "wf-1", "", "main").Return(nil, fmt.Errorf("failed to make request: %w", context.Canceled)).Once()
	client.On("GetWorkflowLogs", mock.Anything, "argo", "wf-1", "", "main").Return(nil, &argo.APIError{StatusCode: 500, Status: "500 Internal Server Error", Body: "boom"}).Once()
	w := newTestWorkflows(t, client, models.DefaultPolicy())

	res := w.Logs(context.Background(), LogsRequest{Workflow: "wf-1"})
	assert.IsType(t, Cancelled{}, res)

	res = w.Logs(context.Background(), LogsRequest{Workflow: "wf-1"})
	require.IsType(t, Error{}, res)
	assert.Equal(t, CodeArgoAPI, res.(Error).Code)
	assert.Contains(t, res.(Error).Message, "boom")
}

func TestLogs_Data(t *testing.T) {
	client := new(argotest.MockClient)
	client.On("GetWorkflowLogs", mock.Anything, "argo", "wf-1", "pod-a", "wait").Return([]argo.LogEntry{
		{PodName: "pod-a", Content: "one"},
		{PodName: "pod-a", Content: "two"},
	}, nil)
	w := newTestWorkflows(t, client, models.DefaultPolicy())

	res := w.Logs(context.Background(), LogsRequest{Workflow: "wf-1", Pod: "pod-a", Container: "wait", MaxLines: 1})
	require.IsType(t, Success{}, res)
	s := res.(Success)
	assert.Equal(t, "Retrieved 1 of 2 log line(s) for 'wf-1'", s.Message)
	logs, _ := s.Data.Get("logs")
	assert.Equal(t, "[pod-a] two", logs)
	note, _ := s.Data.Get("note")
	assert.Equal(t, "Showing last 1 of 2 lines. Total lines: 2.", note)
}

func extractToken(t *testing.T, instructions string) string {
	t.Helper()
	const marker = "confirmation_token='"
	start := strings.Index(instructions, marker)
	require.GreaterOrEqual(t, start, 0)
	rest := instructions[start+len(marker):]
	end := strings.Index(rest, "'")
	require.Greater(t, end, 0)
	return rest[:end]
}
