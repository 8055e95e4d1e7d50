package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"argo-workflows-mcp/backend/internal/argo"
	"argo-workflows-mcp/backend/internal/argo/argotest"
	"argo-workflows-mcp/backend/internal/audit"
	"argo-workflows-mcp/backend/internal/connection"
	"argo-workflows-mcp/backend/internal/operations"
	"argo-workflows-mcp/backend/internal/repository"
	"argo-workflows-mcp/backend/pkg/models"
)

type fixture struct {
	srv     *Server
	repo    *repository.SQLiteStore
	client  *argotest.MockClient
	factory func(*models.Connection) (argo.Client, error)
}

func newFixture(t *testing.T, withConnection bool) *fixture {
	t.Helper()
	ctx := context.Background()

	repo, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Migrate(ctx))

	if withConnection {
		require.NoError(t, repo.CreateConnection(ctx, &models.Connection{
			Name:             "local",
			BaseURL:          "http://argo.local:2746",
			DefaultNamespace: "argo",
			IsActive:         true,
		}))
	}

	f := &fixture{repo: repo, client: new(argotest.MockClient)}
	f.factory = func(*models.Connection) (argo.Client, error) { return f.client, nil }

	confirmer, err := operations.NewConfirmer("", 10*time.Minute)
	require.NoError(t, err)

	manager := connection.NewManager(repo, func(c *models.Connection) (argo.Client, error) { return f.factory(c) }, nil)
	t.Cleanup(func() { manager.Close() })

	f.srv = NewServer("argo-workflows-mcp", "test", Deps{
		Connections: manager,
		Settings:    repo,
		Auditor:     audit.NewAuditor(repo, audit.NewMetrics(prometheus.NewRegistry()), nil),
		Confirmer:   confirmer,
	})
	return f
}

func request(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func (f *fixture) audit(t *testing.T) []*models.AuditRecord {
	t.Helper()
	records, err := f.repo.ListAudit(context.Background(), 0, 100)
	require.NoError(t, err)
	return records
}

func TestDispatch_MissingArgumentsFailBeforeConnectionUse(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.srv.handleTerminateWorkflow(context.Background(), request(ToolTerminateWorkflow, map[string]any{
		"namespace": "argo",
		"name":      "  ",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "ERROR [VALIDATION_ERROR]: Missing required argument(s): name, reason", resultText(t, res))
	f.client.AssertNotCalled(t, "GetWorkflow", mock.Anything, mock.Anything, mock.Anything)

	records := f.audit(t)
	require.Len(t, records, 1)
	assert.Equal(t, ToolTerminateWorkflow, records[0].ToolName)
	assert.Equal(t, models.AuditStatusError, records[0].Status)
}

func TestDispatch_NoActiveConnection(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.srv.handleListWorkflows(context.Background(), request(ToolListWorkflows, nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, res), "ERROR [NO_ACTIVE_CONNECTION]:"))
	require.Len(t, f.audit(t), 1)
}

func TestDispatch_ClientInitFailure(t *testing.T) {
	f := newFixture(t, true)
	f.factory = func(*models.Connection) (argo.Client, error) { return nil, errors.New("invalid base URL") }

	res, err := f.srv.handleListWorkflows(context.Background(), request(ToolListWorkflows, nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	text := resultText(t, res)
	assert.True(t, strings.HasPrefix(text, "ERROR [CONNECTION_ERROR]:"))
	assert.Contains(t, text, "invalid base URL")
}

func TestDispatch_ListWorkflowsUsesConnectionDefaultNamespace(t *testing.T) {
	f := newFixture(t, true)
	f.client.On("ListWorkflows", mock.Anything, "argo", operations.DefaultListLimit, "", "").
		Return([]argo.WorkflowSummary{{Name: "wf-1", Namespace: "argo", Phase: "Running"}}, nil)

	res, err := f.srv.handleListWorkflows(context.Background(), request(ToolListWorkflows, map[string]any{"namespace": ""}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, res), "Found 1 workflow(s) in namespace 'argo'\n"))
	f.client.AssertExpectations(t)

	records := f.audit(t)
	require.Len(t, records, 1)
	assert.Equal(t, models.AuditStatusSuccess, records[0].Status)
	assert.Equal(t, `{"namespace":""}`, records[0].Arguments)
}

func TestDispatch_InvalidArgumentType(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.srv.handleListWorkflows(context.Background(), request(ToolListWorkflows, map[string]any{"limit": "many"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "ERROR [VALIDATION_ERROR]: limit must be an integer")
	f.client.AssertNotCalled(t, "ListWorkflows", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_TerminateBlockedByDefault(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.srv.handleTerminateWorkflow(context.Background(), request(ToolTerminateWorkflow, map[string]any{
		"namespace": "argo",
		"name":      "wf-1",
		"reason":    "stuck",
		"dry_run":   false,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, res), "ERROR [PERMISSION_DENIED]:"))
	f.client.AssertNotCalled(t, "TerminateWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_TerminateConfirmationRoundTrip(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// Policy is read per call, so no restart is needed.
	require.NoError(t, f.repo.SetSetting(ctx, models.SettingAllowDestructive, "true"))

	f.client.On("GetWorkflow", mock.Anything, "argo", "wf-1").
		Return(&argo.WorkflowDetail{WorkflowSummary: argo.WorkflowSummary{Name: "wf-1", Namespace: "argo", Phase: "Running"}}, nil)
	f.client.On("TerminateWorkflow", mock.Anything, "argo", "wf-1").
		Return(&argo.WorkflowSummary{Name: "wf-1", Namespace: "argo", Phase: "Failed"}, nil)

	args := map[string]any{"namespace": "argo", "name": "wf-1", "reason": "stuck"}
	res, err := f.srv.handleTerminateWorkflow(ctx, request(ToolTerminateWorkflow, args))
	require.NoError(t, err)
	preview := resultText(t, res)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(preview, "DRY RUN MODE\n"))
	f.client.AssertNotCalled(t, "TerminateWorkflow", mock.Anything, mock.Anything, mock.Anything)

	const marker = "confirmation_token='"
	start := strings.Index(preview, marker)
	require.GreaterOrEqual(t, start, 0)
	token := preview[start+len(marker):]
	token = token[:strings.Index(token, "'")]

	args["dry_run"] = false
	args["confirmation_token"] = token
	res, err = f.srv.handleTerminateWorkflow(ctx, request(ToolTerminateWorkflow, args))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, res), "Workflow 'wf-1' terminated\n"))
	f.client.AssertNumberOfCalls(t, "TerminateWorkflow", 1)

	res, err = f.srv.handleTerminateWorkflow(ctx, request(ToolTerminateWorkflow, args))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resultText(t, res), "ERROR [INVALID_CONFIRMATION_TOKEN]:"))
	f.client.AssertNumberOfCalls(t, "TerminateWorkflow", 1)

	records := f.audit(t)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.NotContains(t, rec.Arguments, token)
	}
}

func TestDispatch_ToggleCronRequiresSuspendFlag(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.srv.handleToggleCronSuspension(context.Background(), request(ToolToggleCronSuspension, map[string]any{
		"namespace": "argo",
		"name":      "nightly",
	}))
	require.NoError(t, err)
	assert.Equal(t, "ERROR [VALIDATION_ERROR]: Missing required argument(s): suspend", resultText(t, res))
}

func TestNewServer_RegistersAllTools(t *testing.T) {
	f := newFixture(t, false)
	tools := f.srv.GetMCPServer().ListTools()

	for _, name := range []string{
		ToolListWorkflows, ToolGetWorkflow, ToolGetWorkflowLogs, ToolTerminateWorkflow, ToolRetryWorkflow,
		ToolListCronWorkflows, ToolGetCronWorkflow, ToolGetCronHistory, ToolToggleCronSuspension,
		ToolListWorkflowTemplates, ToolGetWorkflowTemplate, ToolListClusterWorkflowTemplates, ToolGetClusterWorkflowTemplate,
	} {
		require.Contains(t, tools, name)
	}
	assert.Len(t, tools, 13)

	terminate := tools[ToolTerminateWorkflow].Tool
	require.NotNil(t, terminate.Annotations.DestructiveHint)
	assert.True(t, *terminate.Annotations.DestructiveHint)
	assert.ElementsMatch(t, []string{"namespace", "name", "reason"}, terminate.InputSchema.Required)

	list := tools[ToolListWorkflows].Tool
	require.NotNil(t, list.Annotations.ReadOnlyHint)
	assert.True(t, *list.Annotations.ReadOnlyHint)

	status, ok := list.InputSchema.Properties["status"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, status, "enum")
	assert.Contains(t, status["description"], "case-insensitive")
}

func TestDispatch_ListWorkflowsStatusIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, true)
	f.client.On("ListWorkflows", mock.Anything, "argo", operations.DefaultListLimit, "", "").
		Return([]argo.WorkflowSummary{
			{Name: "wf-1", Namespace: "argo", Phase: "Succeeded"},
			{Name: "wf-2", Namespace: "argo", Phase: "Failed"},
		}, nil)

	res, err := f.srv.handleListWorkflows(context.Background(), request(ToolListWorkflows, map[string]any{"status": "succeeded"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "wf-1 [Succeeded]")
	assert.NotContains(t, text, "wf-2")
}
