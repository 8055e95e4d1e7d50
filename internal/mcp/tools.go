package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"argo-workflows-mcp/backend/internal/operations"
)

const (
	ToolListWorkflows                = "list_workflows"
	ToolGetWorkflow                  = "get_workflow"
	ToolGetWorkflowLogs              = "get_workflow_logs"
	ToolTerminateWorkflow            = "terminate_workflow"
	ToolRetryWorkflow                = "retry_workflow"
	ToolListCronWorkflows            = "list_cron_workflows"
	ToolGetCronWorkflow              = "get_cron_workflow"
	ToolGetCronHistory               = "get_cron_history"
	ToolToggleCronSuspension         = "toggle_cron_suspension"
	ToolListWorkflowTemplates        = "list_workflow_templates"
	ToolGetWorkflowTemplate          = "get_workflow_template"
	ToolListClusterWorkflowTemplates = "list_cluster_workflow_templates"
	ToolGetClusterWorkflowTemplate   = "get_cluster_workflow_template"
)

func readOnlyTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(true),
		DestructiveHint: mcp.ToBoolPtr(false),
		IdempotentHint:  mcp.ToBoolPtr(true),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}))
	return mcp.NewTool(name, opts...)
}

func mutatingTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}))
	return mcp.NewTool(name, opts...)
}

func destructiveTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(false),
		DestructiveHint: mcp.ToBoolPtr(true),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}))
	return mcp.NewTool(name, opts...)
}

func (s *Server) registerTools() {
	// Workflows
	s.mcpServer.AddTool(
		readOnlyTool(ToolListWorkflows,
			mcp.WithDescription("List workflows in a namespace with optional status filtering"),
			mcp.WithString("namespace", mcp.Description("Kubernetes namespace (defaults to the connection's namespace)")),
			mcp.WithString("status",
				mcp.Description("Filter by phase, case-insensitive: Running, Succeeded, Failed, Pending or Error"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of workflows to return"),
				mcp.DefaultNumber(operations.DefaultListLimit),
			),
		), s.handleListWorkflows)

	s.mcpServer.AddTool(
		readOnlyTool(ToolGetWorkflow,
			mcp.WithDescription("Get detailed information about a specific workflow"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("Kubernetes namespace (blank for the connection's namespace)")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
			mcp.WithBoolean("include_manifest",
				mcp.Description("Include the full workflow manifest as YAML"),
				mcp.DefaultBool(false),
			),
		), s.handleGetWorkflow)

	s.mcpServer.AddTool(
		readOnlyTool(ToolGetWorkflowLogs,
			mcp.WithDescription("Get logs from a workflow's pods"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("Kubernetes namespace")),
			mcp.WithString("workflow_name", mcp.Required(), mcp.Description("Workflow name")),
			mcp.WithString("pod_name", mcp.Description("Specific pod name")),
			mcp.WithString("container",
				mcp.Description("Container name"),
				mcp.DefaultString(operations.DefaultLogContainer),
			),
			mcp.WithString("search", mcp.Description("Return only log lines containing this case-insensitive substring")),
			mcp.WithNumber("max_lines",
				mcp.Description("Maximum number of lines to return (0 for all lines)"),
				mcp.DefaultNumber(operations.DefaultLogMaxLines),
			),
		), s.handleGetWorkflowLogs)

	s.mcpServer.AddTool(
		destructiveTool(ToolTerminateWorkflow,
			mcp.WithDescription("Terminate a running workflow (DESTRUCTIVE - requires confirmation)"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("Kubernetes namespace")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
			mcp.WithString("reason", mcp.Required(), mcp.Description("Reason for termination (for audit)")),
			mcp.WithBoolean("dry_run",
				mcp.Description("Preview mode - shows what would happen and returns a confirmation token"),
				mcp.DefaultBool(true),
			),
			mcp.WithString("confirmation_token", mcp.Description("Token from the dry-run preview")),
		), s.handleTerminateWorkflow)

	s.mcpServer.AddTool(
		mutatingTool(ToolRetryWorkflow,
			mcp.WithDescription("Retry a failed workflow"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("Kubernetes namespace")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
			mcp.WithBoolean("restart_successful",
				mcp.Description("Also restart successful steps"),
				mcp.DefaultBool(false),
			),
		), s.handleRetryWorkflow)

	// CronWorkflows
	s.mcpServer.AddTool(
		readOnlyTool(ToolListCronWorkflows,
			mcp.WithDescription("List CronWorkflows in a namespace"),
			mcp.WithString("namespace", mcp.Description("Kubernetes namespace")),
			mcp.WithBoolean("suspended", mcp.Description("Only return suspended (true) or active (false) CronWorkflows")),
		), s.handleListCronWorkflows)

	s.mcpServer.AddTool(
		readOnlyTool(ToolGetCronWorkflow,
			mcp.WithDescription("Get CronWorkflow details including the next scheduled run"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("Kubernetes namespace")),
			mcp.WithString("name", mcp.Required(), mcp.Description("CronWorkflow name")),
		), s.handleGetCronWorkflow)

	s.mcpServer.AddTool(
		readOnlyTool(ToolGetCronHistory,
			mcp.WithDescription("Get recent workflow runs created by a CronWorkflow"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("Kubernetes namespace")),
			mcp.WithString("name", mcp.Required(), mcp.Description("CronWorkflow name")),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of runs to return"),
				mcp.DefaultNumber(operations.DefaultCronHistoryLimit),
			),
		), s.handleGetCronHistory)

	s.mcpServer.AddTool(
		mutatingTool(ToolToggleCronSuspension,
			mcp.WithDescription("Suspend or resume a CronWorkflow"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("Kubernetes namespace")),
			mcp.WithString("name", mcp.Required(), mcp.Description("CronWorkflow name")),
			mcp.WithBoolean("suspend", mcp.Required(), mcp.Description("true to suspend, false to resume")),
		), s.handleToggleCronSuspension)

	// Templates
	s.mcpServer.AddTool(
		readOnlyTool(ToolListWorkflowTemplates,
			mcp.WithDescription("List WorkflowTemplates in a namespace"),
			mcp.WithString("namespace", mcp.Description("Kubernetes namespace")),
			mcp.WithString("label_selector", mcp.Description("Kubernetes label selector")),
		), s.handleListWorkflowTemplates)

	s.mcpServer.AddTool(
		readOnlyTool(ToolGetWorkflowTemplate,
			mcp.WithDescription("Get WorkflowTemplate details"),
			mcp.WithString("namespace", mcp.Required(), mcp.Description("Kubernetes namespace")),
			mcp.WithString("name", mcp.Required(), mcp.Description("WorkflowTemplate name")),
		), s.handleGetWorkflowTemplate)

	s.mcpServer.AddTool(
		readOnlyTool(ToolListClusterWorkflowTemplates,
			mcp.WithDescription("List ClusterWorkflowTemplates (cluster-scoped)"),
			mcp.WithString("label_selector", mcp.Description("Kubernetes label selector")),
		), s.handleListClusterWorkflowTemplates)

	s.mcpServer.AddTool(
		readOnlyTool(ToolGetClusterWorkflowTemplate,
			mcp.WithDescription("Get ClusterWorkflowTemplate details"),
			mcp.WithString("name", mcp.Required(), mcp.Description("ClusterWorkflowTemplate name")),
		), s.handleGetClusterWorkflowTemplate)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, nil, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		limit, err := a.integer("limit", operations.DefaultListLimit)
		if err != nil {
			return invalid(err)
		}
		return operations.NewWorkflows(scope, s.confirmer, s.logger).List(ctx, a.str("namespace"), a.str("status"), limit)
	})
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"namespace", "name"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		includeManifest, err := a.boolean("include_manifest", false)
		if err != nil {
			return invalid(err)
		}
		return operations.NewWorkflows(scope, s.confirmer, s.logger).Get(ctx, a.str("namespace"), a.str("name"), includeManifest)
	})
}

func (s *Server) handleGetWorkflowLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"namespace", "workflow_name"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		maxLines, err := a.integer("max_lines", operations.DefaultLogMaxLines)
		if err != nil {
			return invalid(err)
		}
		return operations.NewWorkflows(scope, s.confirmer, s.logger).Logs(ctx, operations.LogsRequest{
			Namespace: a.str("namespace"),
			Workflow:  a.str("workflow_name"),
			Pod:       a.str("pod_name"),
			Container: a.str("container"),
			Search:    a.str("search"),
			MaxLines:  maxLines,
		})
	})
}

func (s *Server) handleTerminateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"namespace", "name", "reason"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		dryRun, err := a.boolean("dry_run", true)
		if err != nil {
			return invalid(err)
		}
		return operations.NewWorkflows(scope, s.confirmer, s.logger).Terminate(ctx, operations.TerminateRequest{
			Namespace:         a.str("namespace"),
			Name:              a.str("name"),
			Reason:            a.str("reason"),
			DryRun:            dryRun,
			ConfirmationToken: a.str("confirmation_token"),
		})
	})
}

func (s *Server) handleRetryWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"namespace", "name"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		restartSuccessful, err := a.boolean("restart_successful", false)
		if err != nil {
			return invalid(err)
		}
		return operations.NewWorkflows(scope, s.confirmer, s.logger).Retry(ctx, a.str("namespace"), a.str("name"), restartSuccessful)
	})
}

func (s *Server) handleListCronWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, nil, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		suspended, err := a.optionalBool("suspended")
		if err != nil {
			return invalid(err)
		}
		return operations.NewCronWorkflows(scope, s.logger).List(ctx, a.str("namespace"), suspended)
	})
}

func (s *Server) handleGetCronWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"namespace", "name"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		return operations.NewCronWorkflows(scope, s.logger).Get(ctx, a.str("namespace"), a.str("name"))
	})
}

func (s *Server) handleGetCronHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"namespace", "name"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		limit, err := a.integer("limit", operations.DefaultCronHistoryLimit)
		if err != nil {
			return invalid(err)
		}
		return operations.NewCronWorkflows(scope, s.logger).History(ctx, a.str("namespace"), a.str("name"), limit)
	})
}

func (s *Server) handleToggleCronSuspension(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"namespace", "name", "suspend"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		suspend, err := a.boolean("suspend", false)
		if err != nil {
			return invalid(err)
		}
		return operations.NewCronWorkflows(scope, s.logger).ToggleSuspension(ctx, a.str("namespace"), a.str("name"), suspend)
	})
}

func (s *Server) handleListWorkflowTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, nil, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		return operations.NewTemplates(scope, s.logger).List(ctx, a.str("namespace"), a.str("label_selector"))
	})
}

func (s *Server) handleGetWorkflowTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"namespace", "name"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		return operations.NewTemplates(scope, s.logger).Get(ctx, a.str("namespace"), a.str("name"))
	})
}

func (s *Server) handleListClusterWorkflowTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, nil, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		return operations.NewTemplates(scope, s.logger).ListCluster(ctx, a.str("label_selector"))
	})
}

func (s *Server) handleGetClusterWorkflowTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dispatch(ctx, request, []string{"name"}, func(ctx context.Context, scope operations.Scope, a arguments) operations.Result {
		return operations.NewTemplates(scope, s.logger).GetCluster(ctx, a.str("name"))
	})
}
