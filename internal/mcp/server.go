// Package mcp exposes the Argo operations as MCP tools.
package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"argo-workflows-mcp/backend/internal/audit"
	"argo-workflows-mcp/backend/internal/connection"
	"argo-workflows-mcp/backend/internal/logging"
	"argo-workflows-mcp/backend/internal/operations"
	"argo-workflows-mcp/backend/internal/repository"
)

// Connections hands out leases on the client for the active connection.
type Connections interface {
	Acquire(ctx context.Context) (*connection.Lease, error)
}

// Deps are the collaborators every dispatch goes through.
type Deps struct {
	Connections Connections
	Settings    repository.SettingsStore
	Auditor     *audit.Auditor
	Confirmer   *operations.Confirmer
	Logger      *logging.Logger
}

type Server struct {
	mcpServer   *server.MCPServer
	connections Connections
	settings    repository.SettingsStore
	auditor     *audit.Auditor
	confirmer   *operations.Confirmer
	logger      *logging.Logger
}

func NewServer(name, version string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		connections: deps.Connections,
		settings:    deps.Settings,
		auditor:     deps.Auditor,
		confirmer:   deps.Confirmer,
		logger:      logger,
	}

	s.registerTools()
	logger.Info("MCP server created", "name", name, "version", version)
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// call runs one operation against the dispatch scope.
type call func(ctx context.Context, scope operations.Scope, args arguments) operations.Result

// dispatch validates arguments, acquires the active client, loads the
// policy and runs fn, all inside one audited invocation.
func (s *Server) dispatch(ctx context.Context, request mcp.CallToolRequest, required []string, fn call) (*mcp.CallToolResult, error) {
	tool := request.Params.Name
	args, _ := request.Params.Arguments.(map[string]any)

	out, err := s.auditor.Run(ctx, tool, args, func(ctx context.Context) (audit.Outcome, error) {
		a := arguments(args)
		if missing := a.missing(required...); len(missing) > 0 {
			return operations.Errorf(operations.CodeValidation, "Missing required argument(s): %s", strings.Join(missing, ", ")), nil
		}

		lease, err := s.connections.Acquire(ctx)
		if err != nil {
			return connectionError(err), nil
		}
		defer lease.Release()

		policy, err := repository.LoadPolicy(ctx, s.settings)
		if err != nil {
			s.logger.Error("failed to load settings", "tool", tool, "error", err)
			return operations.Errorf(operations.CodeSettings, "Failed to load settings: %v", err), nil
		}

		scope := operations.Scope{
			Client:           lease.Client,
			Connection:       lease.Connection.Revision(),
			DefaultNamespace: lease.Connection.DefaultNamespace,
			Policy:           policy,
		}
		return fn(ctx, scope, a), nil
	})
	if err != nil {
		return nil, err
	}
	return toToolResult(out), nil
}

func connectionError(err error) operations.Result {
	switch {
	case errors.Is(err, connection.ErrNoActiveConnection):
		return operations.Errorf(operations.CodeNoActiveConnection,
			"No active Argo connection configured. Add and activate a connection through the admin API.")
	case errors.Is(err, context.Canceled):
		return operations.Cancelled{Reason: "request cancelled"}
	default:
		return operations.Errorf(operations.CodeConnection, "%v", err)
	}
}

func toToolResult(out audit.Outcome) *mcp.CallToolResult {
	if out.Failed() {
		return mcp.NewToolResultError(out.String())
	}
	return mcp.NewToolResultText(out.String())
}

// invalid renders an argument that is present but malformed.
func invalid(err error) operations.Result {
	return operations.Errorf(operations.CodeValidation, "%v", err)
}
