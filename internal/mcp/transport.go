package mcp

import (
	"context"
	"errors"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/server"
)

// ServeStdio serves MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(s.logger.StdLogger())
	s.logger.Info("serving MCP over stdio")
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HTTPHandlers are the HTTP transports mounted on the admin server.
type HTTPHandlers struct {
	streamable *server.StreamableHTTPServer
	sse        *server.SSEServer
}

// MountHTTPHandlers exposes streamable HTTP at /mcp and the SSE transport at
// /mcp/sse and /mcp/message. mw is applied to every route.
func MountHTTPHandlers(e *echo.Echo, mcpServer *server.MCPServer, mw ...echo.MiddlewareFunc) *HTTPHandlers {
	h := &HTTPHandlers{
		streamable: server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp")),
		sse:        server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp")),
	}

	e.Any("/mcp", echo.WrapHandler(h.streamable), mw...)
	e.GET("/mcp/sse", echo.WrapHandler(h.sse), mw...)
	e.POST("/mcp/message", echo.WrapHandler(h.sse), mw...)
	return h
}

// Shutdown closes open sessions on both transports.
func (h *HTTPHandlers) Shutdown(ctx context.Context) error {
	return errors.Join(h.streamable.Shutdown(ctx), h.sse.Shutdown(ctx))
}
