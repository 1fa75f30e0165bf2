// Package mcptools exposes the council as Model Context Protocol tools.
package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewCouncilMCPServer creates an MCP server with the council tools registered.
func NewCouncilMCPServer(svc *CouncilService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mirmer-council",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_council",
		Description: "Ask a council of language models a question. Every member answers, the members anonymously rank each other's answers, and a chairman model synthesizes the final answer.",
	}, svc.AskCouncil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_performance",
		Description: "Return latency percentiles per council stage and per model, plus a human-readable summary.",
	}, svc.GetPerformance)

	return server
}

// RunStdio serves the council tools over stdin/stdout until ctx is done.
func RunStdio(ctx context.Context, svc *CouncilService) error {
	return NewCouncilMCPServer(svc).Run(ctx, &mcp.StdioTransport{})
}

// RunMCPServer starts an HTTP server exposing the council MCP tools.
func RunMCPServer(ctx context.Context, svc *CouncilService, addr string) error {
	server := NewCouncilMCPServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
