package main

import (
	"context"
	"flag"
	"os"

	"github.com/redwing-381/mirmer.ai/internal/mcptools"
)

func runMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to council.yml")
	httpAddr := fs.String("http", "", "serve streamable HTTP on this address instead of stdio")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, *configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := mcptools.NewCouncilService(a.orch, a.monitor)
	if *httpAddr != "" {
		a.logger.Info("serving MCP over HTTP", "addr", *httpAddr)
		return mcptools.RunMCPServer(ctx, svc, *httpAddr)
	}
	return mcptools.RunStdio(ctx, svc)
}
