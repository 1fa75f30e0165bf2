package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/redwing-381/mirmer.ai/internal/server"
)

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to council.yml")
	addr := fs.String("addr", "", "listen address (overrides listenAddr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, *configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	listen := a.cfg.ListenAddr
	if *addr != "" {
		listen = *addr
	}

	srv := server.New(a.orch, a.convs,
		server.WithStats(a.monitor),
		server.WithQuota(a.limiter),
		server.WithGatherer(a.registry),
		server.WithAllowedOrigins(a.cfg.AllowedOrigins),
		server.WithVersion(version),
		server.WithLogger(a.logger),
	)
	if _, err := srv.Start(listen); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
