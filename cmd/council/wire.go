package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redwing-381/mirmer.ai/internal/completion"
	"github.com/redwing-381/mirmer.ai/internal/config"
	"github.com/redwing-381/mirmer.ai/internal/council"
	"github.com/redwing-381/mirmer.ai/internal/perf"
	"github.com/redwing-381/mirmer.ai/internal/ratelimit"
	"github.com/redwing-381/mirmer.ai/internal/store"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	limiter  *ratelimit.Limiter
	monitor  *perf.Monitor
	orch     *council.Orchestrator
	store    store.Store
	convs    *store.Service
}

// newApp loads configuration and builds the component graph. Logs go to
// logOut so stdout stays clean for ask and mcp output.
func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	limiter := ratelimit.New(
		ratelimit.WithMaxRetries(cfg.MaxRetries),
		ratelimit.WithLogger(logger),
	)
	monitor := perf.New(
		perf.WithRegisterer(registry),
		perf.WithLogger(logger),
	)

	client := completion.NewClient(cfg.APIKey,
		completion.WithAPIURL(cfg.APIURL),
		completion.WithProvider(cfg.Provider),
		completion.WithTimeout(cfg.RequestTimeout),
		completion.WithLimiter(limiter),
		completion.WithLogger(logger),
	)

	dispatcher := council.NewDispatcher(client,
		council.WithWaiter(limiter, cfg.Provider),
		council.WithModelTimer(monitor),
		council.WithMaxParallel(cfg.MaxParallel),
		council.WithDispatchLogger(logger),
	)

	models := make([]completion.ModelID, len(cfg.CouncilModels))
	for i, m := range cfg.CouncilModels {
		models[i] = completion.ModelID(m)
	}
	orch := council.New(dispatcher, models, completion.ModelID(cfg.ChairmanModel),
		council.WithStageTimer(monitor),
		council.WithLogger(logger),
	)

	st, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		limiter:  limiter,
		monitor:  monitor,
		orch:     orch,
		store:    st,
		convs:    store.NewService(st),
	}, nil
}

func openStore(sc config.StorageConfig) (store.Store, error) {
	switch sc.Backend {
	case "", config.BackendMemory:
		return store.NewMemStore(), nil
	case config.BackendKuzu:
		return openKuzuStore(sc.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func (a *app) Close() error {
	return a.store.Close()
}
