package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hospitalcore/internal/config"
	"hospitalcore/internal/core"
	"hospitalcore/internal/logging"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	svc      *core.Service
	durable  core.DurableStore
	registry *prometheus.Registry
	expvars  *core.ExpvarMetricsRecorder
}

// bootstrap loads configuration, opens the durable store, and restores the
// service state from it.
func bootstrap(ctx context.Context, cmd *cobra.Command, logOut io.Writer) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return nil, err
	}
	adapter := logging.NewAdapter(log)

	durable, err := core.OpenDurableStore(ctx, cfg, adapter)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	expvars := core.NewExpvarMetricsRecorder("")

	autobilling, err := core.AutobillingFromConfig(cfg)
	if err != nil {
		_ = durable.Close()
		return nil, err
	}

	svc := core.NewInMemoryService(nil,
		core.WithLogger(adapter),
		autobilling,
		core.WithAuditRecorder(logging.NewAuditRecorder(log)),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{core.NewPrometheusMetricsRecorder(registry), expvars}),
		core.WithDurableStore(durable, cfg.RemoteTimeout),
	)
	if err := svc.Load(ctx); err != nil {
		_ = durable.Close()
		return nil, fmt.Errorf("restore state: %w", err)
	}
	return &app{cfg: cfg, log: log, svc: svc, durable: durable, registry: registry, expvars: expvars}, nil
}

func (a *app) Close() error {
	return a.durable.Close()
}
