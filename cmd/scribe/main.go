package main

import (
	"MeetingScribe/internal/cli"
	"MeetingScribe/pkg/config"
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/metrics"
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.Load(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := config.GlobalConfig

	if err := logger.Init(cfg.Log, cfg.Mode); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	m := metrics.NewMetrics()
	metrics.SetGlobal(m)

	deps := &cli.Dependencies{
		Config:  cfg,
		Metrics: m,
	}
	return cli.NewRootCmd(deps).Execute()
}
