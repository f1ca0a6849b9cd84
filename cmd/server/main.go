package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"onboarding/internal/platform/config"
	"onboarding/internal/platform/httpserver"
	"onboarding/internal/platform/logger"
	"onboarding/internal/platform/metrics"
)

// main wires the onboarding service and runs it until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("onboarding service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(ctx, cfg, log, metrics.New(), prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)
	for _, task := range a.background {
		g.Go(func() error { return task(ctx) })
	}
	g.Go(func() error {
		log.InfoContext(ctx, "starting onboarding service", "addr", cfg.Server.Addr)
		return httpserver.Serve(ctx, httpserver.New(cfg.Server.Addr, a.router), cfg.Server.ShutdownTimeout)
	})
	return g.Wait()
}
