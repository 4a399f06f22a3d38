package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/ibeacon/config"
	"github.com/mjasion/balena-home/ibeacon/health"
	"github.com/mjasion/balena-home/ibeacon/profiling"
	"github.com/mjasion/balena-home/ibeacon/telemetry"
)

func main() {
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(serve(cfg, logger))
}

func serve(cfg *config.Config, logger *zap.Logger) int {
	defer logger.Sync()

	logger.Info("starting iBeacon service", zap.String("mode", mode))
	cfg.PrintConfig(logger)

	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		logger.Error("failed to initialize profiler", zap.Error(err))
		return 1
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			logger.Error("failed to shutdown profiler", zap.Error(err))
		}
	}()

	ctx := context.Background()
	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry providers", zap.Error(err))
		return 1
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown OpenTelemetry providers", zap.Error(err))
		}
	}()

	ctx, mainSpan := otel.Tracer("main").Start(ctx, "main.run")
	defer mainSpan.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.HealthCheck.URL != "" {
		pinger, err := health.NewPinger(cfg.HealthCheck.URL, cfg.HealthCheck.Period, logger)
		if err != nil {
			logger.Error("failed to initialize healthcheck", zap.Error(err))
			return 1
		}
		pinger.Start()
		defer pinger.Stop()
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("iBeacon service failed", zap.Error(err))
		return 1
	}

	logger.Info("iBeacon service stopped")
	return 0
}
