// Package main implements the entry point for the VitaBand edge agent.
// The agent reads the wearable's sensors, aligns and windows the samples,
// classifies each window, and publishes interpreted guidance to the
// health topics with per-topic delivery guarantees.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ola-oye/VitaBand/busclient"
	"github.com/ola-oye/VitaBand/config"
	"github.com/ola-oye/VitaBand/controller"
	"github.com/ola-oye/VitaBand/metric"
	"github.com/ola-oye/VitaBand/pkg/clock"
	"github.com/ola-oye/VitaBand/sensor"
	"github.com/ola-oye/VitaBand/telemetry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "vitaband"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Agent failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting VitaBand agent",
		"version", Version,
		"bus_url", cfg.Bus.URL,
		"device", cfg.Device.Name)

	metricsRegistry := metric.NewMetricsRegistry()
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		slog.Info("Metrics endpoint enabled", "address", metricsServer.Address())
	}

	bus, err := busclient.NewClient(cfg.Bus.URL,
		busclient.WithClientName(cfg.Device.Name),
		busclient.WithMaxReconnects(cfg.Bus.MaxReconnects),
		busclient.WithReconnectWait(cfg.Bus.ReconnectWait.Std()),
		busclient.WithCircuitThreshold(cfg.Bus.CircuitThreshold),
		busclient.WithMaxBackoff(cfg.Bus.MaxBackoff.Std()),
		busclient.WithTimeout(cfg.Bus.ConnectTimeout.Std()),
		busclient.WithDrainTimeout(cfg.Bus.DrainTimeout.Std()),
		busclient.WithLogger(newBusLogger(logger)),
		busclient.WithDisconnectCallback(func(err error) {
			metricsRegistry.CoreMetrics().BusConnected.Set(0)
		}),
		busclient.WithReconnectCallback(func() {
			metricsRegistry.CoreMetrics().BusConnected.Set(1)
			metricsRegistry.CoreMetrics().BusReconnects.Inc()
		}),
	)
	if err != nil {
		return fmt.Errorf("create bus client: %w", err)
	}

	sources, err := buildSources(cfg)
	if err != nil {
		return fmt.Errorf("build sensor sources: %w", err)
	}

	ctrl := controller.New(controller.Deps{
		Config:          cfg,
		Bus:             bus,
		Sources:         sources,
		Clock:           clock.New(),
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})
	if err := ctrl.Initialize(); err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := ctrl.Start(signalCtx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	slog.Info("VitaBand agent running")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Controller.ShutdownGrace.Std()+5*time.Second)
	defer shutdownCancel()

	if err := ctrl.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Warn("Metrics server stop failed", "error", err)
		}
	}

	slog.Info("VitaBand agent shutdown complete")
	return nil
}

// buildSources returns replay sources when a recording is configured and
// the synthetic set otherwise
func buildSources(cfg *config.Config) ([]sensor.Source, error) {
	if cfg.Sensors.ReplayPath == "" {
		return sensor.DefaultSources(cfg.Sensors.Seed, clock.New()), nil
	}

	kinds := map[string]telemetry.SensorKind{
		"max30102": telemetry.KindPulseOx,
		"ds18b20":  telemetry.KindBodyTemp,
		"bme280":   telemetry.KindEnvironment,
		"mpu6050":  telemetry.KindMotion,
	}
	sources := make([]sensor.Source, 0, len(kinds))
	for id, kind := range kinds {
		src, err := sensor.NewReplay(id, kind, cfg.Sensors.ReplayPath, true)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}
