// Package main implements the datacollector command. It loads a
// configuration file and runs its pipelines: scheduled or cron-triggered
// collections and event-driven sources, each mapping input through rules to
// an output.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/c360/datacollector/componentregistry"
	"github.com/c360/datacollector/config"
	"github.com/c360/datacollector/health"
	"github.com/c360/datacollector/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "datacollector"
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

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cliCfg, shouldExit, err := initializeCLI(args, stdout)
	if shouldExit || err != nil {
		return err
	}

	path, cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(resolveLogging(cliCfg, cfg))
	slog.SetDefault(logger)
	slog.Info("Starting datacollector",
		"version", Version,
		"build_time", BuildTime,
		"config_path", path,
		"pipelines", len(cfg.Pipelines))

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()
	app, err := NewApp(signalCtx, cfg, logger, registry, cliCfg.Pipeline)
	if err != nil {
		return fmt.Errorf("build pipelines: %w", err)
	}

	if cfg.Metrics.Enabled {
		startMetricsServer(signalCtx, cfg.Metrics, registry, app.Monitor())
	}
	if cliCfg.WatchInterval > 0 {
		go watchConfig(signalCtx, path, cliCfg.WatchInterval, logger)
	}

	return runWithSignalHandling(signalCtx, app, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags. shouldExit is set when a flag such as
// --version was fully handled.
func initializeCLI(args []string, stdout io.Writer) (*CLIConfig, bool, error) {
	cliCfg, err := parseFlags(args, stdout)
	if stderrors.Is(err, flag.ErrHelp) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		return nil, true, nil
	}

	if cliCfg.ListComponents {
		return nil, true, listComponents(stdout)
	}

	return cliCfg, false, nil
}

// initializeConfiguration finds, loads and validates the configuration file.
func initializeConfiguration(cliCfg *CLIConfig) (string, *config.Config, error) {
	path := cliCfg.ConfigPath
	if path == "" {
		found, err := config.Discover("")
		if err != nil {
			return "", nil, fmt.Errorf("find config: %w", err)
		}
		path = found
	}

	cfg, err := config.NewLoader().LoadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("load config: %w", err)
	}

	return path, cfg, nil
}

// resolveLogging prefers explicit flags and environment over the log section
// of the configuration file.
func resolveLogging(cliCfg *CLIConfig, cfg *config.Config) (level, format string) {
	level, format = cliCfg.LogLevel, cliCfg.LogFormat
	if !cliCfg.Explicit("log-level") && cfg.Log.Level != "" {
		level = cfg.Log.Level
	}
	if !cliCfg.Explicit("log-format") && cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	return level, format
}

func listComponents(w io.Writer) error {
	registry, err := componentregistry.Default()
	if err != nil {
		return fmt.Errorf("register components: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tTYPE\tSCHEMES\tDESCRIPTION")
	for _, info := range registry.ListAvailable() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", info.Name, info.Type, info.Schemes, info.Description)
	}
	return tw.Flush()
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, registry *metric.MetricsRegistry, monitor *health.Monitor) {
	server := metric.NewServer(cfg.Port, cfg.Path, registry)
	server.Handle("/health", monitor)
	go func() {
		if err := server.Start(ctx); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	slog.Info("Metrics server started", "address", server.Address(), "path", cfg.Path)
}

// watchConfig reports configuration changes. Running pipelines keep the
// configuration they were built from until restart.
func watchConfig(ctx context.Context, path string, interval time.Duration, logger *slog.Logger) {
	manager, err := config.NewManager(path, logger)
	if err != nil {
		logger.Warn("Config watch disabled", "path", path, "error", err)
		return
	}

	updates := manager.OnChange()
	<-updates
	go manager.Watch(ctx, interval)

	for u := range updates {
		logger.Warn("Configuration changed on disk, restart to apply",
			"path", u.Path, "pipelines", len(u.Config.Get().Pipelines))
	}
}

// runWithSignalHandling runs the pipelines until they finish or a shutdown
// signal arrives.
func runWithSignalHandling(ctx context.Context, app *App, shutdownTimeout time.Duration) error {
	slog.Info("datacollector started", "pipelines", len(app.Pipelines()))

	runErr := app.Run(ctx)
	if ctx.Err() != nil {
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := app.Close(shutdownCtx); err != nil {
		slog.Warn("Shutdown incomplete", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	slog.Info("datacollector shutdown complete")
	return nil
}
