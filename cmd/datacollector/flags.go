package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	WatchInterval   time.Duration
	Pipeline        string
	ShowVersion     bool
	ShowHelp        bool
	ListComponents  bool
	Validate        bool

	// set records the flags given explicitly on the command line
	set map[string]bool
}

// Explicit reports whether the named flag was given on the command line.
func (c *CLIConfig) Explicit(name string) bool {
	return c.set[name]
}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{set: make(map[string]bool)}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("DATACOLLECTOR_CONFIG", ""),
		"Path to configuration file, discovered when empty (env: DATACOLLECTOR_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("DATACOLLECTOR_CONFIG", ""),
		"Path to configuration file, discovered when empty (env: DATACOLLECTOR_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("DATACOLLECTOR_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: DATACOLLECTOR_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("DATACOLLECTOR_LOG_FORMAT", "json"),
		"Log format: json, text (env: DATACOLLECTOR_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("DATACOLLECTOR_DEBUG", false),
		"Enable debug mode (env: DATACOLLECTOR_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("DATACOLLECTOR_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: DATACOLLECTOR_SHUTDOWN_TIMEOUT)")

	fs.DurationVar(&cfg.WatchInterval, "watch-interval",
		getEnvDuration("DATACOLLECTOR_WATCH_INTERVAL", 5*time.Second),
		"Config file check interval, 0 to disable (env: DATACOLLECTOR_WATCH_INTERVAL)")

	fs.StringVar(&cfg.Pipeline, "pipeline", "", "Run only the named pipeline")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.ListComponents, "list", false, "List available sources and sinks and exit")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(output, fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ShowHelp {
		fs.Usage()
	}

	fs.Visit(func(f *flag.Flag) {
		cfg.set[f.Name] = true
	})
	if os.Getenv("DATACOLLECTOR_LOG_LEVEL") != "" {
		cfg.set["log-level"] = true
	}
	if os.Getenv("DATACOLLECTOR_LOG_FORMAT") != "" {
		cfg.set["log-format"] = true
	}

	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
		cfg.set["log-level"] = true
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp || cfg.ListComponents {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	if cfg.WatchInterval < 0 {
		return fmt.Errorf("invalid watch interval: %s", cfg.WatchInterval)
	}

	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - scheduled and event-driven data collection

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run every enabled pipeline from a config file
  %s --config=/etc/datacollector/config.yml

  # Run one pipeline with debug logging
  %s --pipeline=feed --log-level=debug --log-format=text

  # Let the config file be discovered (CONFIG_FILE_PATH, ., ./config)
  export CONFIG_FILE_PATH=/etc/datacollector
  %s

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
