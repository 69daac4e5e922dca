package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/pipeline"
	"github.com/c360/datacollector/pkg/tlsutil"
)

// DefaultName is the config file looked up by Discover.
const DefaultName = "config.yml"

// Config represents the complete application configuration.
type Config struct {
	Version   string           `yaml:"version" json:"version"`
	Log       LogConfig        `yaml:"log" json:"log"`
	Metrics   MetricsConfig    `yaml:"metrics" json:"metrics"`
	Brokers   BrokersConfig    `yaml:"brokers" json:"brokers"`
	HTTP      HTTPConfig       `yaml:"http" json:"http"`
	Pipelines []PipelineConfig `yaml:"pipelines" json:"pipelines"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json or text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// BrokersConfig tunes broker connections shared by all pipelines.
type BrokersConfig struct {
	NATS NATSConfig `yaml:"nats" json:"nats"`
}

// NATSConfig tunes every NATS connection. Zero durations keep the client
// defaults.
type NATSConfig struct {
	Name           string        `yaml:"name,omitempty" json:"name,omitempty"`
	MaxReconnects  int           `yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait" json:"reconnect_wait"`
	Timeout        time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	PingInterval   time.Duration `yaml:"ping_interval,omitempty" json:"ping_interval,omitempty"`
	DrainTimeout   time.Duration `yaml:"drain_timeout,omitempty" json:"drain_timeout,omitempty"`
	HandlerTimeout time.Duration `yaml:"handler_timeout,omitempty" json:"handler_timeout,omitempty"`

	// Consecutive connect failures before the circuit opens, and the cap on
	// its backoff.
	CircuitThreshold  int32         `yaml:"circuit_threshold,omitempty" json:"circuit_threshold,omitempty"`
	CircuitMaxBackoff time.Duration `yaml:"circuit_max_backoff,omitempty" json:"circuit_max_backoff,omitempty"`
}

// Validate checks the NATS settings.
func (n NATSConfig) Validate() error {
	if n.MaxReconnects < -1 {
		return fmt.Errorf("max_reconnects %d must be -1 or more", n.MaxReconnects)
	}
	for name, d := range map[string]time.Duration{
		"reconnect_wait":  n.ReconnectWait,
		"timeout":         n.Timeout,
		"ping_interval":   n.PingInterval,
		"drain_timeout":   n.DrainTimeout,
		"handler_timeout": n.HandlerTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if n.CircuitThreshold < 0 {
		return fmt.Errorf("circuit_threshold %d must not be negative", n.CircuitThreshold)
	}
	if n.CircuitMaxBackoff != 0 && n.CircuitMaxBackoff < time.Second {
		return fmt.Errorf("circuit_max_backoff %v must be at least 1s", n.CircuitMaxBackoff)
	}
	return nil
}

// HTTPConfig tunes the HTTP client shared by http inputs and sinks.
type HTTPConfig struct {
	TLS tlsutil.ClientConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// Endpoint is a URI with component options.
type Endpoint struct {
	URI     string         `yaml:"uri" json:"uri"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// PipelineConfig describes one pipeline: a trigger (schedule, cron or
// source), where its data comes from, the rules applied and the output.
type PipelineConfig struct {
	Name        string         `yaml:"name" json:"name"`
	Enabled     *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Schedule    string         `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Cron        string         `yaml:"cron,omitempty" json:"cron,omitempty"`
	Source      *Endpoint      `yaml:"source,omitempty" json:"source,omitempty"`
	Input       *Endpoint      `yaml:"input,omitempty" json:"input,omitempty"`
	Rules       string         `yaml:"rules,omitempty" json:"rules,omitempty"`
	RulesInline yaml.Node      `yaml:"rules_inline,omitempty" json:"-"`
	RuleOptions map[string]any `yaml:"rule_options,omitempty" json:"rule_options,omitempty"`
	Output      *Endpoint      `yaml:"output,omitempty" json:"output,omitempty"`
}

// IsEnabled reports whether the pipeline should run. Pipelines are enabled
// unless set otherwise.
func (p PipelineConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// HasInlineRules reports whether rules_inline was given.
func (p PipelineConfig) HasInlineRules() bool {
	return !p.RulesInline.IsZero()
}

// InlineRules returns rules_inline re-encoded as YAML, keys in file order.
func (p PipelineConfig) InlineRules() ([]byte, error) {
	if !p.HasInlineRules() {
		return nil, nil
	}
	return yaml.Marshal(&p.RulesInline)
}

// Validate checks one pipeline.
func (p PipelineConfig) Validate() error {
	triggers := 0
	if p.Schedule != "" {
		triggers++
		if _, err := pipeline.ParseDuration(p.Schedule); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}
	if p.Cron != "" {
		triggers++
		if _, err := pipeline.ParseCron(p.Cron); err != nil {
			return fmt.Errorf("cron: %w", err)
		}
	}
	if p.Source != nil {
		triggers++
	}
	if triggers > 1 {
		return errors.New("at most one of schedule, cron and source may be set")
	}

	for name, ep := range map[string]*Endpoint{"source": p.Source, "input": p.Input, "output": p.Output} {
		if ep == nil {
			continue
		}
		if _, err := input.ParseURI(ep.URI); err != nil {
			return fmt.Errorf("%s uri: %w", name, err)
		}
	}

	if p.Rules != "" && p.HasInlineRules() {
		return errors.New("rules and rules_inline are mutually exclusive")
	}
	return nil
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// YAML round trip keeps rules_inline key order
	data, err := yaml.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := yaml.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Errorf("log.level '%s' must be debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return invalid(fmt.Errorf("log.format '%s' must be json or text", c.Log.Format))
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid(fmt.Errorf("metrics.port %d out of range", c.Metrics.Port))
	}

	if err := c.Brokers.NATS.Validate(); err != nil {
		return invalid(fmt.Errorf("brokers.nats: %w", err))
	}

	if err := c.HTTP.TLS.Validate(); err != nil {
		return invalid(fmt.Errorf("http: %w", err))
	}

	names := make(map[string]bool)
	for i, p := range c.Pipelines {
		label := p.Name
		if label == "" {
			label = strconv.Itoa(i)
		} else if names[p.Name] {
			return invalid(fmt.Errorf("pipeline name '%s' used twice", p.Name))
		}
		names[p.Name] = true

		if err := p.Validate(); err != nil {
			return invalid(fmt.Errorf("pipeline %s: %w", label, err))
		}
	}
	return nil
}

func invalid(err error) error {
	return pkgerrors.WrapInvalid(fmt.Errorf("%w: %v", pkgerrors.ErrInvalidConfig, err), "Config", "Validate", "check config")
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  "DATACOLLECTOR",
	}
}

// AddLayer adds a configuration file layer. Later layers override the
// fields they set; lists such as pipelines are replaced as a whole.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaults()

	for _, path := range l.layers {
		data, err := readLayer(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		// JSON is valid YAML, so one decoder serves both
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, pkgerrors.WrapInvalid(fmt.Errorf("%w: %s: %v", pkgerrors.ErrParsingFailed, path, err),
				"Loader", "Load", "decode layer")
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Brokers: BrokersConfig{
			NATS: NATSConfig{
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return "", false, err
		}
		return val, true, nil
	}

	if val, ok, err := lookup("LOG_LEVEL"); err != nil {
		return err
	} else if ok {
		cfg.Log.Level = val
	}
	if val, ok, err := lookup("LOG_FORMAT"); err != nil {
		return err
	} else if ok {
		cfg.Log.Format = val
	}
	if val, ok, err := lookup("METRICS_ENABLED"); err != nil {
		return err
	} else if ok {
		enabled, perr := strconv.ParseBool(val)
		if perr != nil {
			return fmt.Errorf("%s_METRICS_ENABLED: %w", l.envPrefix, perr)
		}
		cfg.Metrics.Enabled = enabled
	}
	if val, ok, err := lookup("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, perr := strconv.Atoi(val)
		if perr != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, perr)
		}
		cfg.Metrics.Port = port
	}
	if val, ok, err := lookup("METRICS_PATH"); err != nil {
		return err
	} else if ok {
		cfg.Metrics.Path = val
	}
	return nil
}

// SaveToFile saves the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return writeLayer(path, data)
}

// String returns a YAML representation of the config
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
