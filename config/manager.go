package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	pkgerrors "github.com/c360/datacollector/errors"
)

// Discover finds the config file called name (DefaultName when empty). The
// directory comes from CONFIG_FILE_PATH when set, otherwise the working
// directory and then ./config are tried.
func Discover(name string) (string, error) {
	if name == "" {
		name = DefaultName
	}

	if dir := os.Getenv("CONFIG_FILE_PATH"); dir != "" {
		if err := checkEnvValue("CONFIG_FILE_PATH", dir); err != nil {
			return "", err
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return "", pkgerrors.WrapInvalid(fmt.Errorf("%w: %s", pkgerrors.ErrNotFound, path),
				"Config", "Discover", "stat CONFIG_FILE_PATH")
		}
		return path, nil
	}

	for _, dir := range []string{".", "config"} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", pkgerrors.WrapInvalid(fmt.Errorf("%w: %s not found, set CONFIG_FILE_PATH", pkgerrors.ErrNotFound, name),
		"Config", "Discover", "search config file")
}

// Update carries a reloaded configuration.
type Update struct {
	Path   string      // File the configuration was read from
	Config *SafeConfig // Full latest configuration
}

// Manager holds the configuration loaded from one file and reloads it when
// the file modification time changes.
type Manager struct {
	path   string
	loader *Loader
	logger *slog.Logger

	mu          sync.Mutex
	config      *SafeConfig
	mtime       time.Time
	subscribers []chan Update
}

// NewManager loads path and returns a manager for it.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:   path,
		loader: NewLoader(),
		logger: logger.With("component", "config"),
	}
	if _, err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the watched file.
func (m *Manager) Path() string {
	return m.path
}

// GetConfig returns the current configuration without checking the file.
func (m *Manager) GetConfig() *SafeConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Current returns the configuration, reloading it first when the file
// changed. A file that fails to load keeps the previous configuration and
// returns the error alongside it.
func (m *Manager) Current() (*Config, error) {
	_, err := m.reload()
	return m.GetConfig().Get(), err
}

// OnChange returns a channel receiving every successful reload. The current
// configuration is sent immediately.
func (m *Manager) OnChange() <-chan Update {
	ch := make(chan Update, 1)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	current := m.config
	m.mu.Unlock()

	ch <- Update{Path: m.path, Config: current}
	return ch
}

// Watch checks the file every interval until ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for _, ch := range m.subscribers {
				close(ch)
			}
			m.subscribers = nil
			m.mu.Unlock()
			return
		case <-ticker.C:
			if _, err := m.reload(); err != nil {
				m.logger.Warn("config reload failed", "path", m.path, "error", err)
			}
		}
	}
}

// reload reports whether a new configuration was loaded.
func (m *Manager) reload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, fmt.Errorf("cannot stat config file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil && info.ModTime().Equal(m.mtime) {
		return false, nil
	}

	cfg, err := m.loader.LoadFile(m.path)
	if err != nil {
		return false, err
	}

	first := m.config == nil
	m.config = NewSafeConfig(cfg)
	m.mtime = info.ModTime()

	if first {
		m.logger.Info("config loaded", "path", m.path, "pipelines", len(cfg.Pipelines))
		return true, nil
	}

	m.logger.Info("config reloaded", "path", m.path, "pipelines", len(cfg.Pipelines))
	for _, ch := range m.subscribers {
		select {
		case ch <- Update{Path: m.path, Config: m.config}:
		default:
			// Subscriber still holds the previous update
		}
	}
	return true, nil
}
