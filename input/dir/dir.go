package dir

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/datacollector/component"
	"github.com/c360/datacollector/errors"
	"github.com/c360/datacollector/input"
	"github.com/c360/datacollector/options"
)

// DefaultLatency is how long a file must stay quiet before it is dispatched.
const DefaultLatency = 250 * time.Millisecond

// Config holds the watch settings.
type Config struct {
	Path    string
	Pattern string
	Latency time.Duration
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "dir", "Validate", "path is required")
	}
	if c.Pattern != "" {
		if _, err := filepath.Match(c.Pattern, ""); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: pattern %q", errors.ErrInvalidConfig, c.Pattern),
				"dir", "Validate", "pattern validation")
		}
	}
	if c.Latency < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative latency", errors.ErrInvalidConfig), "dir", "Validate", "latency validation")
	}
	return nil
}

// Watcher dispatches the absolute name of every file created or written in
// a directory. Bursts of events for one file are merged.
type Watcher struct {
	*component.Lifecycle

	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	fs      *fsnotify.Watcher
	pending map[string]*pendingFile
	cancel  context.CancelFunc
	done    chan struct{}

	alive atomic.Bool
}

// NewWatcher creates an idle watcher. The directory is opened by Run.
func NewWatcher(cfg Config, deps component.Dependencies) (*Watcher, error) {
	if cfg.Latency == 0 {
		cfg.Latency = DefaultLatency
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "dir", "NewWatcher", "resolve path")
	}
	cfg.Path = abs

	w := &Watcher{cfg: cfg}
	w.Lifecycle = component.NewLifecycle("dir:"+abs, deps, component.Hooks{
		Start: w.start,
		Stop:  w.stop,
		Alive: w.alive.Load,
	})
	w.logger = w.Logger()
	return w, nil
}

// Path returns the watched directory.
func (w *Watcher) Path() string {
	return w.cfg.Path
}

func (w *Watcher) start(ctx context.Context) error {
	info, err := os.Stat(w.cfg.Path)
	if err != nil {
		return errors.WrapInvalid(err, "dir", "start", "stat directory")
	}
	if !info.IsDir() {
		return errors.WrapInvalid(fmt.Errorf("%w: %s is not a directory", errors.ErrInvalidConfig, w.cfg.Path),
			"dir", "start", "stat directory")
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "dir", "start", "create watcher")
	}
	if err := fs.Add(w.cfg.Path); err != nil {
		_ = fs.Close()
		return errors.WrapTransient(err, "dir", "start", "watch directory")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	w.mu.Lock()
	w.fs = fs
	w.pending = make(map[string]*pendingFile)
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.alive.Store(true)
	go func() {
		defer close(done)
		defer w.alive.Store(false)
		w.loop(loopCtx, fs)
	}()

	w.logger.Info("watching directory", "path", w.cfg.Path, "pattern", w.cfg.Pattern, "latency", w.cfg.Latency)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fs *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Clean(ev.Name) == w.cfg.Path {
				w.logger.Warn("watched directory removed", "path", w.cfg.Path)
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) matches(name string) bool {
	if w.cfg.Pattern == "" {
		return true
	}
	ok, _ := filepath.Match(w.cfg.Pattern, filepath.Base(name))
	return ok
}

type pendingFile struct {
	timer *time.Timer
}

// schedule (re)arms the quiet timer of name.
func (w *Watcher) schedule(ctx context.Context, name string) {
	if !w.matches(name) {
		return
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[abs]; ok && p.timer.Stop() {
		p.timer.Reset(w.cfg.Latency)
		return
	}

	if w.pending == nil {
		return
	}
	p := &pendingFile{}
	w.pending[abs] = p
	p.timer = time.AfterFunc(w.cfg.Latency, func() {
		// Stop or a newer event may have released the entry.
		w.mu.Lock()
		owned := w.pending[abs] == p
		if owned {
			delete(w.pending, abs)
		}
		w.mu.Unlock()
		if !owned {
			return
		}

		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			return
		}
		w.HandleMessage(ctx, abs)
	})
}

func (w *Watcher) stop() error {
	w.mu.Lock()
	fs, cancel, done := w.fs, w.cancel, w.done
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := fs.Close()
	// Dispatches already under way finish on their own goroutines, so a
	// handler may stop its own watcher.
	<-done
	if err != nil {
		return errors.Wrap(err, "dir", "stop", "close watcher")
	}
	return nil
}

// NewSource builds a watcher from a file:// URI. Options: pattern, latency.
func NewSource(u *url.URL, opts map[string]any, deps component.Dependencies) (component.Source, error) {
	opts = options.MergeQuery(opts, u.Query())
	return NewWatcher(Config{
		Path:    input.FilePath(u),
		Pattern: options.GetString(opts, "pattern", ""),
		Latency: options.GetDuration(opts, "latency", DefaultLatency),
	}, deps)
}

// Register registers the directory watch source with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:          "dir",
		Type:          component.TypeSource,
		Schemes:       []string{"file"},
		Description:   "Directory watch source dispatching the name of each new or changed file",
		Version:       "1.0.0",
		SourceFactory: NewSource,
	})
}
