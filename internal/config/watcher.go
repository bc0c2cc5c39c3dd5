package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever the file it was loaded from
// changes, debouncing rapid successive writes the way editors and
// deployment tooling tend to produce them.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	onReload func(*Config)
}

// NewWatcher loads path once and returns a Watcher holding that initial
// Config. Call Start to begin watching for changes.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, debounce: 250 * time.Millisecond, logger: logger, current: cfg}, nil
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked with the new Config each time the
// watched file is reloaded successfully. Only one callback is supported.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.onReload = fn
}

// Start begins watching the config file until ctx is cancelled or Close is
// called. Only the file itself is watched, not its directory.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.path); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(watchCtx)
	return nil
}

// Close stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Warn("config reload failed", "error", err, "path", w.path)
			return
		}
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
		w.logger.Info("config reloaded", "path", w.path)
		if w.onReload != nil {
			w.onReload(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
