package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the server configuration file and reloads the
// Manager when it changes. The parent directory is watched rather than
// the file itself so that editors which replace the file atomically
// still produce events.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	manager   *Manager
	logger    *slog.Logger
	path      string

	// debounceDelay coalesces bursts of write events into one reload.
	debounceDelay time.Duration

	mu      sync.Mutex
	pending *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures a config file watcher.
type WatcherConfig struct {
	// Manager receives ReloadConfig calls on change.
	Manager *Manager

	// Path is the configuration file to watch.
	Path string

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// DebounceDelay is the quiet period before a reload fires
	// (defaults to 200ms).
	DebounceDelay time.Duration
}

// NewWatcher starts watching the configuration file.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		manager:       cfg.Manager,
		logger:        logger,
		path:          absPath,
		debounceDelay: debounceDelay,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	logger.Info("watching configuration file", "path", absPath)
	return w, nil
}

// processEvents filters filesystem events down to changes of the
// watched file and schedules debounced reloads.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != w.path {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// scheduleReload resets the debounce timer so that a burst of writes
// produces a single reload after the quiet period.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, w.reload)
}

// reload re-reads the configuration file and hands it to the manager.
func (w *Watcher) reload() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}

	w.logger.Info("configuration file changed, reloading", "path", w.path)
	configs, err := LoadConfig(w.path, w.logger)
	if err != nil {
		w.logger.Error("failed to reload configuration", "path", w.path, "error", err)
		return
	}
	w.manager.ReloadConfig(w.ctx, configs)
}

// Close stops the watcher and cancels any pending reload.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
