package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/termpulse/termpulse/internal/logging"
	"github.com/termpulse/termpulse/internal/platform"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// Watcher reloads the config file into a Store when it changes on disk.
// Editors write via rename, so the parent directory is watched rather than
// the file itself.
type Watcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher
	onLoad  func(*Config)
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher for the config file feeding the given store.
// onLoad, if non-nil, runs after each successful reload with the new config.
// Call Start() in a goroutine, Stop() to shut down.
func NewWatcher(path string, store *Store, onLoad func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if warn := platform.CheckFsnotifySupport(path); warn != "" {
		cfgLog.Warn("config_watch_degraded", slog.String("detail", warn))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:    path,
		store:   store,
		watcher: watcher,
		onLoad:  onLoad,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins watching. Blocks until Stop() is called.
func (w *Watcher) Start() {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		cfgLog.Warn("config_watch_add_failed",
			slog.String("dir", filepath.Dir(w.path)),
			slog.String("error", err.Error()))
		return
	}

	// Debounce timer: editors fire several events per save
	var debounceTimer *time.Timer
	var pendingMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			pendingMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, w.reload)
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			cfgLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep the previous config on parse failure.
		cfgLog.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	w.store.Replace(cfg)
	cfgLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}
