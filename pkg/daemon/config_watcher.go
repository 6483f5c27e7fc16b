package daemon

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harborhq/contextd/logging"
	"github.com/harborhq/contextd/pkg/paths"
	"github.com/sirupsen/logrus"
)

// ConfigWatcher watches the config directory and invokes a reload
// callback when contextd.yml changes. Threshold updates take effect on
// live sessions without a daemon restart.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	debounceMs int
	lastChange time.Time
	mu         sync.Mutex
	logger     *logrus.Entry
	onReload   func(file string)
}

// NewConfigWatcher creates a ConfigWatcher on the contextd config
// directory. The debounceMs parameter controls how long to wait before
// processing rapid changes; editors often produce several writes per
// save.
func NewConfigWatcher(debounceMs int, onReload func(string)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: most editors replace the file
	// on save, which would orphan a file-level watch.
	if err := watcher.Add(paths.ConfigDir()); err != nil {
		watcher.Close()
		return nil, err
	}

	if debounceMs <= 0 {
		debounceMs = 100
	}

	return &ConfigWatcher{
		watcher:    watcher,
		debounceMs: debounceMs,
		logger:     logging.NewLogger("config-watcher"),
		onReload:   onReload,
	}, nil
}

// Name returns the worker's name for logging.
func (w *ConfigWatcher) Name() string { return "config-watcher" }

// Run begins watching for config changes. It blocks until the context
// is canceled.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if strings.HasSuffix(event.Name, ".yml") || strings.HasSuffix(event.Name, ".yaml") {
					w.handleChange(event.Name)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.watcher.Close()
			return nil
		}
	}
}

// handleChange processes a config file change with debouncing.
func (w *ConfigWatcher) handleChange(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := time.Since(w.lastChange)
	if elapsed < time.Duration(w.debounceMs)*time.Millisecond {
		w.logger.Debugf("Debounced: %s (only %v since last change)", filepath.Base(file), elapsed)
		return
	}
	w.lastChange = time.Now()

	w.logger.Infof("Config changed: %s", filepath.Base(file))
	if w.onReload != nil {
		w.onReload(file)
	}
}

// Close stops the watcher and releases resources.
func (w *ConfigWatcher) Close() error {
	return w.watcher.Close()
}
