package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relata/tally/errors"
	"github.com/relata/tally/logger"
)

// ReloadCallback receives the freshly loaded config after a file change.
type ReloadCallback func(*Config) error

// Watcher reloads configuration when the file changes on disk. Rapid
// editor write bursts are debounced into one reload.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	cbs      []ReloadCallback
	debounce *time.Timer
	done     chan struct{}
}

// NewWatcher watches one config file.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch config file %s", path)
	}
	return &Watcher{
		path:    path,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// OnReload registers a callback for config changes.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cbs = append(w.cbs, cb)
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop ends the watch.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", logger.FieldError, err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(500*time.Millisecond, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		logger.Warnw("Config reload failed", logger.FieldError, err)
		return
	}

	w.mu.Lock()
	cbs := make([]ReloadCallback, len(w.cbs))
	copy(cbs, w.cbs)
	w.mu.Unlock()

	for _, cb := range cbs {
		if err := cb(cfg); err != nil {
			logger.Warnw("Config reload callback failed", logger.FieldError, err)
		}
	}
	logger.Infow("Configuration reloaded", "path", w.path)
}
