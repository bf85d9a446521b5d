// Package watcher follows the host state file and turns its changes into
// scene-load and run-state hooks on the presence module.
// It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/RichPresence/internal/presence"
	log "github.com/sirupsen/logrus"
)

// Target receives host hooks. Post must schedule fn on the tick goroutine;
// the hook methods are only called from inside posted closures.
type Target interface {
	Post(fn func()) bool
	OnSceneLoad(identifier string)
	OnRunStateChanged(state presence.RunState)
}

const stateReloadDebounce = 150 * time.Millisecond

// Watcher watches the host state file.
type Watcher struct {
	statePath string
	target    Target
	watcher   *fsnotify.Watcher

	reloadMu    sync.Mutex
	reloadTimer *time.Timer

	stateMu   sync.Mutex
	lastHash  string
	lastState HostState
	applied   bool
}

// NewWatcher creates a watcher for statePath that reports to target.
func NewWatcher(statePath string, target Target) (*Watcher, error) {
	if statePath == "" {
		return nil, fmt.Errorf("host state file path is required")
	}
	absPath, errAbs := filepath.Abs(statePath)
	if errAbs != nil {
		return nil, fmt.Errorf("resolve host state path: %w", errAbs)
	}
	watcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	return &Watcher{
		statePath: absPath,
		target:    target,
		watcher:   watcher,
	}, nil
}

// Start watches the directory holding the state file, so editors and hosts that
// replace the file atomically are followed, and applies the current contents.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.statePath)
	if errAdd := w.watcher.Add(dir); errAdd != nil {
		log.Errorf("failed to watch host state directory %s: %v", dir, errAdd)
		return errAdd
	}
	log.Debugf("watching host state file: %s", w.statePath)

	go w.processEvents(ctx)

	w.reloadStateIfChanged()
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopReloadTimer()
	return w.watcher.Close()
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}
