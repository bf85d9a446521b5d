// events.go implements fsnotify event handling for the host state file.
// It debounces noisy writes and posts the resulting hooks to the target.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/RichPresence/internal/presence"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	stateOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	if filepath.Clean(event.Name) != w.statePath || event.Op&stateOps == 0 {
		return
	}
	log.Debugf("host state event: %s %s", event.Op.String(), event.Name)
	w.scheduleReload()
}

func (w *Watcher) stopReloadTimer() {
	w.reloadMu.Lock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
		w.reloadTimer = nil
	}
	w.reloadMu.Unlock()
}

func (w *Watcher) scheduleReload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(stateReloadDebounce, func() {
		w.reloadMu.Lock()
		w.reloadTimer = nil
		w.reloadMu.Unlock()
		w.reloadStateIfChanged()
	})
}

func (w *Watcher) reloadStateIfChanged() {
	data, err := os.ReadFile(w.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("host state file %s does not exist yet", w.statePath)
			return
		}
		log.Errorf("failed to read host state file: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debug("ignoring empty host state write event")
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if hash == w.lastHash {
		log.Debug("host state unchanged (hash match), skipping")
		return
	}
	state, err := ParseHostState(data)
	if err != nil {
		log.Warnf("ignoring host state update: %v", err)
		return
	}
	w.lastHash = hash
	w.dispatch(state)
}

// dispatch posts hooks for fields that changed since the last applied state.
// Caller holds stateMu.
func (w *Watcher) dispatch(state HostState) {
	previous, applied := w.lastState, w.applied
	w.lastState = state
	w.applied = true

	if state.HasScene && (!applied || !previous.HasScene || previous.Scene != state.Scene) {
		scene := state.Scene
		log.WithField("component", "watcher").Infof("scene loaded: %s", scene)
		w.target.Post(func() { w.target.OnSceneLoad(scene) })
	}
	if state.HasRunState && (!applied || !previous.HasRunState || previous.RunState != state.RunState) {
		runState := presence.ParseRunState(state.RunState)
		log.WithField("component", "watcher").Infof("run state changed: %s", runState)
		w.target.Post(func() { w.target.OnRunStateChanged(runState) })
	}
}
