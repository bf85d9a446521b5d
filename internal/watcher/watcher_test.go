package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/RichPresence/internal/presence"
)

type recordingTarget struct {
	mu        sync.Mutex
	scenes    []string
	runStates []presence.RunState
}

func (r *recordingTarget) Post(fn func()) bool {
	fn()
	return true
}

func (r *recordingTarget) OnSceneLoad(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenes = append(r.scenes, identifier)
}

func (r *recordingTarget) OnRunStateChanged(state presence.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runStates = append(r.runStates, state)
}

func (r *recordingTarget) snapshot() ([]string, []presence.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scenes...), append([]presence.RunState(nil), r.runStates...)
}

func TestParseHostState(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    HostState
		wantErr bool
	}{
		{
			name:  "both fields",
			input: `{"scene":" Levels/Forest ","run_state":"Playing"}`,
			want:  HostState{Scene: "Levels/Forest", HasScene: true, RunState: "playing", HasRunState: true},
		},
		{
			name:  "scene only",
			input: `{"scene":"Main"}`,
			want:  HostState{Scene: "Main", HasScene: true},
		},
		{
			name:  "empty scene is present",
			input: `{"scene":"","run_state":"paused"}`,
			want:  HostState{HasScene: true, RunState: "paused", HasRunState: true},
		},
		{name: "array", input: `["scene"]`, wantErr: true},
		{name: "invalid", input: `{"scene":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHostState([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHostState error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseHostState = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDispatchOnlyChangedFields(t *testing.T) {
	target := &recordingTarget{}
	w := &Watcher{target: target}

	w.dispatch(HostState{Scene: "Main", HasScene: true, RunState: "stopped", HasRunState: true})
	w.dispatch(HostState{Scene: "Main", HasScene: true, RunState: "playing", HasRunState: true})
	w.dispatch(HostState{Scene: "Forest", HasScene: true, RunState: "playing", HasRunState: true})
	w.dispatch(HostState{RunState: "sleeping", HasRunState: true})

	scenes, runStates := target.snapshot()
	if len(scenes) != 2 || scenes[0] != "Main" || scenes[1] != "Forest" {
		t.Fatalf("scenes = %v", scenes)
	}
	want := []presence.RunState{presence.RunStateStopped, presence.RunStatePlaying, presence.RunStateUnknown}
	if len(runStates) != len(want) {
		t.Fatalf("run states = %v, want %v", runStates, want)
	}
	for i := range want {
		if runStates[i] != want[i] {
			t.Fatalf("run states = %v, want %v", runStates, want)
		}
	}
}

func TestWatcherFollowsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host-state.json")
	if err := os.WriteFile(path, []byte(`{"scene":"Main","run_state":"editing"}`), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}

	target := &recordingTarget{}
	w, err := NewWatcher(path, target)
	if err != nil {
		t.Fatalf("NewWatcher error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = w.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer func() { _ = w.Stop() }()

	scenes, runStates := target.snapshot()
	if len(scenes) != 1 || scenes[0] != "Main" || len(runStates) != 1 || runStates[0] != presence.RunStateStopped {
		t.Fatalf("initial hooks: scenes=%v runStates=%v", scenes, runStates)
	}

	if err = os.WriteFile(path, []byte(`{"scene":"Main","run_state":"playing"}`), 0o644); err != nil {
		t.Fatalf("rewrite state: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		scenes, runStates = target.snapshot()
		if len(runStates) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(runStates) != 2 || runStates[1] != presence.RunStatePlaying {
		t.Fatalf("run states after rewrite = %v", runStates)
	}
	if len(scenes) != 1 {
		t.Fatalf("scene hook repeated: %v", scenes)
	}
}

func TestNewWatcherRequiresPath(t *testing.T) {
	if _, err := NewWatcher("", &recordingTarget{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
