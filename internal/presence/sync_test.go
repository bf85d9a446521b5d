package presence

import (
	"errors"
	"testing"
)

type readyFlag struct{ ready bool }

func (r *readyFlag) get() bool { return r.ready }

func newTestSync() (*Sync, *fakeClient, *readyFlag, *Pump) {
	pump := NewPump()
	client := newFakeClient(pump)
	flag := &readyFlag{}
	return NewSync(client, flag.get), client, flag, pump
}

func TestSyncDirtyTracksLastFlushedValue(t *testing.T) {
	s, client, flag, _ := newTestSync()

	if s.Dirty() {
		t.Fatal("new sync must not be dirty")
	}

	s.SetPresence("", "")
	if s.Dirty() {
		t.Fatal("setting the initial empty value must not set dirty")
	}

	s.SetPresence("Playing", "level1")
	if !s.Dirty() {
		t.Fatal("a differing value must set dirty")
	}

	s.SetPresence("", "")
	if s.Dirty() {
		t.Fatal("reverting to the last flushed value must clear dirty")
	}

	s.SetPresence("Playing", "level1")
	flag.ready = true
	if !s.Tick() {
		t.Fatal("expected a flush")
	}
	if s.Dirty() {
		t.Fatal("dirty must be false after a flush")
	}

	s.SetPresence("Playing", "level1")
	if s.Dirty() {
		t.Fatal("the flushed value must not set dirty again")
	}

	s.SetPresence("Paused", "level1")
	if !s.Dirty() {
		t.Fatal("a new value after a flush must set dirty")
	}
	if len(client.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(client.updates))
	}
}

func TestSyncSetPresenceIsIdempotent(t *testing.T) {
	s, _, _, _ := newTestSync()

	s.SetPresence("Editing", "scene.nkscene")
	s.SetPresence("Editing", "scene.nkscene")
	if !s.Dirty() {
		t.Fatal("expected dirty after the first change")
	}
	if s.State() != "Editing" || s.Details() != "scene.nkscene" {
		t.Fatalf("held presence = (%q, %q)", s.State(), s.Details())
	}
}

func TestSyncTickNeverFlushesWhileNotReady(t *testing.T) {
	s, client, _, _ := newTestSync()

	s.SetPresence("Playing", "level1")
	for i := 0; i < 10; i++ {
		if s.Tick() {
			t.Fatal("Tick() flushed while not ready")
		}
	}
	if len(client.updates) != 0 {
		t.Fatalf("updates = %d, want 0", len(client.updates))
	}
	if !s.Dirty() {
		t.Fatal("dirty must survive ticks while not ready")
	}
}

func TestSyncTickFlushesAtMostOncePerChange(t *testing.T) {
	s, client, flag, _ := newTestSync()
	flag.ready = true

	if s.Tick() {
		t.Fatal("Tick() must not flush a clean presence")
	}

	s.SetPresence("Playing", "level1")
	if !s.Tick() {
		t.Fatal("expected a flush")
	}
	if s.Tick() {
		t.Fatal("second Tick() must not flush again")
	}
	if len(client.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(client.updates))
	}
	got := client.updates[0]
	if got.Type != ActivityPlaying || got.State != "Playing" || got.Details != "level1" {
		t.Fatalf("activity = %+v", got)
	}
}

func TestSyncOnlyLatestValueIsTransmitted(t *testing.T) {
	s, client, flag, _ := newTestSync()

	s.SetPresence("Playing", "level1")
	s.SetPresence("Paused", "level2")
	s.Tick()
	flag.ready = true
	s.Tick()

	if len(client.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(client.updates))
	}
	if got := client.updates[0]; got.State != "Paused" || got.Details != "level2" {
		t.Fatalf("transmitted %+v, want the latest value", got)
	}
}

func TestSyncFailedUpdateIsNotRetried(t *testing.T) {
	s, client, flag, pump := newTestSync()
	flag.ready = true

	s.SetPresence("Playing", "level1")
	s.Tick()
	client.resolveUpdate(t, 0, errors.New("rate limited"))
	pump.Pump()

	if s.Dirty() {
		t.Fatal("a failed update must not set dirty again")
	}
	if s.Tick() {
		t.Fatal("a failed update must not be retried")
	}
	if len(client.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(client.updates))
	}
}

func TestSyncPushIsUnconditional(t *testing.T) {
	s, client, _, _ := newTestSync()

	s.Push()
	s.SetPresence("Playing", "level1")
	s.Push()

	if len(client.updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(client.updates))
	}
	if s.Dirty() {
		t.Fatal("Push must clear dirty")
	}
	snap := s.Snapshot()
	if snap.State != "Playing" || snap.Details != "level1" || snap.Dirty {
		t.Fatalf("snapshot = %+v", snap)
	}
}
