package presence

import (
	"sync/atomic"

	"github.com/router-for-me/RichPresence/internal/auth/discord"
	log "github.com/sirupsen/logrus"
)

// Snapshot is a copy of the presence held by a Sync.
type Snapshot struct {
	State   string `json:"state"`
	Details string `json:"details"`
	Dirty   bool   `json:"dirty"`
}

// Sync holds the desired presence and flushes it at most once per tick.
// SetPresence, Tick and Push must be called from the tick goroutine; Dirty may
// be read from anywhere.
type Sync struct {
	client Client
	ready  func() bool

	state   string
	details string

	flushedState   string
	flushedDetails string

	dirty atomic.Bool
}

// NewSync creates a presence sync that pushes through client once ready reports true.
func NewSync(client Client, ready func() bool) *Sync {
	return &Sync{client: client, ready: ready}
}

// SetPresence overwrites the desired presence. Dirty is set iff the new pair
// differs from the last flushed pair; identical values are a no-op.
func (s *Sync) SetPresence(state, details string) {
	if state == s.state && details == s.details {
		return
	}
	s.state = state
	s.details = details
	s.dirty.Store(state != s.flushedState || details != s.flushedDetails)
}

// State returns the desired state label.
func (s *Sync) State() string { return s.state }

// Details returns the desired details label.
func (s *Sync) Details() string { return s.details }

// Dirty reports whether the desired presence has not been transmitted yet.
func (s *Sync) Dirty() bool { return s.dirty.Load() }

// Snapshot returns the desired presence and dirty flag.
func (s *Sync) Snapshot() Snapshot {
	return Snapshot{State: s.state, Details: s.details, Dirty: s.Dirty()}
}

// Tick flushes the desired presence when dirty and ready. It reports whether an
// update was issued. A rejected update is logged and not retried.
func (s *Sync) Tick() bool {
	if !s.dirty.Load() || !s.ready() {
		return false
	}
	s.flush()
	return true
}

// Push sends the desired presence unconditionally and clears dirty.
func (s *Sync) Push() {
	s.flush()
}

func (s *Sync) flush() {
	activity := Activity{
		Type:    ActivityPlaying,
		State:   s.state,
		Details: s.details,
	}
	s.flushedState = s.state
	s.flushedDetails = s.details
	s.dirty.Store(false)

	s.client.UpdatePresence(activity, func(err error) {
		if err != nil {
			log.WithField("error", discord.KindUpdateFailed).Warnf("failed to update rich presence: %v", err)
			return
		}
		log.Debugf("rich presence updated: state=%q details=%q", activity.State, activity.Details)
	})
}
