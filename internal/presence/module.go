package presence

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrAlreadyRegistered is returned by Startup when another module is active.
var ErrAlreadyRegistered = errors.New("presence: a module is already registered")

// RunState is the host's play state.
type RunState int

const (
	RunStateUnknown RunState = iota
	RunStateStopped
	RunStatePlaying
	RunStatePaused
)

func (r RunState) String() string {
	switch r {
	case RunStateStopped:
		return "stopped"
	case RunStatePlaying:
		return "playing"
	case RunStatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ParseRunState maps a host run-state name to a RunState.
func ParseRunState(name string) RunState {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stopped", "editing":
		return RunStateStopped
	case "playing":
		return RunStatePlaying
	case "paused":
		return RunStatePaused
	default:
		return RunStateUnknown
	}
}

// DefaultRunStateLabels are the presence state labels shown per run state.
func DefaultRunStateLabels() map[RunState]string {
	return map[RunState]string{
		RunStateStopped: "Editing",
		RunStatePlaying: "Playing",
		RunStatePaused:  "Paused",
		RunStateUnknown: "Waiting",
	}
}

// ModuleOptions configures a Module.
type ModuleOptions struct {
	ApplicationID      string
	Scopes             []string
	NegotiationTimeout time.Duration
	// RunStateLabels overrides entries of DefaultRunStateLabels.
	RunStateLabels map[RunState]string
	// LogSeverity is the minimum client log severity forwarded to the logger.
	LogSeverity LogSeverity
	Clock       func() time.Time
}

// Module binds the presence core to a host: it owns the connection state
// machine, the presence sync and the pump, and maps host hooks onto them.
type Module struct {
	client   Client
	pump     *Pump
	conn     *Connection
	sync     *Sync
	labels   map[RunState]string
	severity LogSeverity
}

var active atomic.Pointer[Module]

// NewModule wires a module around client. Callbacks from client must be posted to pump.
func NewModule(client Client, pump *Pump, opts ModuleOptions) *Module {
	m := &Module{
		client:   client,
		pump:     pump,
		labels:   DefaultRunStateLabels(),
		severity: opts.LogSeverity,
	}
	for state, label := range opts.RunStateLabels {
		if label != "" {
			m.labels[state] = label
		}
	}
	m.conn = NewConnection(client, ConnectionOptions{
		ApplicationID:      opts.ApplicationID,
		Scopes:             opts.Scopes,
		NegotiationTimeout: opts.NegotiationTimeout,
		Clock:              opts.Clock,
		OnReady:            m.handleReady,
	})
	m.sync = NewSync(client, m.conn.IsReady)
	return m
}

// Active returns the registered module, or nil.
func Active() *Module {
	return active.Load()
}

// UpdateRichPresence sets the presence on the registered module. It may be called
// from any goroutine; the update is applied on the next tick. It reports whether
// a module was registered to receive it.
func UpdateRichPresence(state, details string) bool {
	m := active.Load()
	if m == nil {
		return false
	}
	return m.pump.Post(func() {
		m.SetPresence(state, details)
	})
}

// Startup registers the module as the process-wide instance and begins the handshake.
func (m *Module) Startup() error {
	if !active.CompareAndSwap(nil, m) {
		return ErrAlreadyRegistered
	}
	m.client.OnLog(func(message string, severity LogSeverity) {
		entry := log.WithField("source", "discord")
		switch severity {
		case SeverityError:
			entry.Error(message)
		case SeverityWarning:
			entry.Warn(message)
		case SeverityInfo:
			entry.Info(message)
		default:
			entry.Debug(message)
		}
	}, m.severity)

	if err := m.conn.Start(); err != nil {
		active.CompareAndSwap(m, nil)
		return err
	}
	return nil
}

// Connect restarts the handshake after a failure.
func (m *Module) Connect() error {
	return m.conn.Start()
}

// SetPresence updates the desired presence. Tick goroutine only.
func (m *Module) SetPresence(state, details string) {
	m.sync.SetPresence(state, details)
}

// OnSceneLoad shows the loaded scene as the presence details.
func (m *Module) OnSceneLoad(identifier string) {
	m.sync.SetPresence(m.sync.State(), identifier)
}

// OnRunStateChanged shows the run-state label as the presence state.
func (m *Module) OnRunStateChanged(state RunState) {
	label, ok := m.labels[state]
	if !ok {
		label = m.labels[RunStateUnknown]
	}
	m.sync.SetPresence(label, m.sync.Details())
}

// OnFixedUpdate is the per-tick entry point: it delivers pending callbacks,
// enforces the negotiation timeout and flushes presence if needed.
func (m *Module) OnFixedUpdate() {
	m.pump.Pump()
	m.conn.CheckTimeout()
	m.sync.Tick()
}

// Post schedules fn on the tick goroutine.
func (m *Module) Post(fn func()) bool {
	return m.pump.Post(fn)
}

// Connection returns the connection state machine.
func (m *Module) Connection() *Connection { return m.conn }

// Sync returns the presence sync.
func (m *Module) Sync() *Sync { return m.sync }

// Shutdown drops in-flight work, closes the client and unregisters the module.
func (m *Module) Shutdown() error {
	m.conn.Close()
	m.pump.Close()
	err := m.client.Close()
	active.CompareAndSwap(m, nil)
	return err
}

func (m *Module) handleReady() {
	log.Info("discord connection ready, pushing rich presence")
	m.sync.Push()
}
