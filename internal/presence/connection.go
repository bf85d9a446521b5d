package presence

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/router-for-me/RichPresence/internal/auth/discord"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNegotiationInFlight is returned by Start while a handshake is running or established.
	ErrNegotiationInFlight = errors.New("presence: negotiation already in flight")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("presence: connection closed")
)

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	// ApplicationID defaults to discord.ApplicationID.
	ApplicationID string
	// Scopes defaults to the client's DefaultPresenceScopes.
	Scopes []string
	// NegotiationTimeout bounds the time between Start and Ready. Zero waits forever.
	NegotiationTimeout time.Duration
	// OnReady runs on the tick goroutine right after the status becomes Ready.
	OnReady func()
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Connection is the connection state machine. All methods except Status and
// IsReady must be called from the tick goroutine.
type Connection struct {
	client     Client
	negotiator *Negotiator
	appID      string
	scopes     []string
	timeout    time.Duration
	onReady    func()
	now        func() time.Time

	status atomic.Int32
	closed atomic.Bool

	generation uint64
	verifier   *discord.CodeVerifierPair
	startedAt  time.Time
	lastErr    error
}

// NewConnection creates a disconnected state machine and subscribes to the
// client's status notifications.
func NewConnection(client Client, opts ConnectionOptions) *Connection {
	c := &Connection{
		client:     client,
		negotiator: NewNegotiator(client),
		appID:      opts.ApplicationID,
		scopes:     append([]string(nil), opts.Scopes...),
		timeout:    opts.NegotiationTimeout,
		onReady:    opts.OnReady,
		now:        opts.Clock,
	}
	if c.appID == "" {
		c.appID = discord.ApplicationID
	}
	if len(c.scopes) == 0 {
		c.scopes = client.DefaultPresenceScopes()
	}
	if c.now == nil {
		c.now = time.Now
	}
	client.OnStatusChanged(c.handleStatusChanged)
	return c
}

// Status returns the current status. Safe from any goroutine.
func (c *Connection) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsReady reports whether presence updates may be sent. Safe from any goroutine.
func (c *Connection) IsReady() bool {
	return c.Status() == StatusReady
}

// LastError returns the error that moved the machine to Errored, if any.
func (c *Connection) LastError() error {
	return c.lastErr
}

// StartedAt returns when the current negotiation began.
func (c *Connection) StartedAt() time.Time {
	return c.startedAt
}

// Start begins a fresh handshake from Disconnected or Errored.
func (c *Connection) Start() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.Status().negotiating() {
		return ErrNegotiationInFlight
	}

	c.generation++
	gen := c.generation
	c.lastErr = nil
	c.startedAt = c.now()
	c.setStatus(StatusAuthorizing)

	req, pair := c.negotiator.BeginAuthorization(c.appID, c.scopes)
	c.verifier = &pair
	c.negotiator.SubmitAuthorization(req, func(result AuthorizationResult, err error) {
		c.handleAuthorization(gen, result, err)
	})
	return nil
}

// CheckTimeout fails a pending negotiation once the configured timeout elapsed.
// It reports whether the negotiation was failed.
func (c *Connection) CheckTimeout() bool {
	if c.timeout <= 0 || !c.Status().pending() {
		return false
	}
	if c.now().Sub(c.startedAt) < c.timeout {
		return false
	}
	if c.Status() == StatusAuthorizing {
		c.client.CancelAuthorization()
	}
	c.fail(discord.NewError(discord.ErrNegotiationTimeout, nil))
	return true
}

// Close stops accepting callbacks and returns the machine to Disconnected.
// Continuations that arrive afterwards are dropped.
func (c *Connection) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.generation++
	c.verifier = nil
	c.setStatus(StatusDisconnected)
}

func (c *Connection) handleAuthorization(gen uint64, result AuthorizationResult, err error) {
	if !c.current(gen, StatusAuthorizing, "authorization") {
		return
	}
	if err != nil {
		c.fail(err)
		return
	}
	if !c.setStatus(StatusExchangingToken) {
		return
	}
	log.Debug("Discord authorization successful, exchanging code for access token")
	c.negotiator.ExchangeCode(c.appID, result.Code, c.verifier.Verifier, result.RedirectURI, func(creds *discord.Credentials, errExchange error) {
		c.handleExchange(gen, creds, errExchange)
	})
}

func (c *Connection) handleExchange(gen uint64, creds *discord.Credentials, err error) {
	if !c.current(gen, StatusExchangingToken, "token exchange") {
		return
	}
	c.verifier = nil
	if err != nil {
		c.fail(err)
		return
	}
	if !c.setStatus(StatusUpdatingToken) {
		return
	}
	log.Debug("Discord access token received, installing token")
	c.client.InstallToken(creds.TokenType, creds.AccessToken, func(errInstall error) {
		c.handleTokenInstalled(gen, errInstall)
	})
}

func (c *Connection) handleTokenInstalled(gen uint64, err error) {
	if !c.current(gen, StatusUpdatingToken, "token install") {
		return
	}
	if err != nil {
		c.fail(discord.Classify(err, discord.ErrTokenInstallFailed))
		return
	}
	if !c.setStatus(StatusConnecting) {
		return
	}
	log.Debug("Discord token installed, connecting")
	c.client.Connect()
}

func (c *Connection) handleStatusChanged(remote RemoteStatus, kind RemoteErrorKind, detail int32) {
	if c.closed.Load() {
		return
	}
	current := c.Status()
	log.WithField("status", current.String()).Debugf("discord status changed: %s", remote)

	if kind != RemoteErrorNone {
		if current.negotiating() {
			c.fail(discord.NewRemoteError(kind.String(), detail))
		}
		return
	}

	switch remote {
	case RemoteReady:
		if current == StatusReady {
			return
		}
		if current != StatusConnecting {
			log.Warnf("discord reported ready while %s, ignoring", current)
			return
		}
		if c.setStatus(StatusReady) && c.onReady != nil {
			c.onReady()
		}
	case RemoteDisconnected:
		if current == StatusConnecting || current == StatusReady {
			c.fail(discord.NewRemoteError("disconnected", detail))
		}
	}
}

// current reports whether a continuation for generation gen, expecting status
// expected, may still mutate state.
func (c *Connection) current(gen uint64, expected ConnectionStatus, stage string) bool {
	if c.closed.Load() || gen != c.generation || c.Status() != expected {
		log.Debugf("dropping stale %s callback (status %s)", stage, c.Status())
		return false
	}
	return true
}

func (c *Connection) fail(err error) {
	c.lastErr = err
	c.verifier = nil
	if !c.setStatus(StatusErrored) {
		return
	}
	log.WithField("error", discord.KindOf(err)).Errorf("discord connection failed: %v", err)
}

func (c *Connection) setStatus(to ConnectionStatus) bool {
	from := c.Status()
	if from == to {
		return true
	}
	if !canTransition(from, to) {
		log.Warnf("discord status transition %s -> %s rejected", from, to)
		return false
	}
	c.status.Store(int32(to))
	log.WithField("from", from.String()).Infof("discord status: %s", to)
	return true
}
