// Package rpc is the concrete presence client. Consent runs in the browser and
// comes back through a local OAuth redirect listener, tokens are exchanged over
// HTTP and presence updates travel over a JSON-framed websocket session.
//
// Every result is delivered through the presence.Pump the client was built with.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/router-for-me/RichPresence/internal/auth/discord"
	"github.com/router-for-me/RichPresence/internal/browser"
	"github.com/router-for-me/RichPresence/internal/presence"
	"github.com/router-for-me/RichPresence/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// CloseTokenExpired is the close code the gateway uses when the access token is no longer valid.
const CloseTokenExpired = 4004

// Options configures a Client.
type Options struct {
	Pump *presence.Pump
	// HTTPClient is used for token and identity requests. Defaults to a 30s client.
	HTTPClient *http.Client
	Endpoints  discord.Endpoints
	// IdentityURL validates the installed token. Empty skips validation.
	IdentityURL string
	// GatewayURL is the websocket endpoint of the presence session.
	GatewayURL string
	ProxyURL   string
	// CallbackPort is the port of the OAuth redirect listener; 0 picks a free one.
	CallbackPort int
	NoBrowser    bool
	// Present shows the consent URL to the user. Defaults to browser.Present.
	Present func(url string, noBrowser bool) bool
}

// Client implements presence.Client.
type Client struct {
	pump        *presence.Pump
	auth        *discord.DiscordAuth
	httpClient  *http.Client
	dialer      *websocket.Dialer
	gatewayURL  string
	identityURL string
	port        int
	noBrowser   bool
	present     func(url string, noBrowser bool) bool

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	statusFn     presence.StatusChangedFunc
	logFn        presence.LogFunc
	logMin       presence.LogSeverity
	authCancel   context.CancelFunc
	authDone     chan struct{}
	appID        string
	tokenType    string
	accessToken  string
	refreshToken string
	session      *session
	remote       presence.RemoteStatus
	lastActivity *presence.Activity
	refreshing   bool
	closed       bool
}

var _ presence.Client = (*Client)(nil)

// New creates a client. The pump is required.
func New(opts Options) (*Client, error) {
	if opts.Pump == nil {
		return nil, fmt.Errorf("rpc: pump is required")
	}
	if strings.TrimSpace(opts.GatewayURL) == "" {
		return nil, fmt.Errorf("rpc: gateway url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
		httpClient = util.SetProxy(opts.ProxyURL, httpClient)
	}
	present := opts.Present
	if present == nil {
		present = browser.Present
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		pump:        opts.Pump,
		auth:        discord.NewDiscordAuth(httpClient, opts.Endpoints),
		httpClient:  httpClient,
		dialer:      util.NewWebsocketDialer(opts.ProxyURL),
		gatewayURL:  opts.GatewayURL,
		identityURL: opts.IdentityURL,
		port:        opts.CallbackPort,
		noBrowser:   opts.NoBrowser,
		present:     present,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// DefaultPresenceScopes returns the scopes needed to publish rich presence.
func (c *Client) DefaultPresenceScopes() []string {
	return append([]string(nil), discord.DefaultPresenceScopes...)
}

// Authorize starts the redirect listener, shows the consent URL and waits for
// the redirect. A new call cancels an outstanding one and waits for it to
// release the listener before binding the callback port again.
func (c *Client) Authorize(req discord.AuthorizationRequest, onResult func(presence.AuthorizationResult, error)) {
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.mu.Lock()
	if c.authCancel != nil {
		c.authCancel()
	}
	previous := c.authDone
	c.authCancel = cancel
	c.authDone = done
	c.mu.Unlock()

	go func() {
		defer cancel()
		if previous != nil {
			<-previous
		}
		result, err := c.authorize(ctx, req)
		close(done)
		c.post(func() { onResult(result, err) })
	}()
}

// CancelAuthorization abandons an outstanding Authorize. Its callback still
// arrives with a Cancelled error.
func (c *Client) CancelAuthorization() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authCancel != nil {
		c.authCancel()
	}
}

func (c *Client) authorize(ctx context.Context, req discord.AuthorizationRequest) (presence.AuthorizationResult, error) {
	server := discord.NewOAuthServer(c.port)
	if err := server.Start(); err != nil {
		return presence.AuthorizationResult{}, discord.NewError(discord.ErrNetwork, err)
	}
	defer func() {
		if errStop := server.Stop(context.Background()); errStop != nil {
			log.Warnf("failed to stop OAuth callback server: %v", errStop)
		}
	}()

	redirectURI := server.RedirectURI()
	authURL, err := c.auth.AuthorizationURL(req, redirectURI)
	if err != nil {
		return presence.AuthorizationResult{}, discord.NewError(discord.ErrAuthorizationDenied, err)
	}
	if !c.noBrowser && !browser.IsAvailable() {
		log.Debug("no browser launcher detected, falling back to clipboard")
	}
	c.present(authURL, c.noBrowser)
	c.emitLog("waiting for authorization in the browser", presence.SeverityInfo)

	result, err := server.WaitForCallback(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return presence.AuthorizationResult{}, discord.NewError(discord.ErrCancelled, err)
		}
		return presence.AuthorizationResult{}, discord.NewError(discord.ErrNetwork, err)
	}
	code, err := discord.ValidateCallback(result, req)
	if err != nil {
		return presence.AuthorizationResult{}, err
	}
	return presence.AuthorizationResult{Code: code, RedirectURI: redirectURI}, nil
}

// ExchangeToken trades the authorization code for credentials.
func (c *Client) ExchangeToken(appID, code, verifier, redirectURI string, onResult func(*discord.Credentials, error)) {
	go func() {
		creds, err := c.auth.ExchangeCodeForTokens(c.ctx, appID, code, verifier, redirectURI)
		if err == nil {
			c.mu.Lock()
			c.appID = appID
			c.refreshToken = creds.RefreshToken
			c.mu.Unlock()
		}
		c.post(func() { onResult(creds, err) })
	}()
}

// InstallToken validates the access token against the identity endpoint and
// keeps it for Connect.
func (c *Client) InstallToken(tokenType, accessToken string, onResult func(error)) {
	if tokenType == "" {
		tokenType = "Bearer"
	}
	go func() {
		err := c.installToken(tokenType, accessToken)
		c.post(func() { onResult(err) })
	}()
}

func (c *Client) installToken(tokenType, accessToken string) error {
	if accessToken == "" {
		return discord.NewError(discord.ErrTokenInstallFailed, fmt.Errorf("access token is empty"))
	}
	if c.identityURL != "" {
		username, err := c.fetchIdentity(tokenType, accessToken)
		if err != nil {
			return err
		}
		c.emitLog(fmt.Sprintf("authenticated as %s", username), presence.SeverityInfo)
	}
	c.mu.Lock()
	c.tokenType = tokenType
	c.accessToken = accessToken
	c.mu.Unlock()
	return nil
}

func (c *Client) fetchIdentity(tokenType, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.identityURL, nil)
	if err != nil {
		return "", discord.NewError(discord.ErrTokenInstallFailed, err)
	}
	req.Header.Set("Authorization", tokenType+" "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", discord.NewError(discord.ErrNetwork, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close identity response body: %v", errClose)
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", discord.NewError(discord.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		out := discord.NewError(discord.ErrTokenInstallFailed, fmt.Errorf("identity request failed with status %d", resp.StatusCode))
		out.Code = int32(resp.StatusCode)
		if message := gjson.GetBytes(body, "message").String(); message != "" {
			out.Detail = message
		}
		return "", out
	}
	identity := gjson.ParseBytes(body)
	username := identity.Get("global_name").String()
	if username == "" {
		username = identity.Get("username").String()
	}
	if username == "" {
		username = identity.Get("id").String()
	}
	return username, nil
}

// Connect dials the gateway with the installed token. Progress is reported
// through the status callback.
func (c *Client) Connect() {
	go c.connect(false)
}

func (c *Client) connect(reconnect bool) {
	c.mu.Lock()
	tokenType, token := c.tokenType, c.accessToken
	c.mu.Unlock()
	if token == "" {
		c.emitLog("connect called without an installed token", presence.SeverityError)
		c.emitStatus(presence.RemoteDisconnected, presence.RemoteErrorConnectionFailed, 0)
		return
	}

	if reconnect {
		c.emitStatus(presence.RemoteReconnecting, presence.RemoteErrorNone, 0)
	} else {
		c.emitStatus(presence.RemoteConnecting, presence.RemoteErrorNone, 0)
	}

	header := http.Header{}
	header.Set("Authorization", tokenType+" "+token)
	conn, resp, err := c.dialer.DialContext(c.ctx, c.gatewayURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		var detail int32
		if resp != nil {
			detail = int32(resp.StatusCode)
		}
		c.emitLog(fmt.Sprintf("gateway dial failed: %v", err), presence.SeverityError)
		c.emitStatus(presence.RemoteDisconnected, presence.RemoteErrorConnectionFailed, detail)
		return
	}

	s := newSession(conn, c)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.close()
		return
	}
	previous := c.session
	c.session = s
	c.mu.Unlock()
	if previous != nil {
		previous.close()
	}
	c.emitStatus(presence.RemoteConnected, presence.RemoteErrorNone, 0)

	errRun := s.run()

	c.mu.Lock()
	owned := c.session == s
	if owned {
		c.session = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if closed || !owned {
		return
	}
	c.handleSessionEnd(errRun)
}

func (c *Client) handleSessionEnd(err error) {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		c.emitLog(fmt.Sprintf("gateway connection lost: %v", err), presence.SeverityWarning)
		c.emitStatus(presence.RemoteDisconnected, presence.RemoteErrorUnexpectedClose, 0)
		return
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure:
		c.emitStatus(presence.RemoteDisconnected, presence.RemoteErrorNone, 0)
	case CloseTokenExpired:
		if c.refresh() {
			c.connect(true)
			return
		}
		c.emitStatus(presence.RemoteDisconnected, presence.RemoteErrorUnexpectedClose, int32(closeErr.Code))
	default:
		c.emitStatus(presence.RemoteDisconnected, presence.RemoteErrorUnexpectedClose, int32(closeErr.Code))
	}
}

// refresh swaps in a refreshed access token. It is attempted once until the
// next Ready so a gateway that keeps rejecting tokens cannot loop.
func (c *Client) refresh() bool {
	c.mu.Lock()
	if c.refreshing || c.refreshToken == "" {
		c.mu.Unlock()
		return false
	}
	c.refreshing = true
	appID, refreshToken := c.appID, c.refreshToken
	c.mu.Unlock()

	creds, err := c.auth.RefreshTokens(c.ctx, appID, refreshToken)
	if err != nil {
		c.emitLog(fmt.Sprintf("token refresh failed: %v", err), presence.SeverityError)
		return false
	}
	c.mu.Lock()
	c.accessToken = creds.AccessToken
	if creds.TokenType != "" {
		c.tokenType = creds.TokenType
	}
	if creds.RefreshToken != "" {
		c.refreshToken = creds.RefreshToken
	}
	c.mu.Unlock()
	c.emitLog("access token refreshed", presence.SeverityInfo)
	return true
}

func (c *Client) handleStatusFrame(s *session, f frame) {
	if f.Op == OpError {
		kind := presence.ParseRemoteErrorKind(f.Error)
		if kind == presence.RemoteErrorNone {
			kind = presence.RemoteErrorConnectionFailed
		}
		c.emitStatus(c.remoteStatus(), kind, f.Detail)
		return
	}

	status, ok := presence.ParseRemoteStatus(f.Status)
	if !ok {
		log.Debugf("rpc: unknown status %q", f.Status)
		return
	}
	c.mu.Lock()
	c.remote = status
	wasRefreshing := c.refreshing
	var resend *presence.Activity
	if status == presence.RemoteReady {
		c.refreshing = false
		if wasRefreshing && c.lastActivity != nil {
			activity := *c.lastActivity
			resend = &activity
		}
	}
	c.mu.Unlock()

	if resend != nil {
		if err := c.sendActivity(s, *resend, nil); err != nil {
			log.Warnf("rpc: failed to restore presence after reconnect: %v", err)
		}
	}
	c.emitStatus(status, presence.ParseRemoteErrorKind(f.Error), f.Detail)
}

func (c *Client) remoteStatus() presence.RemoteStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// UpdatePresence sends activity and reports the server's acknowledgement.
func (c *Client) UpdatePresence(activity presence.Activity, onResult func(error)) {
	c.mu.Lock()
	s := c.session
	stored := activity
	c.lastActivity = &stored
	c.mu.Unlock()

	done := func(err error) {
		if err != nil {
			err = discord.NewError(discord.ErrUpdateFailed, err)
		}
		if onResult != nil {
			c.post(func() { onResult(err) })
		}
	}
	if s == nil {
		done(fmt.Errorf("not connected"))
		return
	}
	if err := c.sendActivity(s, activity, done); err != nil {
		done(err)
	}
}

func (c *Client) sendActivity(s *session, activity presence.Activity, onAck func(error)) error {
	nonce := uuid.NewString()
	payload, err := buildPresenceFrame(nonce, activity)
	if err != nil {
		return fmt.Errorf("build presence frame: %w", err)
	}
	return s.send(nonce, payload, onAck)
}

// OnStatusChanged installs the status callback.
func (c *Client) OnStatusChanged(fn presence.StatusChangedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFn = fn
}

// OnLog installs the log callback for messages at or above minSeverity.
func (c *Client) OnLog(fn presence.LogFunc, minSeverity presence.LogSeverity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logFn = fn
	c.logMin = minSeverity
}

func (c *Client) emitStatus(status presence.RemoteStatus, kind presence.RemoteErrorKind, detail int32) {
	c.post(func() {
		c.mu.Lock()
		fn := c.statusFn
		c.mu.Unlock()
		if fn != nil {
			fn(status, kind, detail)
		}
	})
}

func (c *Client) emitLog(message string, severity presence.LogSeverity) {
	c.mu.Lock()
	fn, minSeverity := c.logFn, c.logMin
	c.mu.Unlock()
	if fn == nil || severity < minSeverity {
		return
	}
	c.post(func() { fn(message, severity) })
}

func (c *Client) post(fn func()) {
	if !c.pump.Post(fn) {
		log.Debug("rpc: pump closed, dropping callback")
	}
}

// Close cancels outstanding requests and closes the gateway session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.session
	c.session = nil
	c.mu.Unlock()

	c.cancel()
	if s != nil {
		s.close()
	}
	return nil
}
