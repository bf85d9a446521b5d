package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/RichPresence/internal/auth/discord"
	"golang.org/x/oauth2"
)

type connectionHarness struct {
	conn   *Connection
	client *fakeClient
	pump   *Pump
	ready  int
	now    time.Time
	seen   []ConnectionStatus
}

func newConnectionHarness(t *testing.T, timeout time.Duration) *connectionHarness {
	t.Helper()
	h := &connectionHarness{pump: NewPump(), now: time.Unix(1700000000, 0)}
	h.client = newFakeClient(h.pump)
	h.conn = NewConnection(h.client, ConnectionOptions{
		NegotiationTimeout: timeout,
		OnReady:            func() { h.ready++ },
		Clock:              func() time.Time { return h.now },
	})
	h.record()
	return h
}

// pump runs pending callbacks and records the resulting status.
func (h *connectionHarness) pumpOnce() {
	h.pump.Pump()
	h.record()
}

func (h *connectionHarness) record() {
	status := h.conn.Status()
	if len(h.seen) == 0 || h.seen[len(h.seen)-1] != status {
		h.seen = append(h.seen, status)
	}
}

func (h *connectionHarness) expectStatus(t *testing.T, want ConnectionStatus) {
	t.Helper()
	if got := h.conn.Status(); got != want {
		t.Fatalf("status = %s, want %s", got, want)
	}
}

func (h *connectionHarness) driveToReady(t *testing.T) {
	t.Helper()
	if err := h.conn.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.record()
	h.client.resolveAuthorization(t, "abc", nil)
	h.pumpOnce()
	h.client.resolveExchange(t, "tok", nil)
	h.pumpOnce()
	h.client.resolveInstall(t, nil)
	h.pumpOnce()
	h.client.reportStatus(RemoteReady, RemoteErrorNone, 0)
	h.pumpOnce()
	h.expectStatus(t, StatusReady)
}

func TestConnectionHandshakeVisitsEveryState(t *testing.T) {
	h := newConnectionHarness(t, 0)
	h.expectStatus(t, StatusDisconnected)

	if err := h.conn.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.record()
	h.expectStatus(t, StatusAuthorizing)
	if len(h.client.authRequests) != 1 {
		t.Fatalf("expected 1 authorization request, got %d", len(h.client.authRequests))
	}
	req := h.client.authRequests[0]
	if req.ClientID != discord.ApplicationID {
		t.Fatalf("client id = %q", req.ClientID)
	}
	if len(req.Scopes) != 2 || req.Scopes[1] != "sdk.social_layer_presence" {
		t.Fatalf("scopes = %v", req.Scopes)
	}

	h.client.resolveAuthorization(t, "abc", nil)
	h.expectStatus(t, StatusAuthorizing)
	h.pumpOnce()
	h.expectStatus(t, StatusExchangingToken)
	if h.client.exchangeCode != "abc" {
		t.Fatalf("exchange code = %q", h.client.exchangeCode)
	}
	if oauth2.S256ChallengeFromVerifier(h.client.exchangeVerifier) != req.CodeChallenge {
		t.Fatalf("verifier %q does not match the submitted challenge", h.client.exchangeVerifier)
	}

	h.client.resolveExchange(t, "tok", nil)
	h.pumpOnce()
	h.expectStatus(t, StatusUpdatingToken)
	if h.client.installedToken != "tok" || h.client.installedType != "Bearer" {
		t.Fatalf("installed token = %q type %q", h.client.installedToken, h.client.installedType)
	}
	if h.client.connects != 0 {
		t.Fatal("connect must wait for the token install")
	}

	h.client.resolveInstall(t, nil)
	h.pumpOnce()
	h.expectStatus(t, StatusConnecting)
	if h.client.connects != 1 {
		t.Fatalf("connects = %d, want 1", h.client.connects)
	}
	if h.conn.IsReady() {
		t.Fatal("IsReady() must be false before remote Ready")
	}

	h.client.reportStatus(RemoteReady, RemoteErrorNone, 0)
	h.pumpOnce()
	h.expectStatus(t, StatusReady)
	if !h.conn.IsReady() {
		t.Fatal("IsReady() = false after Ready")
	}
	if h.ready != 1 {
		t.Fatalf("OnReady calls = %d, want 1", h.ready)
	}

	want := []ConnectionStatus{StatusDisconnected, StatusAuthorizing, StatusExchangingToken, StatusUpdatingToken, StatusConnecting, StatusReady}
	if len(h.seen) != len(want) {
		t.Fatalf("visited %v, want %v", h.seen, want)
	}
	for i := range want {
		if h.seen[i] != want[i] {
			t.Fatalf("visited %v, want %v", h.seen, want)
		}
	}

	h.client.reportStatus(RemoteReady, RemoteErrorNone, 0)
	h.pumpOnce()
	if h.ready != 1 {
		t.Fatal("a repeated Ready must not push again")
	}
}

func TestConnectionFailuresMoveToErrored(t *testing.T) {
	tests := []struct {
		name     string
		steps    func(t *testing.T, h *connectionHarness)
		wantKind discord.ErrorKind
	}{
		{
			name: "authorization denied",
			steps: func(t *testing.T, h *connectionHarness) {
				h.client.resolveAuthorization(t, "", discord.NewError(discord.ErrAuthorizationDenied, errors.New("access_denied")))
			},
			wantKind: discord.KindAuthorizationDenied,
		},
		{
			name: "authorization unclassified error",
			steps: func(t *testing.T, h *connectionHarness) {
				h.client.resolveAuthorization(t, "", errors.New("browser closed"))
			},
			wantKind: discord.KindAuthorizationDenied,
		},
		{
			name: "exchange failed",
			steps: func(t *testing.T, h *connectionHarness) {
				h.client.resolveAuthorization(t, "abc", nil)
				h.pumpOnce()
				h.client.resolveExchange(t, "", discord.NewError(discord.ErrExchangeFailed, errors.New("invalid_grant")))
			},
			wantKind: discord.KindExchangeFailed,
		},
		{
			name: "exchange network error",
			steps: func(t *testing.T, h *connectionHarness) {
				h.client.resolveAuthorization(t, "abc", nil)
				h.pumpOnce()
				h.client.resolveExchange(t, "", discord.NewError(discord.ErrNetwork, errors.New("dial tcp")))
			},
			wantKind: discord.KindNetworkError,
		},
		{
			name: "token install failed",
			steps: func(t *testing.T, h *connectionHarness) {
				h.client.resolveAuthorization(t, "abc", nil)
				h.pumpOnce()
				h.client.resolveExchange(t, "tok", nil)
				h.pumpOnce()
				h.client.resolveInstall(t, errors.New("401 unauthorized"))
			},
			wantKind: discord.KindTokenInstallFailed,
		},
		{
			name: "remote error while connecting",
			steps: func(t *testing.T, h *connectionHarness) {
				h.client.resolveAuthorization(t, "abc", nil)
				h.pumpOnce()
				h.client.resolveExchange(t, "tok", nil)
				h.pumpOnce()
				h.client.resolveInstall(t, nil)
				h.pumpOnce()
				h.client.reportStatus(RemoteDisconnected, RemoteErrorConnectionFailed, 4004)
			},
			wantKind: discord.KindRemoteError,
		},
		{
			name: "remote error while authorizing",
			steps: func(t *testing.T, h *connectionHarness) {
				h.client.reportStatus(RemoteDisconnected, RemoteErrorUnexpectedClose, 1006)
			},
			wantKind: discord.KindRemoteError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			h := newConnectionHarness(t, 0)
			if err := h.conn.Start(); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			tt.steps(t, h)
			h.pumpOnce()
			h.expectStatus(t, StatusErrored)
			if got := discord.KindOf(h.conn.LastError()); got != tt.wantKind {
				t.Fatalf("last error kind = %q, want %q (%v)", got, tt.wantKind, h.conn.LastError())
			}
			if h.ready != 0 {
				t.Fatal("OnReady must not run on failure")
			}
		})
	}
}

func TestConnectionRemoteErrorAfterReady(t *testing.T) {
	h := newConnectionHarness(t, 0)
	h.driveToReady(t)

	h.client.reportStatus(RemoteDisconnected, RemoteErrorUnexpectedClose, 1006)
	h.pumpOnce()
	h.expectStatus(t, StatusErrored)
	var presenceErr *discord.Error
	if !errors.As(h.conn.LastError(), &presenceErr) || presenceErr.Detail != "unexpected_close" || presenceErr.Code != 1006 {
		t.Fatalf("last error = %v", h.conn.LastError())
	}
}

func TestConnectionRemoteDisconnectWithoutErrorAfterReady(t *testing.T) {
	h := newConnectionHarness(t, 0)
	h.driveToReady(t)

	h.client.reportStatus(RemoteReconnecting, RemoteErrorNone, 0)
	h.pumpOnce()
	h.expectStatus(t, StatusReady)

	h.client.reportStatus(RemoteDisconnected, RemoteErrorNone, 0)
	h.pumpOnce()
	h.expectStatus(t, StatusErrored)
}

func TestConnectionIgnoresReadyBeforeConnecting(t *testing.T) {
	h := newConnectionHarness(t, 0)
	if err := h.conn.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.client.reportStatus(RemoteReady, RemoteErrorNone, 0)
	h.pumpOnce()
	h.expectStatus(t, StatusAuthorizing)
	if h.ready != 0 {
		t.Fatal("OnReady must not run outside Connecting")
	}
}

func TestConnectionStartWhileInFlight(t *testing.T) {
	h := newConnectionHarness(t, 0)
	if err := h.conn.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.conn.Start(); !errors.Is(err, ErrNegotiationInFlight) {
		t.Fatalf("second Start() error = %v, want ErrNegotiationInFlight", err)
	}
	if len(h.client.authRequests) != 1 {
		t.Fatalf("authorization requests = %d, want 1", len(h.client.authRequests))
	}
}

func TestConnectionRestartAfterErrorStartsFresh(t *testing.T) {
	h := newConnectionHarness(t, 0)
	if err := h.conn.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	staleAuthorize := h.client.onAuthorize
	h.client.resolveAuthorization(t, "", discord.NewError(discord.ErrAuthorizationDenied, nil))
	h.pumpOnce()
	h.expectStatus(t, StatusErrored)

	if err := h.conn.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	h.expectStatus(t, StatusAuthorizing)
	if h.conn.LastError() != nil {
		t.Fatal("restart must clear the last error")
	}
	if len(h.client.authRequests) != 2 {
		t.Fatalf("authorization requests = %d, want 2", len(h.client.authRequests))
	}
	if h.client.authRequests[0].CodeChallenge == h.client.authRequests[1].CodeChallenge {
		t.Fatal("restart must use a fresh verifier")
	}

	// A late result from the first attempt must not advance the new one.
	h.pump.Post(func() { staleAuthorize(AuthorizationResult{Code: "old"}, nil) })
	h.pumpOnce()
	h.expectStatus(t, StatusAuthorizing)
	if h.client.onExchange != nil {
		t.Fatal("stale authorization result must not trigger an exchange")
	}
}

func TestConnectionDropsCallbacksAfterClose(t *testing.T) {
	h := newConnectionHarness(t, 0)
	if err := h.conn.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.client.resolveAuthorization(t, "abc", nil)
	h.conn.Close()
	h.pumpOnce()

	h.expectStatus(t, StatusDisconnected)
	if h.client.onExchange != nil {
		t.Fatal("callbacks after Close must be dropped")
	}
	if err := h.conn.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start() after Close error = %v, want ErrClosed", err)
	}
}

func TestConnectionNegotiationTimeout(t *testing.T) {
	h := newConnectionHarness(t, time.Minute)
	if err := h.conn.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.now = h.now.Add(59 * time.Second)
	if h.conn.CheckTimeout() {
		t.Fatal("timeout fired early")
	}
	h.expectStatus(t, StatusAuthorizing)

	h.now = h.now.Add(time.Second)
	if !h.conn.CheckTimeout() {
		t.Fatal("timeout did not fire")
	}
	h.expectStatus(t, StatusErrored)
	if !errors.Is(h.conn.LastError(), discord.ErrNegotiationTimeout) {
		t.Fatalf("last error = %v", h.conn.LastError())
	}
	if h.client.authCancels != 1 {
		t.Fatalf("pending authorization cancelled %d times, want 1", h.client.authCancels)
	}

	h.client.resolveAuthorization(t, "late", nil)
	h.pumpOnce()
	h.expectStatus(t, StatusErrored)
	if h.client.onExchange != nil {
		t.Fatal("late authorization after timeout must be dropped")
	}
}

func TestConnectionTimeoutIgnoredWhenReady(t *testing.T) {
	h := newConnectionHarness(t, time.Minute)
	h.driveToReady(t)

	h.now = h.now.Add(time.Hour)
	if h.conn.CheckTimeout() {
		t.Fatal("timeout must not fire once Ready")
	}
	h.expectStatus(t, StatusReady)
}

func TestConnectionWithoutTimeoutWaitsForever(t *testing.T) {
	h := newConnectionHarness(t, 0)
	if err := h.conn.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.now = h.now.Add(24 * time.Hour)
	if h.conn.CheckTimeout() {
		t.Fatal("zero timeout must never fire")
	}
	h.expectStatus(t, StatusAuthorizing)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to ConnectionStatus
		want     bool
	}{
		{StatusDisconnected, StatusAuthorizing, true},
		{StatusDisconnected, StatusExchangingToken, false},
		{StatusAuthorizing, StatusExchangingToken, true},
		{StatusAuthorizing, StatusUpdatingToken, false},
		{StatusExchangingToken, StatusUpdatingToken, true},
		{StatusUpdatingToken, StatusConnecting, true},
		{StatusConnecting, StatusReady, true},
		{StatusAuthorizing, StatusReady, false},
		{StatusReady, StatusConnecting, false},
		{StatusAuthorizing, StatusErrored, true},
		{StatusReady, StatusErrored, true},
		{StatusDisconnected, StatusErrored, false},
		{StatusErrored, StatusErrored, false},
		{StatusErrored, StatusAuthorizing, true},
		{StatusReady, StatusDisconnected, true},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
