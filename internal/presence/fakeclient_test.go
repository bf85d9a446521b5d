package presence

import (
	"testing"

	"github.com/router-for-me/RichPresence/internal/auth/discord"
)

// fakeClient records requests and lets tests resolve them later. Every
// resolution goes through the pump, as a real client would deliver it.
type fakeClient struct {
	pump *Pump

	authRequests []discord.AuthorizationRequest
	onAuthorize  func(AuthorizationResult, error)
	authCancels  int

	exchangeCode     string
	exchangeVerifier string
	exchangeRedirect string
	onExchange       func(*discord.Credentials, error)

	installedType  string
	installedToken string
	onInstall      func(error)

	connects int

	updates   []Activity
	onUpdates []func(error)

	onStatus StatusChangedFunc
	onLog    LogFunc
	logLevel LogSeverity
	closed   bool
}

func newFakeClient(pump *Pump) *fakeClient {
	return &fakeClient{pump: pump}
}

func (f *fakeClient) DefaultPresenceScopes() []string {
	return []string{"openid", "sdk.social_layer_presence"}
}

func (f *fakeClient) Authorize(req discord.AuthorizationRequest, onResult func(AuthorizationResult, error)) {
	f.authRequests = append(f.authRequests, req)
	f.onAuthorize = onResult
}

func (f *fakeClient) CancelAuthorization() { f.authCancels++ }

func (f *fakeClient) ExchangeToken(appID, code, verifier, redirectURI string, onResult func(*discord.Credentials, error)) {
	f.exchangeCode = code
	f.exchangeVerifier = verifier
	f.exchangeRedirect = redirectURI
	f.onExchange = onResult
}

func (f *fakeClient) InstallToken(tokenType, accessToken string, onResult func(error)) {
	f.installedType = tokenType
	f.installedToken = accessToken
	f.onInstall = onResult
}

func (f *fakeClient) Connect() { f.connects++ }

func (f *fakeClient) UpdatePresence(activity Activity, onResult func(error)) {
	f.updates = append(f.updates, activity)
	f.onUpdates = append(f.onUpdates, onResult)
}

func (f *fakeClient) OnStatusChanged(fn StatusChangedFunc) { f.onStatus = fn }

func (f *fakeClient) OnLog(fn LogFunc, minSeverity LogSeverity) {
	f.onLog = fn
	f.logLevel = minSeverity
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func (f *fakeClient) resolveAuthorization(t *testing.T, code string, err error) {
	t.Helper()
	cb := f.onAuthorize
	if cb == nil {
		t.Fatal("no authorization outstanding")
	}
	f.onAuthorize = nil
	f.pump.Post(func() { cb(AuthorizationResult{Code: code, RedirectURI: "http://127.0.0.1:5050/callback"}, err) })
}

func (f *fakeClient) resolveExchange(t *testing.T, token string, err error) {
	t.Helper()
	cb := f.onExchange
	if cb == nil {
		t.Fatal("no exchange outstanding")
	}
	f.onExchange = nil
	var creds *discord.Credentials
	if err == nil {
		creds = &discord.Credentials{AccessToken: token, RefreshToken: "refresh", TokenType: "Bearer"}
	}
	f.pump.Post(func() { cb(creds, err) })
}

func (f *fakeClient) resolveInstall(t *testing.T, err error) {
	t.Helper()
	cb := f.onInstall
	if cb == nil {
		t.Fatal("no token install outstanding")
	}
	f.onInstall = nil
	f.pump.Post(func() { cb(err) })
}

func (f *fakeClient) reportStatus(status RemoteStatus, kind RemoteErrorKind, detail int32) {
	cb := f.onStatus
	f.pump.Post(func() { cb(status, kind, detail) })
}

func (f *fakeClient) resolveUpdate(t *testing.T, index int, err error) {
	t.Helper()
	if index >= len(f.onUpdates) {
		t.Fatalf("no update %d outstanding", index)
	}
	cb := f.onUpdates[index]
	f.pump.Post(func() { cb(err) })
}
