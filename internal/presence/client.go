// Package presence implements the rich presence core: the PKCE connection
// handshake, the connection state machine, the debounced presence sync and the
// callback pump that delivers asynchronous results onto the host tick goroutine.
package presence

import (
	"strings"

	"github.com/router-for-me/RichPresence/internal/auth/discord"
)

// ActivityType is the kind of activity shown on the user's profile.
type ActivityType int

const (
	ActivityPlaying ActivityType = iota
	ActivityStreaming
	ActivityListening
	ActivityWatching
	ActivityCustom
	ActivityCompeting
)

// Activity is the payload pushed to the presence service.
type Activity struct {
	Type    ActivityType
	State   string
	Details string
}

// RemoteStatus is the connection status reported by the client.
type RemoteStatus int

const (
	RemoteDisconnected RemoteStatus = iota
	RemoteConnecting
	RemoteConnected
	RemoteReady
	RemoteReconnecting
	RemoteDisconnecting
	RemoteHTTPWait
)

var remoteStatusNames = map[RemoteStatus]string{
	RemoteDisconnected:  "disconnected",
	RemoteConnecting:    "connecting",
	RemoteConnected:     "connected",
	RemoteReady:         "ready",
	RemoteReconnecting:  "reconnecting",
	RemoteDisconnecting: "disconnecting",
	RemoteHTTPWait:      "http_wait",
}

func (s RemoteStatus) String() string {
	if name, ok := remoteStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseRemoteStatus maps a wire name to a RemoteStatus.
func ParseRemoteStatus(name string) (RemoteStatus, bool) {
	for status, n := range remoteStatusNames {
		if n == name {
			return status, true
		}
	}
	return RemoteDisconnected, false
}

// RemoteErrorKind is the error class attached to a status notification.
type RemoteErrorKind int

const (
	RemoteErrorNone RemoteErrorKind = iota
	RemoteErrorConnectionFailed
	RemoteErrorUnexpectedClose
	RemoteErrorConnectionCanceled
)

var remoteErrorNames = map[RemoteErrorKind]string{
	RemoteErrorNone:               "none",
	RemoteErrorConnectionFailed:   "connection_failed",
	RemoteErrorUnexpectedClose:    "unexpected_close",
	RemoteErrorConnectionCanceled: "connection_canceled",
}

func (k RemoteErrorKind) String() string {
	if name, ok := remoteErrorNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseRemoteErrorKind maps a wire name to a RemoteErrorKind. Unknown names are
// reported as connection failures.
func ParseRemoteErrorKind(name string) RemoteErrorKind {
	if name == "" {
		return RemoteErrorNone
	}
	for kind, n := range remoteErrorNames {
		if n == name {
			return kind
		}
	}
	return RemoteErrorConnectionFailed
}

// LogSeverity is the severity attached to client log messages.
type LogSeverity int

const (
	SeverityVerbose LogSeverity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

// ParseLogSeverity maps a severity name to a LogSeverity. Unknown names are info.
func ParseLogSeverity(name string) LogSeverity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "verbose", "debug":
		return SeverityVerbose
	case "warning", "warn":
		return SeverityWarning
	case "error":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// AuthorizationResult is delivered when the user completed the consent step.
type AuthorizationResult struct {
	Code        string
	RedirectURI string
}

// StatusChangedFunc receives status notifications from the client.
type StatusChangedFunc func(status RemoteStatus, kind RemoteErrorKind, detail int32)

// LogFunc receives log lines emitted by the client.
type LogFunc func(message string, severity LogSeverity)

// Client is the SDK-shaped capability used to talk to the presence service.
//
// Implementations may perform I/O on their own goroutines but must deliver every
// callback through the Pump they were built with, so callbacks always run on the
// goroutine that calls Pump.Pump.
type Client interface {
	// DefaultPresenceScopes returns the scopes needed for rich presence.
	DefaultPresenceScopes() []string
	Authorize(req discord.AuthorizationRequest, onResult func(AuthorizationResult, error))
	// CancelAuthorization abandons an outstanding Authorize and frees its redirect listener.
	CancelAuthorization()
	ExchangeToken(appID, code, verifier, redirectURI string, onResult func(*discord.Credentials, error))
	InstallToken(tokenType, accessToken string, onResult func(error))
	Connect()
	UpdatePresence(activity Activity, onResult func(error))
	OnStatusChanged(fn StatusChangedFunc)
	OnLog(fn LogFunc, minSeverity LogSeverity)
	Close() error
}
