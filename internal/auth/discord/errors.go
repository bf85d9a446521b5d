package discord

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures raised while negotiating or using a presence connection.
type ErrorKind string

const (
	KindAuthorizationDenied ErrorKind = "authorization_denied"
	KindExchangeFailed      ErrorKind = "exchange_failed"
	KindTokenInstallFailed  ErrorKind = "token_install_failed"
	KindNetworkError        ErrorKind = "network_error"
	KindRemoteError         ErrorKind = "remote_error"
	KindUpdateFailed        ErrorKind = "update_failed"
	KindCancelled           ErrorKind = "cancelled"
	KindNegotiationTimeout  ErrorKind = "negotiation_timeout"
)

// Error is a classified presence error.
type Error struct {
	// Kind is the error class.
	Kind ErrorKind `json:"kind"`
	// Detail is a short human-readable description. For remote errors it carries
	// the remote error name.
	Detail string `json:"detail,omitempty"`
	// Code is the numeric detail reported by the remote endpoint, if any.
	Code int32 `json:"code,omitempty"`
	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error returns a string representation of the error.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (detail %d)", msg, e.Code)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same kind, so the sentinels below
// work with errors.Is regardless of detail or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrAuthorizationDenied = &Error{Kind: KindAuthorizationDenied, Detail: "authorization was denied"}
	ErrExchangeFailed      = &Error{Kind: KindExchangeFailed, Detail: "failed to exchange authorization code for tokens"}
	ErrTokenInstallFailed  = &Error{Kind: KindTokenInstallFailed, Detail: "failed to install access token"}
	ErrNetwork             = &Error{Kind: KindNetworkError, Detail: "network request failed"}
	ErrRemote              = &Error{Kind: KindRemoteError}
	ErrUpdateFailed        = &Error{Kind: KindUpdateFailed, Detail: "rich presence update was rejected"}
	ErrCancelled           = &Error{Kind: KindCancelled, Detail: "operation cancelled"}
	ErrNegotiationTimeout  = &Error{Kind: KindNegotiationTimeout, Detail: "negotiation did not complete in time"}
)

// NewError creates an error of the same kind as baseErr with the given cause.
func NewError(baseErr *Error, cause error) *Error {
	return &Error{
		Kind:   baseErr.Kind,
		Detail: baseErr.Detail,
		Code:   baseErr.Code,
		Cause:  cause,
	}
}

// NewRemoteError creates a RemoteError carrying the remote error name and numeric detail.
func NewRemoteError(name string, code int32) *Error {
	return &Error{Kind: KindRemoteError, Detail: name, Code: code}
}

// Classify returns err as an *Error. Already classified errors pass through,
// context cancellation becomes Cancelled and anything else gets the fallback kind.
func Classify(err error, fallback *Error) *Error {
	if err == nil {
		return nil
	}
	var presenceErr *Error
	if errors.As(err, &presenceErr) {
		return presenceErr
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrCancelled, err)
	}
	return NewError(fallback, err)
}

// KindOf returns the kind of err, or the empty kind when err is not classified.
func KindOf(err error) ErrorKind {
	var presenceErr *Error
	if errors.As(err, &presenceErr) {
		return presenceErr.Kind
	}
	return ""
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error kind.
func GetUserFriendlyMessage(err error) string {
	switch KindOf(err) {
	case KindAuthorizationDenied:
		return "Discord authorization was cancelled or denied."
	case KindExchangeFailed:
		return "Discord rejected the authorization code. Please reconnect."
	case KindTokenInstallFailed:
		return "Discord did not accept the access token. Please reconnect."
	case KindNetworkError:
		return "Could not reach Discord. Check your network connection."
	case KindRemoteError:
		return "The Discord connection reported an error."
	case KindUpdateFailed:
		return "Discord rejected the rich presence update."
	case KindCancelled:
		return "Discord authorization was interrupted."
	case KindNegotiationTimeout:
		return "Discord authorization timed out. Please try again."
	case "":
		if err == nil {
			return ""
		}
		return "An unexpected error occurred. Please try again."
	default:
		return "Discord presence failed."
	}
}
