package presence

// ConnectionStatus is the lifecycle state of the presence connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusAuthorizing
	StatusExchangingToken
	StatusUpdatingToken
	StatusConnecting
	StatusReady
	StatusErrored
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusAuthorizing:
		return "authorizing"
	case StatusExchangingToken:
		return "exchanging_token"
	case StatusUpdatingToken:
		return "updating_token"
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// negotiating reports whether a handshake is in flight or established.
func (s ConnectionStatus) negotiating() bool {
	return s >= StatusAuthorizing && s <= StatusReady
}

// pending reports whether the handshake has started but not reached Ready.
func (s ConnectionStatus) pending() bool {
	return s >= StatusAuthorizing && s < StatusReady
}

// canTransition enforces the forward-only order. Errored is reachable from every
// negotiating state; a new negotiation starts from Disconnected or Errored.
func canTransition(from, to ConnectionStatus) bool {
	switch to {
	case StatusErrored:
		return from.negotiating()
	case StatusAuthorizing:
		return from == StatusDisconnected || from == StatusErrored
	case StatusDisconnected:
		return true
	default:
		return to == from+1
	}
}
