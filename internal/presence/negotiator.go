package presence

import (
	"github.com/router-for-me/RichPresence/internal/auth/discord"
)

// Negotiator owns the PKCE pair and the authorization-code exchange for one
// negotiation at a time. The caller must not submit a second request while one
// is outstanding; Connection enforces that.
type Negotiator struct {
	client Client
}

// NewNegotiator creates a negotiator backed by client.
func NewNegotiator(client Client) *Negotiator {
	return &Negotiator{client: client}
}

// BeginAuthorization builds a request and a fresh verifier pair. It never fails.
func (n *Negotiator) BeginAuthorization(appID string, scopes []string) (discord.AuthorizationRequest, discord.CodeVerifierPair) {
	return discord.BeginAuthorization(appID, scopes)
}

// SubmitAuthorization dispatches req. Unclassified failures are reported as
// AuthorizationDenied.
func (n *Negotiator) SubmitAuthorization(req discord.AuthorizationRequest, onResult func(AuthorizationResult, error)) {
	n.client.Authorize(req, func(result AuthorizationResult, err error) {
		if err != nil {
			onResult(AuthorizationResult{}, discord.Classify(err, discord.ErrAuthorizationDenied))
			return
		}
		onResult(result, nil)
	})
}

// ExchangeCode trades a one-time authorization code for credentials.
// Unclassified failures are reported as ExchangeFailed.
func (n *Negotiator) ExchangeCode(appID, code, verifier, redirectURI string, onResult func(*discord.Credentials, error)) {
	n.client.ExchangeToken(appID, code, verifier, redirectURI, func(creds *discord.Credentials, err error) {
		if err == nil && creds == nil {
			err = discord.NewError(discord.ErrExchangeFailed, nil)
		}
		if err != nil {
			onResult(nil, discord.Classify(err, discord.ErrExchangeFailed))
			return
		}
		onResult(creds, nil)
	})
}
