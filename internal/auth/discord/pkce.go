// Package discord provides the OAuth2 authorization-code (PKCE) plumbing used to
// authenticate against the Discord presence service. It builds authorization
// requests, runs the local redirect listener and exchanges codes for tokens.
package discord

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ApplicationID is the fixed application identifier registered with Discord.
const ApplicationID = "1232753553919967303"

// ChallengeMethod is the only PKCE challenge method this package emits.
const ChallengeMethod = "S256"

// DefaultPresenceScopes are the scopes a rich presence integration requests.
var DefaultPresenceScopes = []string{"openid", "sdk.social_layer_presence"}

// CodeVerifierPair holds the PKCE verifier and the challenge derived from it.
// The verifier never leaves process memory.
type CodeVerifierPair struct {
	Verifier  string
	Challenge string
}

// AuthorizationRequest is the immutable description of one authorization attempt.
type AuthorizationRequest struct {
	ClientID        string
	Scopes          []string
	CodeChallenge   string
	ChallengeMethod string
	// State is an anti-CSRF nonce echoed back on the redirect.
	State string
}

// Scope returns the space separated scope list sent over the wire.
func (r AuthorizationRequest) Scope() string {
	return strings.Join(r.Scopes, " ")
}

// GenerateCodeVerifierPair creates a fresh random verifier and its S256 challenge
// as specified in RFC 7636.
func GenerateCodeVerifierPair() CodeVerifierPair {
	verifier := oauth2.GenerateVerifier()
	return CodeVerifierPair{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}

// BeginAuthorization allocates the verifier pair and the request for a new
// negotiation. It has no other side effects and never fails.
func BeginAuthorization(appID string, scopes []string) (AuthorizationRequest, CodeVerifierPair) {
	pair := GenerateCodeVerifierPair()
	req := AuthorizationRequest{
		ClientID:        appID,
		Scopes:          append([]string(nil), scopes...),
		CodeChallenge:   pair.Challenge,
		ChallengeMethod: ChallengeMethod,
		State:           uuid.NewString(),
	}
	return req, pair
}
