package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// OAuth endpoints for Discord.
const (
	AuthURL     = "https://discord.com/oauth2/authorize"
	TokenURL    = "https://discord.com/api/oauth2/token"
	IdentityURL = "https://discord.com/api/v10/users/@me"
)

// Credentials is the token set returned by a successful code exchange.
// It is held only long enough to install the access token on a connection.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	Scope        string
}

// Endpoints overrides the OAuth endpoints; empty fields keep the Discord defaults.
type Endpoints struct {
	AuthURL  string
	TokenURL string
}

// DiscordAuth builds authorization URLs and performs code exchanges against the
// Discord OAuth2 endpoints. It is a public client: PKCE replaces the client secret.
type DiscordAuth struct {
	httpClient *http.Client
	endpoint   oauth2.Endpoint
}

// NewDiscordAuth creates a DiscordAuth that sends requests through httpClient.
func NewDiscordAuth(httpClient *http.Client, endpoints Endpoints) *DiscordAuth {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := oauth2.Endpoint{
		AuthURL:   AuthURL,
		TokenURL:  TokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if strings.TrimSpace(endpoints.AuthURL) != "" {
		endpoint.AuthURL = endpoints.AuthURL
	}
	if strings.TrimSpace(endpoints.TokenURL) != "" {
		endpoint.TokenURL = endpoints.TokenURL
	}
	return &DiscordAuth{httpClient: httpClient, endpoint: endpoint}
}

func (a *DiscordAuth) oauthConfig(clientID, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		Endpoint:    a.endpoint,
		RedirectURL: redirectURI,
		Scopes:      scopes,
	}
}

// AuthorizationURL returns the consent URL for req. The user opens it in a
// browser and is redirected to redirectURI with the authorization code.
func (a *DiscordAuth) AuthorizationURL(req AuthorizationRequest, redirectURI string) (string, error) {
	if req.CodeChallenge == "" {
		return "", fmt.Errorf("PKCE code challenge is required")
	}
	if req.ClientID == "" {
		return "", fmt.Errorf("client id is required")
	}
	cfg := a.oauthConfig(req.ClientID, redirectURI, req.Scopes)
	return cfg.AuthCodeURL(req.State,
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", req.ChallengeMethod),
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// ExchangeCodeForTokens exchanges a one-time authorization code for Credentials.
// Rejections by the token endpoint are reported as ExchangeFailed, transport
// failures as NetworkError.
func (a *DiscordAuth) ExchangeCodeForTokens(ctx context.Context, clientID, code, verifier, redirectURI string) (*Credentials, error) {
	if code == "" {
		return nil, NewError(ErrExchangeFailed, fmt.Errorf("authorization code is empty"))
	}
	if verifier == "" {
		return nil, NewError(ErrExchangeFailed, fmt.Errorf("PKCE verifier is required for token exchange"))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	cfg := a.oauthConfig(clientID, redirectURI, nil)
	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyTokenError(err)
	}
	log.Debug("Discord authorization code exchanged for tokens")
	return credentialsFromToken(token), nil
}

// RefreshTokens obtains a new token set using a refresh token.
func (a *DiscordAuth) RefreshTokens(ctx context.Context, clientID, refreshToken string) (*Credentials, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	cfg := a.oauthConfig(clientID, "", nil)
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return credentialsFromToken(token), nil
}

func classifyTokenError(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return NewError(ErrCancelled, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		out := NewError(ErrExchangeFailed, err)
		if retrieveErr.ErrorCode != "" {
			out.Detail = retrieveErr.ErrorCode
		}
		return out
	}
	return NewError(ErrNetwork, err)
}

func credentialsFromToken(token *oauth2.Token) *Credentials {
	creds := &Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
	}
	if token.ExpiresIn > 0 {
		creds.ExpiresIn = time.Duration(token.ExpiresIn) * time.Second
	} else if !token.Expiry.IsZero() {
		creds.ExpiresIn = time.Until(token.Expiry).Round(time.Second)
	}
	if scope, ok := token.Extra("scope").(string); ok {
		creds.Scope = scope
	}
	return creds
}
