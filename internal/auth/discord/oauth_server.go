package discord

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const callbackPath = "/callback"

const loginSuccessHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Discord connected</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>Discord connected</h1>
<p>Rich presence is being enabled. You can close this window.</p>
</body>
</html>`

// OAuthServer is the local HTTP listener that receives the OAuth redirect
// carrying the authorization code.
type OAuthServer struct {
	// server is the underlying HTTP server instance
	server *http.Server
	// listener is bound in Start so the real port is known before the browser opens
	listener net.Listener
	// port is the requested port; 0 picks a free one
	port int
	// resultChan receives the first callback result
	resultChan chan *OAuthResult
	// errorChan receives server failures
	errorChan chan error
	mu        sync.Mutex
	running   bool
}

// OAuthResult contains the parameters delivered on the redirect.
type OAuthResult struct {
	// Code is the authorization code
	Code string
	// State is the anti-CSRF nonce echoed by the provider
	State string
	// Error is the provider error code, e.g. access_denied
	Error string
	// ErrorDescription is the provider's human-readable error text
	ErrorDescription string
}

// NewOAuthServer creates a callback server for the given port.
func NewOAuthServer(port int) *OAuthServer {
	return &OAuthServer{
		port:       port,
		resultChan: make(chan *OAuthResult, 1),
		errorChan:  make(chan error, 1),
	}
}

// Start binds the listener and serves the callback endpoints in the background.
func (s *OAuthServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("port %d is already in use: %w", s.port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handleCallback)
	mux.HandleFunc("/success", s.handleSuccess)

	s.listener = listener
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	server := s.server
	go func() {
		if errServe := server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			select {
			case s.errorChan <- fmt.Errorf("oauth callback server failed: %w", errServe):
			default:
			}
		}
	}()
	return nil
}

// Port returns the bound port, or the requested port before Start.
func (s *OAuthServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// RedirectURI is the redirect target registered in the authorization request.
func (s *OAuthServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.Port(), callbackPath)
}

// Stop gracefully shuts down the server.
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("Stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}

// WaitForCallback blocks until a callback arrives, the server fails or ctx ends.
func (s *OAuthServer) WaitForCallback(ctx context.Context) (*OAuthResult, error) {
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *OAuthServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received OAuth callback")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	errorParam := query.Get("error")

	if errorParam != "" {
		log.Errorf("OAuth error received: %s", errorParam)
		s.sendResult(&OAuthResult{
			Error:            errorParam,
			ErrorDescription: query.Get("error_description"),
			State:            state,
		})
		http.Error(w, fmt.Sprintf("OAuth error: %s", errorParam), http.StatusBadRequest)
		return
	}

	if code == "" {
		log.Error("No authorization code received")
		s.sendResult(&OAuthResult{Error: "no_code"})
		http.Error(w, "No authorization code received", http.StatusBadRequest)
		return
	}

	s.sendResult(&OAuthResult{Code: code, State: state})
	http.Redirect(w, r, "/success", http.StatusFound)
}

func (s *OAuthServer) handleSuccess(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(loginSuccessHTML)); err != nil {
		log.Errorf("Failed to write success page: %v", err)
	}
}

func (s *OAuthServer) sendResult(result *OAuthResult) {
	select {
	case s.resultChan <- result:
		log.Debug("OAuth result sent to channel")
	default:
		log.Warn("OAuth result channel is full, result dropped")
	}
}

// IsRunning returns whether the server is currently running.
func (s *OAuthServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ValidateCallback checks a callback result against the request that started the
// flow and returns the authorization code.
func ValidateCallback(result *OAuthResult, req AuthorizationRequest) (string, error) {
	if result == nil {
		return "", NewError(ErrNetwork, fmt.Errorf("no callback result"))
	}
	if result.Error != "" {
		denied := NewError(ErrAuthorizationDenied, fmt.Errorf("%s", result.Error))
		if result.ErrorDescription != "" {
			denied.Detail = result.ErrorDescription
		}
		return "", denied
	}
	if req.State != "" && result.State != req.State {
		return "", NewError(ErrAuthorizationDenied, fmt.Errorf("state mismatch"))
	}
	return result.Code, nil
}
