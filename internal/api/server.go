// Package api serves the local control API of the presence daemon.
// Handlers never touch presence state directly: every read and write is posted
// to the module's pump and runs on the tick goroutine.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/RichPresence/internal/logging"
	"github.com/router-for-me/RichPresence/internal/presence"
	log "github.com/sirupsen/logrus"
)

// Module is the part of presence.Module the API needs.
type Module interface {
	Post(fn func()) bool
	Connect() error
	SetPresence(state, details string)
	Connection() *presence.Connection
	Sync() *presence.Sync
}

// Server is the control API HTTP server.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	handler *Handler
}

// NewServer builds the router for module. The server listens on addr once Run is called.
func NewServer(addr string, module Module, callTimeout time.Duration) *Server {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	handler := NewHandler(module, callTimeout)
	v0 := engine.Group("/v0")
	{
		v0.GET("/status", handler.GetStatus)
		v0.PUT("/presence", handler.PutPresence)
		v0.POST("/connect", handler.PostConnect)
	}

	return &Server{
		engine:  engine,
		handler: handler,
		server: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	log.Infof("control API listening on %s", listener.Addr())

	errCh := make(chan error, 1)
	go func() {
		if errServe := s.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errStop := s.server.Shutdown(stopCtx); errStop != nil {
		log.Errorf("control API stop failed: %v", errStop)
		return errStop
	}
	log.Info("control API stopped")
	return nil
}
