package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/RichPresence/internal/auth/discord"
	"github.com/router-for-me/RichPresence/internal/presence"
)

const defaultCallTimeout = 2 * time.Second

var errModuleStopped = errors.New("presence module is shutting down")

// Handler implements the control API endpoints.
type Handler struct {
	module  Module
	timeout time.Duration
}

// NewHandler creates a handler. callTimeout bounds how long a request waits for
// the tick goroutine; zero uses two seconds.
func NewHandler(module Module, callTimeout time.Duration) *Handler {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Handler{module: module, timeout: callTimeout}
}

type statusResponse struct {
	Status    string          `json:"status"`
	Ready     bool            `json:"ready"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	LastError *discord.Error  `json:"last_error,omitempty"`
	Message   string          `json:"message,omitempty"`
	Presence  presenceSummary `json:"presence"`
}

type presenceSummary struct {
	State   string `json:"state"`
	Details string `json:"details"`
	Dirty   bool   `json:"dirty"`
}

type presenceRequest struct {
	State   *string `json:"state"`
	Details *string `json:"details"`
}

// GetStatus reports the connection status and the current presence.
func (h *Handler) GetStatus(c *gin.Context) {
	var resp statusResponse
	err := h.call(c.Request.Context(), func() {
		resp = h.snapshot()
	})
	if err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PutPresence replaces the state and/or details of the presence.
func (h *Handler) PutPresence(c *gin.Context) {
	var body presenceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.State == nil && body.Details == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state or details is required"})
		return
	}

	var summary presenceSummary
	err := h.call(c.Request.Context(), func() {
		current := h.module.Sync()
		state, details := current.State(), current.Details()
		if body.State != nil {
			state = *body.State
		}
		if body.Details != nil {
			details = *body.Details
		}
		h.module.SetPresence(state, details)
		snap := current.Snapshot()
		summary = presenceSummary{State: snap.State, Details: snap.Details, Dirty: snap.Dirty}
	})
	if err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": summary})
}

// PostConnect restarts the handshake after a failure.
func (h *Handler) PostConnect(c *gin.Context) {
	var errConnect error
	var status string
	err := h.call(c.Request.Context(), func() {
		errConnect = h.module.Connect()
		status = h.module.Connection().Status().String()
	})
	if err != nil {
		h.writeCallError(c, err)
		return
	}
	switch {
	case errors.Is(errConnect, presence.ErrNegotiationInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": errConnect.Error(), "status": status})
	case errors.Is(errConnect, presence.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errConnect.Error()})
	case errConnect != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": errConnect.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": status})
	}
}

// snapshot runs on the tick goroutine.
func (h *Handler) snapshot() statusResponse {
	conn := h.module.Connection()
	snap := h.module.Sync().Snapshot()
	resp := statusResponse{
		Status:   conn.Status().String(),
		Ready:    conn.IsReady(),
		Presence: presenceSummary{State: snap.State, Details: snap.Details, Dirty: snap.Dirty},
	}
	if started := conn.StartedAt(); !started.IsZero() {
		resp.StartedAt = &started
	}
	if lastErr := conn.LastError(); lastErr != nil {
		var derr *discord.Error
		if errors.As(lastErr, &derr) {
			resp.LastError = derr
		}
		resp.Message = discord.GetUserFriendlyMessage(lastErr)
	}
	return resp
}

// call runs fn on the tick goroutine and waits for it to finish.
func (h *Handler) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !h.module.Post(func() {
		fn()
		close(done)
	}) {
		return errModuleStopped
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) writeCallError(c *gin.Context, err error) {
	if errors.Is(err, errModuleStopped) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusGatewayTimeout, gin.H{"error": "tick loop did not respond"})
}
