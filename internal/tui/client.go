package tui

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Status is the decoded response of GET /v0/status.
type Status struct {
	Status      string
	Ready       bool
	StartedAt   time.Time
	ErrorKind   string
	ErrorDetail string
	Message     string
	State       string
	Details     string
	Dirty       bool
}

// Client wraps HTTP calls to the control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a control API client for addr (host:port).
func NewClient(addr string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) doRequest(method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func apiError(code int, data []byte) error {
	if msg := gjson.GetBytes(data, "error").String(); msg != "" {
		return fmt.Errorf("HTTP %d: %s", code, msg)
	}
	return fmt.Errorf("HTTP %d: %s", code, strings.TrimSpace(string(data)))
}

// GetStatus fetches the connection status and current presence.
func (c *Client) GetStatus() (Status, error) {
	data, code, err := c.doRequest(http.MethodGet, "/v0/status", nil)
	if err != nil {
		return Status{}, err
	}
	if code != http.StatusOK {
		return Status{}, apiError(code, data)
	}
	root := gjson.ParseBytes(data)
	status := Status{
		Status:      root.Get("status").String(),
		Ready:       root.Get("ready").Bool(),
		ErrorKind:   root.Get("last_error.kind").String(),
		ErrorDetail: root.Get("last_error.detail").String(),
		Message:     root.Get("message").String(),
		State:       root.Get("presence.state").String(),
		Details:     root.Get("presence.details").String(),
		Dirty:       root.Get("presence.dirty").Bool(),
	}
	if started := root.Get("started_at"); started.Exists() {
		if ts, errParse := time.Parse(time.RFC3339Nano, started.String()); errParse == nil {
			status.StartedAt = ts
		}
	}
	return status, nil
}

// PutPresence replaces the presence labels.
func (c *Client) PutPresence(state, details string) error {
	body := `{}`
	body, _ = sjson.Set(body, "state", state)
	body, _ = sjson.Set(body, "details", details)
	data, code, err := c.doRequest(http.MethodPut, "/v0/presence", bytes.NewReader([]byte(body)))
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return apiError(code, data)
	}
	return nil
}

// Connect asks the daemon to restart the handshake and returns the new status.
func (c *Client) Connect() (string, error) {
	data, code, err := c.doRequest(http.MethodPost, "/v0/connect", nil)
	if err != nil {
		return "", err
	}
	if code != http.StatusAccepted {
		return "", apiError(code, data)
	}
	return gjson.GetBytes(data, "status").String(), nil
}
