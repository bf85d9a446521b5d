package tui

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestNewClientNormalizesAddress(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8317":         "http://127.0.0.1:8317",
		" localhost:1/ ":         "http://localhost:1",
		"https://presence.local": "https://presence.local",
	}
	for addr, want := range tests {
		if got := NewClient(addr).baseURL; got != want {
			t.Errorf("NewClient(%q).baseURL = %q, want %q", addr, got, want)
		}
	}
}

func TestClientGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v0/status" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{
			"status":"errored",
			"ready":false,
			"started_at":"2026-10-17T10:00:00Z",
			"last_error":{"kind":"remote_error","detail":"unexpected_close","code":4000},
			"presence":{"state":"Playing","details":"Level 1","dirty":true}
		}`)
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL).GetStatus()
	if err != nil {
		t.Fatalf("GetStatus error: %v", err)
	}
	want := Status{
		Status:      "errored",
		StartedAt:   time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
		ErrorKind:   "remote_error",
		ErrorDetail: "unexpected_close",
		State:       "Playing",
		Details:     "Level 1",
		Dirty:       true,
	}
	if !status.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("StartedAt = %v, want %v", status.StartedAt, want.StartedAt)
	}
	status.StartedAt = want.StartedAt
	if status != want {
		t.Fatalf("GetStatus = %+v, want %+v", status, want)
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/status":
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = io.WriteString(w, `{"error":"tick loop did not respond"}`)
		case "/v0/connect":
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error":"connection already in progress","status":"authorizing"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `plain failure`)
		}
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	if _, err := client.GetStatus(); err == nil || !strings.Contains(err.Error(), "HTTP 504: tick loop did not respond") {
		t.Errorf("GetStatus error = %v", err)
	}
	if _, err := client.Connect(); err == nil || !strings.Contains(err.Error(), "HTTP 409") {
		t.Errorf("Connect error = %v", err)
	}
	if err := client.PutPresence("a", "b"); err == nil || !strings.Contains(err.Error(), "plain failure") {
		t.Errorf("PutPresence error = %v", err)
	}
}

func TestClientPutPresenceAndConnect(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/v0/presence":
			data, _ := io.ReadAll(r.Body)
			body = string(data)
			_, _ = io.WriteString(w, `{"status":"ready"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v0/connect":
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"status":"authorizing"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	if err := client.PutPresence("In menu", `Deck "A"`); err != nil {
		t.Fatalf("PutPresence error: %v", err)
	}
	if got := gjson.Get(body, "state").String(); got != "In menu" {
		t.Errorf("state = %q", got)
	}
	if got := gjson.Get(body, "details").String(); got != `Deck "A"` {
		t.Errorf("details = %q", got)
	}

	status, err := client.Connect()
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if status != "authorizing" {
		t.Fatalf("Connect status = %q", status)
	}
}
