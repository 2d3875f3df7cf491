// Package testhelpers provides common utilities and helper functions for testing the hub.
//
// It provides functions for making authenticated HTTP requests, dialing the
// WebSocket endpoint and exchanging event envelopes, to reduce code
// duplication in test files.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/blogchat/internal/auth"
	"github.com/gorilla/websocket"
)

// TestOrigin is the origin sent by ConnectWebSocket; it is in the default allowlist.
const TestOrigin = "http://localhost:8080"

// TestSecret signs the tokens issued by IssueToken.
const TestSecret = "test-secret"

// IssueToken signs a token for userID with TestSecret.
func IssueToken(t *testing.T, userID string) string {
	t.Helper()
	v, err := auth.NewVerifier(TestSecret)
	if err != nil {
		t.Fatalf("NewVerifier() error: %v", err)
	}
	token, err := v.Issue(auth.Identity{UserID: userID, Role: "user"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	return token
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// A non-empty token is sent as a bearer credential.
func MakeRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// WebSocketURL converts an httptest server URL into the hub endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the test origin and, when token is not
// empty, a bearer credential. The handshake response is returned so callers
// can inspect rejections.
func ConnectWebSocket(url, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Envelope is an event frame as seen by a client.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the event data into v.
func (e Envelope) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("Failed to decode %s data %s: %v", e.Event, e.Data, err)
	}
}

// EventConn reads and writes envelopes over a hub connection. The hub may
// batch several envelopes into one frame separated by newlines; EventConn
// splits them.
type EventConn struct {
	Conn    *websocket.Conn
	pending []Envelope
}

// Dial connects to the hub as userID and fails the test on error.
func Dial(t *testing.T, serverURL, userID string) *EventConn {
	t.Helper()
	conn, _, err := ConnectWebSocket(WebSocketURL(serverURL), IssueToken(t, userID))
	if err != nil {
		t.Fatalf("Failed to connect as %s: %v", userID, err)
	}
	ec := &EventConn{Conn: conn}
	t.Cleanup(func() { _ = ec.Close() })
	return ec
}

// Emit sends one event.
func (c *EventConn) Emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Conn.WriteJSON(Envelope{Event: event, Data: raw})
}

// Next returns the next envelope, waiting at most timeout.
func (c *EventConn) Next(timeout time.Duration) (Envelope, error) {
	if len(c.pending) > 0 {
		env := c.pending[0]
		c.pending = c.pending[1:]
		return env, nil
	}

	if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Envelope{}, err
	}
	_, frame, err := c.Conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, err
		}
		c.pending = append(c.pending, env)
	}
	return c.Next(timeout)
}

// WaitFor skips envelopes until one named event arrives and fails the test
// if none does within timeout.
func (c *EventConn) WaitFor(t *testing.T, event string, timeout time.Duration) Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s", event)
		}
		env, err := c.Next(remaining)
		if err != nil {
			t.Fatalf("Waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

// ExpectNone fails the test if an envelope named event arrives within wait.
// Other events are discarded. The connection is unusable for reads after a
// read deadline expires, so ExpectNone should be the last read of a test.
func (c *EventConn) ExpectNone(t *testing.T, event string, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		env, err := c.Next(remaining)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			t.Fatalf("Unexpected read error: %v", err)
		}
		if env.Event == event {
			t.Fatalf("Unexpected %s event: %s", event, env.Data)
		}
	}
}

// Close gracefully closes the WebSocket connection.
func (c *EventConn) Close() error {
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.Conn.Close()
}
