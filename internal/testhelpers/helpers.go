// Package testhelpers provides WebSocket and HTTP helpers shared by the
// relay's tests.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a decoded relay frame.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

// ConnectWebSocket dials url with the given Origin header (none when empty)
// and registers the connection for closing at the end of the test.
func ConnectWebSocket(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()
	conn, resp, err := DialWebSocket(url, origin)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWebSocket dials url and returns the handshake response for inspection.
func DialWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(url, headers)
}

// SendEvent writes one {"event","data"} frame.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal %q payload: %v", event, err)
	}
	if err := conn.WriteJSON(Event{Event: event, Data: raw}); err != nil {
		t.Fatalf("Failed to send %q: %v", event, err)
	}
}

// NextEvent reads frames until one named event arrives, skipping others.
func NextEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("Failed waiting for %q: %v", event, err)
		}
		if ev.Event == event {
			return ev.Data
		}
	}
}

// WaitForUserList reads updateUserList frames until one equals want.
func WaitForUserList(t *testing.T, conn *websocket.Conn, timeout time.Duration, want ...string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		var names []string
		data := NextEvent(t, conn, "updateUserList", time.Until(deadline))
		if err := json.Unmarshal(data, &names); err != nil {
			t.Fatalf("Invalid user list %s: %v", data, err)
		}
		if slices.Equal(names, want) {
			return
		}
	}
}

// ExpectNoEvent fails if an event with the given name arrives within wait.
// Other events are discarded. A timed-out gorilla connection cannot be read
// again, so call this last on conn.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		var ev Event
		err := conn.ReadJSON(&ev)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			t.Fatalf("Unexpected read error: %v", err)
		}
		if ev.Event == event {
			t.Fatalf("Unexpected %q event: %s", event, ev.Data)
		}
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
