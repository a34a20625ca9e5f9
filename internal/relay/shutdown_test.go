package relay

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/pmrelay/internal/presence"
	"github.com/Tyrowin/pmrelay/internal/testhelpers"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownClosesLiveConnections(t *testing.T) {
	h := NewHub(presence.NewDirectory(), DefaultOptions(), zerolog.Nop())
	go h.Run()

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Connect(conn, r.RemoteAddr)
	}))
	defer ts.Close()

	client := testhelpers.ConnectWebSocket(t, testhelpers.WebSocketURL(ts), "")
	testhelpers.SendEvent(t, client, EventJoin, "alice")
	testhelpers.WaitForUserList(t, client, 2*time.Second, "alice")

	offline := NewSession(nil, h, "127.0.0.1:0")
	require.True(t, h.Register(offline))

	require.NoError(t, h.Shutdown(2*time.Second))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = client.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	// Shutdown closed the queue, so draining it terminates.
	for range offline.Outbox() {
	}

	assert.False(t, h.Register(NewSession(nil, h, "127.0.0.1:0")), "hub accepts no sessions after shutdown")
}
