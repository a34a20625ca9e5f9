package relay

import (
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/Tyrowin/pmrelay/internal/presence"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Session is one client's live connection and the identity bound to it.
// The username fields are owned by the hub's event loop.
type Session struct {
	id     presence.ConnID
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	addr   string
	closed bool
	log    zerolog.Logger

	username string
	names    []string

	// farewell is the close frame payload written once send is closed.
	farewell []byte
}

// NewSession creates an unbound session for conn. A nil conn yields a
// session whose outbound queue is read through Outbox instead of a socket.
func NewSession(conn *websocket.Conn, hub *Hub, addr string) *Session {
	if conn != nil {
		conn.SetReadLimit(hub.opts.MaxMessageSize)
	}
	id := presence.ConnID(uuid.NewString())

	return &Session{
		id:   id,
		conn: conn,
		send: make(chan []byte, hub.opts.SendBuffer),
		hub:  hub,
		addr: addr,
		log:  hub.log.With().Str("conn", string(id)).Str("remote", addr).Logger(),
	}
}

// ID returns the connection identifier.
func (s *Session) ID() presence.ConnID {
	return s.id
}

// Outbox returns the queue of encoded envelopes waiting to be written.
func (s *Session) Outbox() <-chan []byte {
	return s.send
}

// bind records username as the session's current name.
func (s *Session) bind(username string) {
	s.username = username
	if !slices.Contains(s.names, username) {
		s.names = append(s.names, username)
	}
}

// readPump feeds client frames to the hub until the connection fails or
// closes, then unregisters the session.
func (s *Session) readPump() {
	defer func() {
		s.hub.Unregister(s)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn().Err(err).Msg("error closing connection in readPump")
		}
	}()

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn().Err(err).Msg("error setting initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.hub.Receive(s, raw)
	}
}

// logReadError logs err at a level matching how routine it is.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Info().Int64("limit", s.hub.opts.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.log.Debug().Err(err).Msg("client closed connection")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		s.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		s.log.Debug().Err(err).Msg("websocket read error")
	}
}

// writePump writes queued envelopes and periodic pings. It returns, closing
// the connection, when the hub closes the queue or a write fails.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn().Err(err).Msg("error closing connection in writePump")
		}
	}()

	for {
		select {
		case message, ok := <-s.send:
			if !s.write(message, ok) {
				return
			}
		case <-ticker.C:
			if !s.ping() {
				return
			}
		}
	}
}

// write sends one envelope per frame, or a close frame once the hub has
// closed the queue. It returns false when the pump should stop.
func (s *Session) write(message []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Debug().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		if err := s.conn.WriteMessage(websocket.CloseMessage, s.farewell); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("error writing close message")
		}
		return false
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// ping sends a keepalive. It returns false when the pump should stop.
func (s *Session) ping() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.log.Debug().Err(err).Msg("error writing ping")
		return false
	}
	return true
}

// isExpectedCloseError reports errors that are routine while a connection is
// being torn down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe")
}
