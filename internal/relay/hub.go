// Package relay routes private messages and typing signals between
// WebSocket sessions by username, and pushes the online list to every
// session whenever the presence directory changes.
//
// Delivery is at most once and best effort: a message to an unknown
// recipient, or from a session that has not joined, is dropped without
// telling anyone.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/pmrelay/internal/presence"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Options tunes per-session resources.
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{SendBuffer: 256, MaxMessageSize: 64 << 10}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int `json:"connections"`
	Online      int `json:"online"`
}

type inbound struct {
	session *Session
	cmd     command
}

// Hub owns every session and runs the single loop that mutates session
// state and routes events. Presence lives in the Directory it was given.
type Hub struct {
	directory  *presence.Directory
	sessions   map[presence.ConnID]*Session
	register   chan *Session
	unregister chan *Session
	inbound    chan inbound
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	opts       Options
	log        zerolog.Logger
}

// NewHub creates a Hub routing through directory. Call Run to start it.
func NewHub(directory *presence.Directory, opts Options, log zerolog.Logger) *Hub {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		directory:  directory,
		sessions:   make(map[presence.ConnID]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inbound, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		opts:       opts,
		log:        log.With().Str("component", "relay").Logger(),
	}
}

// Connect wraps an upgraded connection in a new Session and registers it.
// The hub starts the session's pumps.
func (h *Hub) Connect(conn *websocket.Conn, addr string) *Session {
	s := NewSession(conn, h, addr)
	if !h.Register(s) && conn != nil {
		_ = conn.Close()
	}
	return s
}

// Register hands a new, unbound session to the hub. It reports false when
// the hub is shutting down and the session was not accepted.
func (h *Hub) Register(s *Session) bool {
	select {
	case h.register <- s:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister disconnects a session. It is safe to call more than once.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// Receive decodes one client frame from s and queues it for routing.
// Malformed or unknown events are dropped; the connection stays open.
func (h *Hub) Receive(s *Session, raw []byte) {
	cmd, err := decodeCommand(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping malformed event")
		return
	}

	select {
	case h.inbound <- inbound{session: s, cmd: cmd}:
	case <-h.ctx.Done():
	}
}

// Stats reports how many sessions are connected and how many names are online.
func (h *Hub) Stats() Stats {
	h.mutex.RLock()
	conns := len(h.sessions)
	h.mutex.RUnlock()
	return Stats{Connections: conns, Online: h.directory.Len()}
}

// Run processes registrations, disconnects, client events and presence
// changes until Shutdown is called. Run it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return

		case s := <-h.register:
			h.addSession(s)

		case s := <-h.unregister:
			h.dropSession(s, "disconnected")

		case in := <-h.inbound:
			h.route(in)

		case <-h.directory.Changes():
			h.broadcastUserList()
		}
	}
}

// addSession tracks s and starts its pumps when it has a live connection.
func (h *Hub) addSession(s *Session) {
	if s == nil {
		h.log.Warn().Msg("received nil session registration; skipping")
		return
	}

	h.mutex.Lock()
	h.sessions[s.id] = s
	count := len(h.sessions)
	h.mutex.Unlock()
	s.log.Info().Int("connections", count).Msg("a user connected")

	if s.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump()
	}()
}

// dropSession removes s, closes its queue and releases every name it still
// holds in the directory. Names since claimed by another session are kept.
// Every disconnect is followed by an updateUserList broadcast.
func (h *Hub) dropSession(s *Session, reason string) {
	h.mutex.Lock()
	if _, ok := h.sessions[s.id]; !ok || s.closed {
		h.mutex.Unlock()
		return
	}
	delete(h.sessions, s.id)
	s.closed = true
	count := len(h.sessions)
	h.mutex.Unlock()

	close(s.send)
	released := false
	for _, name := range s.names {
		if h.directory.Release(name, s.id) {
			released = true
		}
	}
	if !released {
		// The list is unchanged but every disconnect still announces it.
		h.directory.Touch()
	}

	s.log.Info().
		Str("user", s.username).
		Str("reason", reason).
		Int("connections", count).
		Msg("user disconnected")
}

// route applies one client command from a session the hub still tracks.
func (h *Hub) route(in inbound) {
	s, cmd := in.session, in.cmd

	h.mutex.RLock()
	_, live := h.sessions[s.id]
	h.mutex.RUnlock()
	if !live {
		return
	}

	switch cmd.event {
	case EventJoin:
		s.bind(cmd.username)
		h.directory.Register(cmd.username, s.id)
		s.log.Info().Str("user", cmd.username).Msg("user joined the chat")

	case EventPrivateMessage:
		h.forward(s, cmd.recipient, EventPrivateMessage, PrivateMessage{
			Sender:   s.username,
			Message:  cmd.message,
			ImageURL: cmd.imageURL,
		})

	case EventTyping, EventStopTyping:
		h.forward(s, cmd.recipient, cmd.event, TypingNotice{Sender: s.username})
	}
}

// forward delivers payload to the session currently holding recipient. It
// drops silently when the sender has not joined or the name is not online.
func (h *Hub) forward(from *Session, recipient, event string, payload any) {
	if from.username == "" {
		from.log.Debug().Str("event", event).Msg("dropping event from unbound session")
		return
	}

	id, ok := h.directory.Lookup(recipient)
	if !ok {
		from.log.Debug().Str("event", event).Str("recipient", recipient).Msg("recipient not online")
		return
	}

	h.mutex.RLock()
	target, ok := h.sessions[id]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	msg, err := encodeEvent(event, payload)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode event")
		return
	}
	h.deliver(target, msg)
}

// broadcastUserList sends the current online list to every session.
func (h *Hub) broadcastUserList() {
	names := h.directory.Snapshot()
	msg, err := encodeEvent(EventUserList, names)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode user list")
		return
	}

	for _, s := range h.sessionSnapshot() {
		h.deliver(s, msg)
	}
	h.log.Debug().Strs("users", names).Msg("broadcast user list")
}

// deliver queues msg without blocking. A session whose queue is full is
// too slow to keep up and is disconnected.
func (h *Hub) deliver(s *Session, msg []byte) {
	if s.closed {
		return
	}
	select {
	case s.send <- msg:
	default:
		h.dropSession(s, "send buffer full")
	}
}

// sessionSnapshot copies the live sessions so they can be walked unlocked.
func (h *Hub) sessionSnapshot() []*Session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// shutdownSessions drops every session. Each write pump then sends a
// going-away close frame and closes its connection.
func (h *Hub) shutdownSessions() {
	h.log.Info().Msg("shutting down all client connections")

	farewell := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	sessions := h.sessionSnapshot()
	for _, s := range sessions {
		s.farewell = farewell
		h.dropSession(s, "server shutting down")
	}

	h.log.Info().Int("count", len(sessions)).Msg("closed client connections")
}

// Shutdown stops Run, closes all connections and waits for the session
// goroutines to finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
