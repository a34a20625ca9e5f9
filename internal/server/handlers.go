package server

import (
	"encoding/json"
	"net/http"
)

// WebSocketHandler upgrades the request and hands the connection to the hub,
// which starts the session's read and write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	s.hub.Connect(conn, r.RemoteAddr)
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Online      int    `json:"online"`
}

// HealthHandler reports that the relay is up along with live counts.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	stats := s.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Connections: stats.Connections,
		Online:      stats.Online,
	}); err != nil {
		s.log.Debug().Err(err).Msg("error writing health response")
	}
}
