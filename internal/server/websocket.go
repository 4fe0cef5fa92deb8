package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsprobe/opsprobe/internal/metrics"
	"github.com/opsprobe/opsprobe/internal/workflow"
)

// WebSocket message types
const (
	MessageTypeSnapshot  = "snapshot"
	MessageTypeComplete  = "complete"
	MessageTypeError     = "error"
	MessageTypeHeartbeat = "heartbeat"
)

const heartbeatInterval = 30 * time.Second

// WSMessage is one frame on the session stream.
type WSMessage struct {
	Type      string            `json:"type"`
	Session   *workflow.Session `json:"session,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := s.cfg.Server.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser client
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleSessionStream streams per-transition snapshots of one session until
// it reaches a terminal state or the client disconnects.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	updates, cancel := s.sessions.Subscribe(id)
	defer cancel()

	// Drain client frames so pings/pongs and close frames are processed; the
	// stream itself is one-directional.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the current snapshot first so late subscribers see where the
	// session already is.
	if snap, err := s.sessions.Get(r.Context(), id); err == nil {
		if !s.send(conn, snapshotMessage(snap)) {
			return
		}
		if snap.Terminal() {
			_ = s.send(conn, WSMessage{Type: MessageTypeComplete, Session: snap, Timestamp: time.Now().UTC()})
			return
		}
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if !s.send(conn, WSMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now().UTC()}) {
				return
			}
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Terminal() {
				_ = s.send(conn, WSMessage{Type: MessageTypeComplete, Session: snap, Timestamp: time.Now().UTC()})
				return
			}
			if !s.send(conn, snapshotMessage(snap)) {
				return
			}
		}
	}
}

func snapshotMessage(snap *workflow.Session) WSMessage {
	return WSMessage{Type: MessageTypeSnapshot, Session: snap, Timestamp: time.Now().UTC()}
}

func (s *Server) send(conn *websocket.Conn, msg WSMessage) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg) == nil
}
