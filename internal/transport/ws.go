// Package transport — ws.go
//
// The /ws upgrade endpoint: one gorilla/websocket connection per
// broadcast.Hub subscriber. Each connection owns a goroutine that drains
// its hub channel and writes frames; a second goroutine reads (and
// discards) incoming frames solely to notice the client going away,
// mirroring the read/write goroutine split gorilla's own examples use
// for one-way server-push sockets.
package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/govops/console/internal/engine"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub bridges the engine's broadcast.Hub to live WebSocket connections.
type Hub struct {
	eng *engine.Engine
	log *zap.Logger
}

func newHub(eng *engine.Engine, log *zap.Logger) *Hub {
	return &Hub{eng: eng, log: log}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID, ch := s.eng.Broadcast.Subscribe()
	s.log.Debug("websocket client connected", zap.Uint64("client_id", clientID))

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(struct {
		Type string `json:"type"`
		Mode string `json:"mode"`
	}{Type: "status", Mode: "live"}); err != nil {
		s.eng.Broadcast.Unsubscribe(clientID)
		conn.Close()
		return
	}

	done := make(chan struct{})
	go s.readLoop(conn, done)
	s.writeLoop(conn, ch, done)

	s.eng.Broadcast.Unsubscribe(clientID)
	s.log.Debug("websocket client disconnected", zap.Uint64("client_id", clientID))
}

// readLoop discards inbound frames (this protocol is server-push only)
// and closes done when the connection is lost, unblocking writeLoop.
func (s *Server) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop forwards every message from ch to the connection until ch is
// closed (subscriber dropped by the hub) or done fires (client gone).
func (s *Server) writeLoop(conn *websocket.Conn, ch <-chan any, done chan struct{}) {
	defer conn.Close()
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
