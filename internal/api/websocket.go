package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleWebSocket upgrades the connection and registers the client for
// broadcast events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.metrics.WSClients.Inc()
	s.logger.Info("websocket client connected", zap.String("client", c.id))

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.dropClient(c)
	for {
		// Inbound messages are drained; the stream is one-way.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
		s.metrics.WSClients.Dec()
	}
	s.mu.Unlock()
	c.conn.Close()
	s.logger.Info("websocket client disconnected", zap.String("client", c.id))
}

// broadcast fans an event out to every connected client. Slow clients
// are skipped rather than blocking the sender.
func (s *Server) broadcast(e *event) {
	raw, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("cannot encode broadcast event", zap.Error(err))
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- raw:
		default:
			s.logger.Debug("dropping event for slow client", zap.String("client", c.id))
		}
	}
}
