package server

import (
	"github.com/gofiber/contrib/websocket"

	"github.com/p-blackswan/clnode/internal/broadcast"
)

// streamEvents forwards every broadcast message to the socket until the
// client goes away or the server shuts down. Inbound frames are discarded.
func (s *Server) streamEvents(conn *websocket.Conn) {
	msgs, cancel := s.hub.Subscribe(broadcast.DefaultBuffer)
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b, err := msg.Encode()
			if err != nil {
				s.logger.Warn().Err(err).Str("event", msg.Event).Msg("failed to encode broadcast message")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
