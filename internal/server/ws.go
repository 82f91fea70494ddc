package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// handleWS streams store events to the client as JSON text messages until
// either side closes the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// Subscribe before upgrading so nothing published after the handshake
	// is missed.
	events, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reads handle pings and close frames; any error means the peer is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	s.log.Debug("websocket client connected", "remote", r.RemoteAddr)
	defer s.log.Debug("websocket client disconnected", "remote", r.RemoteAddr)

	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
