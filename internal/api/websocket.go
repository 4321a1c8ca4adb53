package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"aquawatch/internal/core"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendQueue  = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// historySocket streams every history view of the session as JSON until the
// client goes away. A client that falls more than sendQueue views behind
// loses its oldest queued views; the newest view is always queued.
func (s *Server) historySocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", "error", err)
		return
	}
	send := make(chan historyResponse, sendQueue)
	sub := s.session.Aggregator().Views().Subscribe(func(v core.HistoryView) {
		if offerLatest(send, newHistoryResponse(v.Target, "", v.Readings)) {
			s.logger.Debug("websocket_view_dropped", "remote", conn.RemoteAddr().String())
		}
	})
	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, send, done)
	sub.Cancel()
	_ = conn.Close()
}

// offerLatest queues v without blocking, evicting the oldest queued views
// when send is full. It reports whether anything was evicted. The caller
// must be the only sender on send.
func offerLatest[T any](send chan T, v T) bool {
	evicted := false
	for {
		select {
		case send <- v:
			return evicted
		default:
		}
		select {
		case <-send:
			evicted = true
		default:
		}
	}
}

// readPump discards client messages and closes done when the peer leaves.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket_read_failed", "error", err)
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, send <-chan historyResponse, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case view := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(view); err != nil {
				s.logger.Debug("websocket_write_failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
