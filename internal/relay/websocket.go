package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSSink writes relayed chunks as WebSocket text frames. It is safe for
// concurrent use.
type WSSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func NewWSSink(conn *websocket.Conn, writeTimeout time.Duration) *WSSink {
	return &WSSink{conn: conn, writeTimeout: writeTimeout}
}

func (s *WSSink) WriteChunk(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline()
	return s.conn.WriteMessage(websocket.TextMessage, p)
}

func (s *WSSink) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline()
	return s.conn.WriteJSON(v)
}

// WriteError sends an error frame. The status is not representable on an
// open WebSocket and is ignored.
func (s *WSSink) WriteError(_ int, message string) error {
	return s.WriteJSON(NewErrorEvent(message))
}

func (s *WSSink) deadline() {
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
}
