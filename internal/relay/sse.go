package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SSESink writes to an HTTP response as text/event-stream. Upstream chunks
// are already framed as "data: ...\n\n" and pass through untouched.
//
// Each write must reach the client within writeTimeout. A client that stops
// reading makes the write fail instead of blocking the stream forever.
type SSESink struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	reqID        string
	writeTimeout time.Duration
	started      bool
}

// NewSSESink wraps w. A zero writeTimeout leaves writes unbounded.
func NewSSESink(w http.ResponseWriter, reqID string, writeTimeout time.Duration) *SSESink {
	return &SSESink{w: w, rc: http.NewResponseController(w), reqID: reqID, writeTimeout: writeTimeout}
}

func (s *SSESink) writeHeader(status int) {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	if s.reqID != "" {
		h.Set("X-Request-ID", s.reqID)
	}
	s.w.WriteHeader(status)
	s.started = true
}

func (s *SSESink) WriteChunk(p []byte) error {
	if !s.started {
		s.writeHeader(http.StatusOK)
	}
	if err := s.setDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	if err := s.flush(); err != nil {
		return err
	}
	return s.setDeadline(time.Time{})
}

// setDeadline bounds the next write. The zero time clears it so a kept-alive
// connection does not inherit it.
func (s *SSESink) setDeadline(t time.Time) error {
	if s.writeTimeout <= 0 {
		return nil
	}
	if err := s.rc.SetWriteDeadline(t); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// WriteEvent frames v as a single "data:" event.
func (s *SSESink) WriteEvent(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.WriteChunk(fmt.Appendf(nil, "data: %s\n\n", data))
}

func (s *SSESink) WriteError(status int, message string) error {
	if !s.started {
		s.writeHeader(status)
	}
	return s.WriteEvent(NewErrorEvent(message))
}

func (s *SSESink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
