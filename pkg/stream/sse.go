package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEWriter writes events as Server-Sent Events frames, flushing after each
// one. Safe for concurrent use; once a write fails (client gone) every later
// Send is dropped.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	broken bool
}

// NewSSEWriter prepares the response for SSE streaming. Returns an error when
// the underlying writer cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send implements Sink.
func (s *SSEWriter) Send(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return fmt.Errorf("stream closed")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		s.broken = true
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
