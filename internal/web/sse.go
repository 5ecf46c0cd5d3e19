package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/okynn/senderctl/internal/events"
)

var errStreamClosed = errors.New("web: event stream closed")

// sseSink adapts one Server-Sent Events response into an events.Sink.
// The publisher and the keep-alive prober write concurrently, so every
// write holds the sink's mutex and flushes before releasing it.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("web: response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseSink{w: w, flusher: flusher}, nil
}

// WriteEvent emits one event frame. The first failed write latches the
// sink closed so later writes fail fast instead of touching a dead
// connection.
func (s *sseSink) WriteEvent(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("web: encode event: %w", err)
	}
	return s.write(func() error {
		_, err := fmt.Fprintf(s.w, "data: %s\n\n", payload)
		return err
	})
}

// KeepAlive emits an SSE comment frame. Comments reach the socket but
// never the client's event handler.
func (s *sseSink) KeepAlive() error {
	return s.write(func() error {
		_, err := fmt.Fprint(s.w, ": heartbeat\n\n")
		return err
	})
}

func (s *sseSink) write(emit func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if err := emit(); err != nil {
		s.closed = true
		return err
	}
	s.flusher.Flush()
	return nil
}
