package chatproxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// StreamWriter writes NDJSON notifications to a streaming HTTP response,
// flushing after every write so the edge observes events as they arrive
// rather than buffered. Kept and adapted from the teacher's
// pkg/serve.StreamWriter.
type StreamWriter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
	closed  bool
}

// NewStreamWriter wraps w for NDJSON notification writes. w is expected to
// also implement http.Flusher; if it does not, writes are still correct,
// just unflushed until the handler returns.
func NewStreamWriter(w io.Writer) *StreamWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	sw := &StreamWriter{enc: enc}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// WriteNotification writes one notification and flushes.
func (sw *StreamWriter) WriteNotification(n Notification) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("chatproxy: stream writer is closed")
	}
	if err := sw.enc.Encode(n); err != nil {
		return fmt.Errorf("chatproxy: encode notification: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// WriteEvent marshals ev and writes it as a notification.
func (sw *StreamWriter) WriteEvent(ev Event) error {
	n, err := ev.ToNotification()
	if err != nil {
		return err
	}
	return sw.WriteNotification(n)
}

// Close marks the writer closed; further writes fail rather than panic on a
// torn-down connection.
func (sw *StreamWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
	return nil
}
