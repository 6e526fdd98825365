package httpapi

import (
	"net/http"
)

// sseWriter adapts an http.ResponseWriter to the literal server-sent-event
// framing spec.md §6 requires for chat_stream ("data: <json-event>\n\n" per
// event), without touching chatproxy.StreamWriter itself. encoding/json's
// Encoder.Encode performs exactly one Write per call, carrying the
// marshaled object plus a trailing newline; wrapping that single Write with
// a "data: " prefix and a second trailing newline is enough to turn
// chatproxy's NDJSON output into valid SSE.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	f, _ := w.(http.Flusher)
	return &sseWriter{w: w, f: f}
}

func (s *sseWriter) Write(p []byte) (int, error) {
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return 0, err
	}
	if _, err := s.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := s.w.Write([]byte("\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush satisfies http.Flusher so chatproxy.StreamWriter flushes after every
// event instead of buffering until the handler returns.
func (s *sseWriter) Flush() {
	if s.f != nil {
		s.f.Flush()
	}
}
