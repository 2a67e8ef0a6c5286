// Package transport implements the Streaming Transport (C7): the turn
// endpoint's HTTP handler, writing each agent.Event as one SSE frame.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter frames agent.Event values as Server-Sent Events: one
// "data: <json>\n\n" per event, a terminal "data: [DONE]\n\n", flushing
// synchronously after every write so a slow client applies backpressure
// all the way to the loop (RunTurn's caller only reads the next event
// once this write returns). Grounded on the inverse of
// internal/mcp/transport_http.go's client-side sseLoop/"data: " parsing
// convention — no genuine server-side SSE writer exists verbatim in the
// teacher, so the wire format is mirrored rather than copied.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteEvent serializes v and flushes it as one SSE data frame. A write
// error (broken pipe, client gone) is returned so the caller can treat it
// as a cancellation signal.
func (s *sseWriter) WriteEvent(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteDone writes the terminal SSE sentinel.
func (s *sseWriter) WriteDone() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
