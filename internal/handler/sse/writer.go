package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"specdeck/internal/service/events"
)

// keepAliveInterval is how often comment pings go out to keep proxies
// from closing an idle stream.
const keepAliveInterval = 15 * time.Second

// Writer streams events to one client over Server-Sent Events.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares an SSE response. It fails when the underlying
// ResponseWriter cannot flush, which streaming requires.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent sends one event with its type as the SSE event name and the
// JSON-encoded event as data.
func (s *Writer) WriteEvent(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteKeepAlive sends an SSE comment line. Clients ignore it; proxies
// see traffic.
func (s *Writer) WriteKeepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// KeepAliveTicker returns a ticker at the keep-alive cadence. The caller
// owns stopping it.
func KeepAliveTicker() *time.Ticker {
	return time.NewTicker(keepAliveInterval)
}
