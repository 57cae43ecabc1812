// Package sse writes restyle events as a server-sent event stream.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/restyle"
)

// SetHeaders sets the response headers of an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer is a restyle.Sink that writes one "data: <json>\n\n" frame per
// event and flushes after each. Once a write fails the consumer is treated
// as gone: later events are dropped and the job keeps running.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	gone    bool
	frames  int
}

var _ restyle.Sink = (*Writer)(nil)

// NewWriter wraps w. If w is an http.Flusher every frame is flushed.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Open sets the stream headers, writes the status line and returns a
// Writer for the response.
func Open(w http.ResponseWriter) *Writer {
	SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	sw := NewWriter(w)
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return sw
}

// Emit implements restyle.Sink.
func (s *Writer) Emit(ev restyle.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.EventType()).Msg("Failed to marshal stream event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.gone = true
		log.Warn().Err(err).Str("type", ev.EventType()).Msg("Stream consumer gone, dropping further events")
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	s.frames++
}

// Frames returns the number of frames written.
func (s *Writer) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Gone reports whether a write has failed.
func (s *Writer) Gone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone
}
