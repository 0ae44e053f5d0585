package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/rzbill/tether/internal/relay"
)

// sseSink writes sync-complete events as Server-Sent Events.
type sseSink struct {
	w http.ResponseWriter
}

// Send writes one event with the "data: " prefix followed by two newlines.
func (s sseSink) Send(ev relay.SyncComplete) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("event: " + ev.Type + "\ndata: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	return s.Flush()
}

// Comment writes an SSE comment line, used as a keep-alive.
func (s sseSink) Comment(text string) error {
	if _, err := s.w.Write([]byte(": " + text + "\n\n")); err != nil {
		return err
	}
	return s.Flush()
}

// Flush flushes the HTTP response writer if it supports flushing.
func (s sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
