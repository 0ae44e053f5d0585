package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rzbill/tether/internal/relay"
	"github.com/rzbill/tether/internal/runtime"
	"github.com/rzbill/tether/pkg/log"
)

const (
	keepAliveInterval = 15 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
)

// EventsController streams sync-complete broadcasts to application
// instances over SSE or WebSocket. An optional ?tenant= narrows the stream.
type EventsController struct {
	rt       *runtime.Runtime
	logger   log.Logger
	upgrader websocket.Upgrader
}

// NewEventsController creates a new events controller.
func NewEventsController(rt *runtime.Runtime, logger log.Logger) *EventsController {
	return &EventsController{
		rt:     rt,
		logger: logger.WithComponent("events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the relay is local to the device and CORS is already open
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers GET /events (SSE) and GET /ws (WebSocket).
func (c *EventsController) RegisterRoutes(r chi.Router) {
	r.Get("/events", c.handleSSE)
	r.Get("/ws", c.handleWS)
}

func matches(filter string, ev relay.SyncComplete) bool {
	return filter == "" || filter == ev.TenantID
}

func (c *EventsController) handleSSE(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("tenant")
	events, cancel := c.rt.Broadcaster().Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	sink := sseSink{w: w}
	_ = sink.Comment("subscribed")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sink.Comment("keep-alive"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !matches(filter, ev) {
				continue
			}
			if err := sink.Send(ev); err != nil {
				c.logger.Debug("sse client gone", log.Err(err))
				return
			}
		}
	}
}

func (c *EventsController) handleWS(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("tenant")
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		c.logger.Debug("websocket upgrade failed", log.Err(err))
		return
	}
	defer conn.Close()

	events, cancel := c.rt.Broadcaster().Subscribe()
	defer cancel()

	// read pump: only control frames are expected; a read error means the
	// client went away
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if !matches(filter, ev) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				c.logger.Debug("websocket client gone", log.Err(err))
				return
			}
		}
	}
}
