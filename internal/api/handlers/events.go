package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"

	"logship/internal/realtime"
)

// EventsHandler streams server notifications via Server-Sent Events.
type EventsHandler struct {
	hub    *realtime.Hub
	logger *pterm.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *realtime.Hub, logger *pterm.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: logger,
	}
}

// Stream handles GET /api/v1/events.
func (h *EventsHandler) Stream(c *gin.Context) {
	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events, cancel := h.hub.Subscribe()
	defer cancel()

	h.logger.Debug("Client connected to event stream",
		h.logger.Args("client_ip", c.ClientIP()))

	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			h.logger.Debug("Event stream client disconnected",
				h.logger.Args("client_ip", c.ClientIP()))
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to marshal event", h.logger.Args("error", err))
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
				h.logger.Debug("Failed to write SSE data", h.logger.Args("error", err))
				return
			}
			c.Writer.Flush()
		}
	}
}
