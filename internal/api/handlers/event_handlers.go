package handlers

import (
	"io"

	"cropsight/internal/server/sse"

	"github.com/gin-gonic/gin"
)

// EventHandler streams image status updates to connected clients
type EventHandler struct {
	sseHub *sse.Hub
}

// NewEventHandler creates a new event handler
func NewEventHandler(sseHub *sse.Hub) *EventHandler {
	return &EventHandler{sseHub: sseHub}
}

// RegisterRoutes registers the event stream route
func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.handleSSE)
}

// handleSSE serves the server-sent event stream of image updates
func (h *EventHandler) handleSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 10)
	h.sseHub.Register(client)
	defer h.sseHub.Unregister(client)

	c.Stream(func(w io.Writer) bool {
		msg, ok := <-client
		if !ok {
			return false
		}
		c.SSEvent("message", string(msg))
		return true
	})
}
