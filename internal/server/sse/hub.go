// Package sse streams image status updates to connected clients.
package sse

import (
	"encoding/json"
	"sync"
	"time"

	"cropsight/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Client is a single connected SSE client
type Client chan []byte

// Hub manages the set of active clients and broadcasts to them
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	mu         sync.Mutex
}

// ImageUpdateData is the payload sent when an image changes state
type ImageUpdateData struct {
	ID           uint               `json:"id"`
	RequestID    uint               `json:"request_id"`
	Status       models.ImageStatus `json:"status"`
	FilePath     string             `json:"file_path"`
	DiseaseType  *string            `json:"disease_type,omitempty"`
	Confidence   *float64           `json:"confidence,omitempty"`
	AnomalyScore *float64           `json:"anomaly_score,omitempty"`
	IsDiseased   *bool              `json:"is_diseased,omitempty"`
	ProcessedAt  *time.Time         `json:"processed_at,omitempty"`
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run starts the hub's processing loop. Call in a separate goroutine.
func (h *Hub) Run() {
	log.Info("SSE hub started")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Client channel full or closed
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// Broadcast queues a message for all registered clients without blocking
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// BroadcastImageUpdate sends the current state of a request image
func (h *Hub) BroadcastImageUpdate(image *models.RequestImage) {
	data := ImageUpdateData{
		ID:           image.ID,
		RequestID:    image.RequestID,
		Status:       image.Status,
		FilePath:     image.FilePath,
		DiseaseType:  image.DiseaseType,
		Confidence:   image.Confidence,
		AnomalyScore: image.AnomalyScore,
		IsDiseased:   image.IsDiseased,
		ProcessedAt:  image.ProcessedAt,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Errorf("Failed to marshal image update for SSE: %v", err)
		return
	}
	h.Broadcast(jsonData)
}
