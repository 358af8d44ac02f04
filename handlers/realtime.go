package handlers

import (
	"fetchrelay/websocket"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RealtimeHandler upgrades clients onto the per-user event channel
type RealtimeHandler struct {
	hub websocket.Hub
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(hub websocket.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// HandleWebSocket subscribes the connection to the events of ?userId=
func (h *RealtimeHandler) HandleWebSocket(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	upgrader := websocket.GetUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, userID)
	h.hub.RegisterClient(client)

	// Start client pumps
	client.StartPumps()
}
