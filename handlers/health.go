package handlers

import (
	"fetchrelay/services"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	artifactDir string
	reclaimer   *services.Reclaimer
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(artifactDir string, reclaimer *services.Reclaimer) *HealthHandler {
	return &HealthHandler{artifactDir: artifactDir, reclaimer: reclaimer}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "fetchrelay",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the status of the API and the artifact volume
func (h *HealthHandler) APIStatus(c *gin.Context) {
	resp := gin.H{
		"message":      "fetchrelay API is running",
		"artifact_dir": h.artifactDir,
	}
	if h.reclaimer != nil {
		free, err := h.reclaimer.Free()
		if err != nil {
			log.Printf("Failed to read free space of %s: %v", h.artifactDir, err)
		} else {
			resp["free_bytes"] = free
		}
		resp["reclaim_threshold"] = h.reclaimer.Threshold()
	}
	c.JSON(http.StatusOK, resp)
}
