package handlers

import (
	"fetchrelay/middleware"
	"fetchrelay/services"
	"fetchrelay/types"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RemoteHandler checks connectivity to the remote upload endpoint
type RemoteHandler struct {
	manager *services.Manager
}

// NewRemoteHandler creates a new remote handler
func NewRemoteHandler(manager *services.Manager) *RemoteHandler {
	return &RemoteHandler{manager: manager}
}

// TestRemote uploads a small probe file and reports the outcome
func (h *RemoteHandler) TestRemote(c *gin.Context) {
	var req types.RemoteTestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request",
				"details": err.Error(),
			})
			return
		}
	}

	result, err := h.manager.TestRemote(c.Request.Context(), middleware.GetUserID(c), req.Endpoint)
	if err != nil {
		respondError(c, "Remote self-test failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Remote endpoint accepted the test upload",
		"location": result.Location,
		"bytes":    result.Size,
	})
}
