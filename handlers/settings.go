package handlers

import (
	"fetchrelay/middleware"
	"fetchrelay/services"
	"fetchrelay/types"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SettingsHandler handles settings-related endpoints
type SettingsHandler struct {
	manager *services.Manager
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(manager *services.Manager) *SettingsHandler {
	return &SettingsHandler{manager: manager}
}

// settingsView is what the API returns; stored cookies are never echoed
type settingsView struct {
	*types.UserSettings
	HasCookies bool `json:"hasCookies"`
}

func newSettingsView(s *types.UserSettings) settingsView {
	view := *s
	view.Cookies = ""
	return settingsView{UserSettings: &view, HasCookies: s.Cookies != ""}
}

// GetSettings returns the caller's settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.manager.GetSettings(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, "Failed to load settings", err)
		return
	}

	c.JSON(http.StatusOK, newSettingsView(settings))
}

// UpdateSettings replaces the caller's settings, keeping stored cookies
// unless new ones are sent or clearCookies is set
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var req types.SettingsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid settings format",
			"details": err.Error(),
		})
		return
	}
	req.UserID = middleware.GetUserID(c)

	saved, err := h.manager.UpdateSettings(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to save settings", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Settings updated successfully",
		"settings": newSettingsView(saved),
	})
}
