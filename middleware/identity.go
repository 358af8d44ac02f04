package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// UserIDHeader carries the caller's identity, set by the fronting proxy
	UserIDHeader = "X-User-ID"

	// UserIDKey is the gin context key holding the caller's identity
	UserIDKey = "user_id"
)

// Identity rejects requests without a user id header
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserIDHeader + " header"})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// GetUserID returns the identity stored by Identity
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
