package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// Logging returns a logging middleware for HTTP requests
func Logging() gin.HandlerFunc {
	return gin.LoggerWithFormatter(gin.LogFormatter(func(params gin.LogFormatterParams) string {
		user, _ := params.Keys[UserIDKey].(string)
		if user == "" {
			user = "-"
		}
		return fmt.Sprintf("%s | %3d | %13v | %-7s %s | user=%s %s\n",
			params.TimeStamp.Format(time.RFC3339),
			params.StatusCode,
			params.Latency,
			params.Method,
			params.Path,
			user,
			params.ErrorMessage,
		)
	}))
}
