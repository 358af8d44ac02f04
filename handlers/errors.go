package handlers

import (
	"errors"
	"fetchrelay/resumable"
	"fetchrelay/services"
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondError maps a service error onto an HTTP status
func respondError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError

	var verr *services.ValidationError
	var perr *services.ProbeError
	var rerr *resumable.ProtocolError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &perr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &rerr):
		status = http.StatusBadGateway
	case errors.Is(err, services.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
