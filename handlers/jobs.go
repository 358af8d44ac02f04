package handlers

import (
	"fetchrelay/middleware"
	"fetchrelay/services"
	"fetchrelay/types"
	"net/http"

	"github.com/gin-gonic/gin"
)

// JobHandler handles job management endpoints
type JobHandler struct {
	manager *services.Manager
}

// NewJobHandler creates a new job handler
func NewJobHandler(manager *services.Manager) *JobHandler {
	return &JobHandler{manager: manager}
}

// CreateJob validates a submission and queues it
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req types.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid job request",
			"details": err.Error(),
		})
		return
	}

	job, err := h.manager.CreateJob(c.Request.Context(), middleware.GetUserID(c), req.URL, req.Kind, req.Quality)
	if err != nil {
		respondError(c, "Failed to create job", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Job queued successfully",
		"job":     job,
	})
}

// ListJobs returns the caller's jobs, newest first
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.manager.ListJobs(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, "Failed to list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// GetJob returns a specific job by ID
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.manager.GetJob(c.Request.Context(), middleware.GetUserID(c), c.Param("jobId"))
	if err != nil {
		respondError(c, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job": job,
	})
}

// CancelJob cancels an active job
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, err := h.manager.CancelJob(c.Request.Context(), middleware.GetUserID(c), c.Param("jobId"))
	if err != nil {
		respondError(c, "Job cannot be cancelled", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled successfully",
		"job":     job,
	})
}

// RetryJob re-queues a failed job
func (h *JobHandler) RetryJob(c *gin.Context) {
	job, err := h.manager.RetryJob(c.Request.Context(), middleware.GetUserID(c), c.Param("jobId"))
	if err != nil {
		respondError(c, "Job cannot be retried", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Job queued for retry",
		"job":     job,
	})
}

// DeleteJob removes a job and its local artifact
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.manager.DeleteJob(c.Request.Context(), middleware.GetUserID(c), jobID); err != nil {
		respondError(c, "Job cannot be deleted", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Job deleted successfully",
		"jobId":   jobID,
	})
}
