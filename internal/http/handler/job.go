package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/http/dto"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/store"
)

type JobHandler struct {
	jobs store.JobStore
}

func NewJobHandler(jobs store.JobStore) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// List returns recent jobs, optionally narrowed by status and mode.
func (h *JobHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var filter store.JobFilter
	if raw := c.Query("status"); raw != "" {
		status := model.JobStatus(raw)
		switch status {
		case model.JobStatusQueued, model.JobStatusDeferred, model.JobStatusRunning,
			model.JobStatusCompleted, model.JobStatusFailed:
			filter.Status = &status
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job status: " + raw})
			return
		}
	}
	if raw := c.Query("mode"); raw != "" {
		mode, ok := dto.ValidMode(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown research mode: " + raw})
			return
		}
		filter.Mode = &mode
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.jobs.List(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "listing jobs failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, dto.ToListJobsResponse(jobs))
}

func (h *JobHandler) GetByID(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		slog.ErrorContext(ctx, "fetching job failed", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch job"})
		return
	}

	c.JSON(http.StatusOK, dto.ToJobResponse(job))
}
