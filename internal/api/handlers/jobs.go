package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orderflow/backend/internal/core"
)

type ListJobsQuery struct {
	Status string `form:"status"`
	Type   string `form:"type"`
	Limit  int    `form:"limit" binding:"min=0"`
	Offset int    `form:"offset" binding:"min=0"`
}

type ListJobsResponse struct {
	Jobs   []*core.Job `json:"jobs"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type JobHandler struct {
	store  core.JobStore
	logger *slog.Logger
}

func NewJobHandler(store core.JobStore, logger *slog.Logger) *JobHandler {
	return &JobHandler{store: store, logger: logger}
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := core.JobStatus(query.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	filter := core.JobFilter{
		Status: status,
		Type:   core.JobType(query.Type),
		Limit:  core.NormalizeLimit(query.Limit),
		Offset: query.Offset,
	}

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}

	c.JSON(http.StatusOK, ListJobsResponse{
		Jobs:   jobs,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to get queue stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get queue stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// RequeueJob puts a FAILED job back to PENDING. Its attempt count is kept.
func (h *JobHandler) RequeueJob(c *gin.Context) {
	id := c.Param("id")
	err := h.store.Requeue(c.Request.Context(), id)
	if err != nil {
		var transition *core.InvalidTransitionError
		switch {
		case errors.Is(err, core.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.As(err, &transition):
			c.JSON(http.StatusConflict, gin.H{"error": "only failed jobs can be requeued", "status": transition.From})
		default:
			h.logger.Error("failed to requeue job", slog.String("job_id", id), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue job"})
		}
		return
	}

	h.logger.Info("job requeued", slog.String("job_id", id))
	c.JSON(http.StatusOK, gin.H{"id": id, "status": core.JobStatusPending})
}
