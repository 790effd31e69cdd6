package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/orzlee/jdbot/internal/store"
)

type triggerReq struct {
	RequesterID    string `json:"requester_id" binding:"required"`
	RequesterName  string `json:"requester_name"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CreateTrigger records a login session job and hands it to the worker.
// Admission, throttling and the login flow itself all happen worker-side;
// the front-end only learns the job id here and gets the outcome through
// the reply channel.
func (h *Handler) CreateTrigger(c *gin.Context) {
	var req triggerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	job := &store.SessionJob{
		ID:            store.NewJobID(),
		RequesterID:   req.RequesterID,
		RequesterName: req.RequesterName,
		Status:        store.JobQueued,
	}
	if req.IdempotencyKey != "" {
		job.IdempotencyKey = &req.IdempotencyKey
	}

	job, isNew, err := h.Repo.CreateJobOrGetExisting(c.Request.Context(), job)
	if err != nil {
		fail(c, http.StatusInternalServerError, 20001, "failed to record session job")
		return
	}

	if isNew {
		if err := h.Pub.PublishSession(c.Request.Context(), job.ID); err != nil {
			slog.Error("session publish failed", "job", job.ID, "error", err)
			_ = h.Repo.MarkJobFailed(c.Request.Context(), job.ID, "queueing failed")
			fail(c, http.StatusInternalServerError, 20002, "failed to queue session")
			return
		}
	}

	accepted(c, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.Repo.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, 40401, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	resp := gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
	}
	if job.ContainerID != nil {
		resp["container_id"] = *job.ContainerID
	}
	if job.Error != nil {
		resp["error"] = *job.Error
	}
	ok(c, resp)
}
