package handlers

import (
	"net/http"

	"example.com/backstage/services/ota/api/middleware"
	"example.com/backstage/services/ota/internal/broadcast"
	"example.com/backstage/services/ota/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JobHandler handles update jobs and their live progress feed
type JobHandler struct {
	service service.Service
	log     *logrus.Logger
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(svc service.Service, log *logrus.Logger) *JobHandler {
	return &JobHandler{service: svc, log: log}
}

// TriggerJob starts an update job and answers before any device is reached
func (h *JobHandler) TriggerJob(c *gin.Context) {
	var req service.TriggerJobRequest
	if err := bindJSON(c, &req); err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	job, err := h.service.TriggerUpdateJob(c.Request.Context(), middleware.IdentityFrom(c), req)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// ListJobs returns every job, newest first
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.service.ListJobs(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// GetJob returns one job
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	job, err := h.service.GetJobStatus(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// RollbackJob starts a rollback of a job
func (h *JobHandler) RollbackJob(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	job, err := h.service.RollbackJob(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// CancelJob cancels a pending or in-progress job
func (h *JobHandler) CancelJob(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	job, err := h.service.CancelJob(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// StreamUpdates upgrades to a WebSocket carrying job updates
func (h *JobHandler) StreamUpdates(c *gin.Context) {
	sub, err := h.service.SubscribeJobEvents(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	broadcast.ServeWS(sub, h.log, c.Writer, c.Request)
}
