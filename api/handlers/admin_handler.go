package handlers

import (
	"net/http"
	"strconv"

	"example.com/backstage/services/ota/api/middleware"
	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/repository"
	"example.com/backstage/services/ota/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler handles users, the audit trail and dashboard stats
type AdminHandler struct {
	service service.Service
	log     *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(svc service.Service, log *logrus.Logger) *AdminHandler {
	return &AdminHandler{service: svc, log: log}
}

// CreateUser adds a user
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req service.CreateUserRequest
	if err := bindJSON(c, &req); err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), middleware.IdentityFrom(c), req)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// ListUsers returns every user
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.service.ListUsers(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// ListAuditLogs returns the newest audit entries. ?limit caps the page.
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	limit := repository.MaxAuditPage
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.RespondError(c, h.log, apperrors.Validation("invalid limit",
				map[string]string{"limit": "must be a positive integer"}))
			return
		}
		limit = n
	}

	entries, err := h.service.ListAuditLogs(c.Request.Context(), middleware.IdentityFrom(c), limit)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetStats returns the dashboard summary
func (h *AdminHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
