package handlers

import (
	"fmt"
	"io"
	"net/http"

	"example.com/backstage/services/ota/api/middleware"
	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FirmwareHandler handles firmware upload, download and listing
type FirmwareHandler struct {
	service  service.Service
	log      *logrus.Logger
	maxBytes int64
}

// NewFirmwareHandler creates a new FirmwareHandler instance
func NewFirmwareHandler(svc service.Service, log *logrus.Logger, maxBytes int64) *FirmwareHandler {
	return &FirmwareHandler{service: svc, log: log, maxBytes: maxBytes}
}

// UploadFirmware accepts a multipart form with the binary in the "firmware" field
func (h *FirmwareHandler) UploadFirmware(c *gin.Context) {
	if h.maxBytes > 0 {
		// Leave room for the other form fields
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}

	req := service.UploadRequest{
		Name:          c.PostForm("name"),
		Version:       c.PostForm("version"),
		Description:   c.PostForm("description"),
		ReleaseNotes:  c.PostForm("releaseNotes"),
		TargetGroup:   c.PostForm("targetDeviceGroup"),
		TransportType: c.PostForm("transportType"),
	}

	file, _, err := c.Request.FormFile("firmware")
	if err != nil {
		h.log.WithError(err).Warn("Failed to get firmware file")
		middleware.RespondError(c, h.log, apperrors.Validation("firmware file is required",
			map[string]string{"firmware": "is required"}))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.RespondError(c, h.log, apperrors.Validation("failed to read firmware file",
			map[string]string{"firmware": "could not be read"}))
		return
	}

	fw, err := h.service.UploadFirmware(c.Request.Context(), middleware.IdentityFrom(c), req, data)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, fw)
}

// ListFirmware returns every firmware, newest first
func (h *FirmwareHandler) ListFirmware(c *gin.Context) {
	fws, err := h.service.ListFirmware(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, fws)
}

// GetFirmware returns one firmware record
func (h *FirmwareHandler) GetFirmware(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	fw, err := h.service.GetFirmware(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, fw)
}

// DownloadFirmware streams the verified binary as an attachment
func (h *FirmwareHandler) DownloadFirmware(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	data, name, err := h.service.DownloadFirmware(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// DeactivateFirmware stops a firmware from being used by new jobs
func (h *FirmwareHandler) DeactivateFirmware(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	fw, err := h.service.DeactivateFirmware(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, fw)
}
