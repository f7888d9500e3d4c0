package handlers

import (
	"net/http"
	"time"

	"example.com/backstage/services/ota/api/middleware"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DeviceHandler handles device-related requests
type DeviceHandler struct {
	service service.Service
	log     *logrus.Logger
	now     func() time.Time
}

// NewDeviceHandler creates a new DeviceHandler instance
func NewDeviceHandler(svc service.Service, log *logrus.Logger) *DeviceHandler {
	return &DeviceHandler{service: svc, log: log, now: time.Now}
}

// DeviceResponse is a device plus its derived online flag
type DeviceResponse struct {
	*models.Device
	Online bool `json:"online"`
}

func (h *DeviceHandler) present(d *models.Device) DeviceResponse {
	return DeviceResponse{Device: d, Online: d.Online(h.now())}
}

// RegisterDevice handles device registration
func (h *DeviceHandler) RegisterDevice(c *gin.Context) {
	var req service.RegisterDeviceRequest
	if err := bindJSON(c, &req); err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	device, err := h.service.RegisterDevice(c.Request.Context(), middleware.IdentityFrom(c), req)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, h.present(device))
}

// ListDevices returns every device, newest first
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices, err := h.service.ListDevices(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, h.present(d))
	}
	c.JSON(http.StatusOK, out)
}

// GetDevice returns one device
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	device, err := h.service.GetDevice(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, h.present(device))
}

// Heartbeat records that a device was seen
func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	if err := h.service.DeviceHeartbeat(c.Request.Context(), middleware.IdentityFrom(c), id); err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
