package routes

import (
	"example.com/backstage/services/ota/api/handlers"
	"example.com/backstage/services/ota/api/middleware"
	"example.com/backstage/services/ota/internal/metrics"
	"example.com/backstage/services/ota/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Options holds what the routes need besides the service
type Options struct {
	Metrics        *metrics.Metrics
	Gauges         map[string]handlers.GaugeFunc
	MaxUploadBytes int64
}

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, svc service.Service, log *logrus.Logger, opts Options) {
	r.GET("/health", handlers.HealthCheck)

	metricsHandler := handlers.NewMetricsHandler(opts.Metrics, opts.Gauges)
	r.GET("/metrics", metricsHandler.GetMetrics)

	jobHandler := handlers.NewJobHandler(svc, log)
	r.GET("/ws/updates", middleware.Authenticate(svc, log, true), jobHandler.StreamUpdates)

	api := r.Group("/api/v1", middleware.Authenticate(svc, log, false))

	firmwareHandler := handlers.NewFirmwareHandler(svc, log, opts.MaxUploadBytes)
	firmware := api.Group("/firmware")
	{
		firmware.POST("", firmwareHandler.UploadFirmware)
		firmware.GET("", firmwareHandler.ListFirmware)
		firmware.GET("/:id", firmwareHandler.GetFirmware)
		firmware.GET("/:id/download", firmwareHandler.DownloadFirmware)
		firmware.POST("/:id/deactivate", firmwareHandler.DeactivateFirmware)
	}

	deviceHandler := handlers.NewDeviceHandler(svc, log)
	devices := api.Group("/devices")
	{
		devices.POST("", deviceHandler.RegisterDevice)
		devices.GET("", deviceHandler.ListDevices)
		devices.GET("/:id", deviceHandler.GetDevice)
		devices.POST("/:id/heartbeat", deviceHandler.Heartbeat)
	}

	jobs := api.Group("/jobs")
	{
		jobs.POST("", jobHandler.TriggerJob)
		jobs.GET("", jobHandler.ListJobs)
		jobs.GET("/:id", jobHandler.GetJob)
		jobs.POST("/:id/rollback", jobHandler.RollbackJob)
		jobs.POST("/:id/cancel", jobHandler.CancelJob)
	}

	adminHandler := handlers.NewAdminHandler(svc, log)
	api.POST("/users", adminHandler.CreateUser)
	api.GET("/users", adminHandler.ListUsers)
	api.GET("/audit", adminHandler.ListAuditLogs)
	api.GET("/stats", adminHandler.GetStats)
}
