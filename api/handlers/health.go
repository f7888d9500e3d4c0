package handlers

import (
	"net/http"
	"runtime"

	"example.com/backstage/services/ota/internal/metrics"

	"github.com/gin-gonic/gin"
)

// HealthCheck handles health check requests
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "OTA Service",
	})
}

// GaugeFunc reads a live value when metrics are requested
type GaugeFunc func() int64

// MetricsHandler serves the in-process metrics collector
type MetricsHandler struct {
	metrics *metrics.Metrics
	gauges  map[string]GaugeFunc
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(m *metrics.Metrics, gauges map[string]GaugeFunc) *MetricsHandler {
	return &MetricsHandler{metrics: m, gauges: gauges}
}

// GetMetrics returns every metric
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	h.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))
	for name, read := range h.gauges {
		h.metrics.SetGauge(name, read())
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}
