package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/pkg/response"
)

type metricsSource interface {
	Handler() http.Handler
	Snapshot() models.SystemMetrics
}

type availabilityReader interface {
	Snapshot() models.AvailabilitySnapshot
	Refresh(ctx context.Context) models.AvailabilitySnapshot
}

// MetricsHandler exposes observability and availability endpoints.
type MetricsHandler struct {
	metrics      metricsSource
	availability availabilityReader
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics metricsSource, availability availabilityReader) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, availability: availability}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health answers liveness probes.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @Summary Readiness probe
// @Description Probes the database and cache; 503 when the database is unreachable
// @Tags System
// @Produce json
// @Success 200 {object} models.AvailabilitySnapshot
// @Failure 503 {object} models.AvailabilitySnapshot
// @Router /ready [get]
func (h *MetricsHandler) Ready(c *gin.Context) {
	if h.availability == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	snapshot := h.availability.Refresh(c.Request.Context())
	status := http.StatusOK
	if !snapshot.DatabaseOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, snapshot)
}

// Availability godoc
// @Summary Meal types open now
// @Description Latest background probe: open regular meal types and store connectivity
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /availability [get]
func (h *MetricsHandler) Availability(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.availability.Snapshot(), nil)
}

// System godoc
// @Summary Aggregated service metrics
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /system/metrics [get]
func (h *MetricsHandler) System(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
