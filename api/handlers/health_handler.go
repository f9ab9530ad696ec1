package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	registry Registry
	version  string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(registry Registry, version string) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		version:  version,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Downloads struct {
		Initialized bool `json:"initialized"`
		Items       int  `json:"items"`
	} `json:"downloads"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.registry.Status()

	response := HealthResponse{
		Status:  "ok",
		Version: h.version,
	}
	response.Downloads.Initialized = status.Initialized
	response.Downloads.Items = status.Items

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.registry.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "downloads registry not initialized",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
