package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// NetworkMonitor is the connectivity snapshot the host can override
type NetworkMonitor interface {
	Snapshot() domain.NetworkState
	Set(state domain.NetworkState)
}

// NetworkSink receives host-pushed network states
type NetworkSink interface {
	Set(state domain.NetworkState)
}

// NetworkHandler handles network state requests
type NetworkHandler struct {
	monitor NetworkMonitor
	manual  NetworkSink
	logger  *zap.Logger
}

// NewNetworkHandler creates a new network handler. manual may be nil when the
// state comes from a probe.
func NewNetworkHandler(monitor NetworkMonitor, manual NetworkSink, logger *zap.Logger) *NetworkHandler {
	return &NetworkHandler{
		monitor: monitor,
		manual:  manual,
		logger:  logger,
	}
}

// GetNetwork handles GET /api/v1/network
func (h *NetworkHandler) GetNetwork(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}

// SetNetwork handles PUT /api/v1/network
func (h *NetworkHandler) SetNetwork(c *gin.Context) {
	var state domain.NetworkState
	if err := c.ShouldBindJSON(&state); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch state.Type {
	case "", domain.NetworkTypeWifi, domain.NetworkTypeCellular, domain.NetworkTypeEthernet, domain.NetworkTypeNone:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown network type: " + state.Type})
		return
	}

	if h.manual != nil {
		h.manual.Set(state)
	}
	h.monitor.Set(state)

	h.logger.Info("Network state pushed by host",
		zap.Bool("connected", state.IsConnected),
		zap.String("type", state.Type))
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}
