package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/offline-downloads-go/internal/app"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// Registry is the part of the download registry exposed over HTTP
type Registry interface {
	AddItem(ctx context.Context, req domain.NewDownloadItem) (domain.DownloadItem, error)
	RemoveItem(ctx context.Context, uri string) error
	CheckItem(ctx context.Context, uri string) (*domain.DownloadItem, error)
	GetItemBySrc(uri string) (int, domain.DownloadItem, error)
	List() []domain.DownloadItem
	UserList() []domain.DownloadItem
	Resume(ctx context.Context) (domain.BatchResult, error)
	Pause(ctx context.Context) (domain.BatchResult, error)
	CheckRestartItems(ctx context.Context) (domain.BatchResult, error)
	InitialStart(ctx context.Context) (domain.BatchResult, error)
	SetUser(userID string, logged bool)
	Status() app.Status
	Ready() bool
}

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	registry Registry
	logger   *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(registry Registry, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		registry: registry,
		logger:   logger,
	}
}

// ListResponse is the body of GET /api/v1/downloads
type ListResponse struct {
	Downloads []domain.DownloadItem `json:"downloads"`
	Count     int                   `json:"count"`
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	items := h.registry.UserList()
	if c.Query("all") == "true" {
		items = h.registry.List()
	}
	if items == nil {
		items = []domain.DownloadItem{}
	}
	c.JSON(http.StatusOK, ListResponse{Downloads: items, Count: len(items)})
}

// AddDownload handles POST /api/v1/downloads
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req domain.NewDownloadItem
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.registry.AddItem(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to add download", zap.String("uri", req.OfflineData.Source.URI), zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

// RemoveDownload handles DELETE /api/v1/downloads?uri=
func (h *DownloadHandler) RemoveDownload(c *gin.Context) {
	uri := c.Query("uri")
	if err := h.registry.RemoveItem(c.Request.Context(), uri); err != nil {
		h.logger.Error("Failed to remove download", zap.String("uri", uri), zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "download removed"})
}

// GetDownload handles GET /api/v1/downloads/item?uri=. With native=true the
// engine's own view is returned.
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	uri := c.Query("uri")

	if c.Query("native") == "true" {
		item, err := h.registry.CheckItem(c.Request.Context(), uri)
		if err != nil {
			writeError(c, err)
			return
		}
		if item == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrItemNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, item)
		return
	}

	index, item, err := h.registry.GetItemBySrc(uri)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index, "item": item})
}

// Resume handles POST /api/v1/downloads/resume
func (h *DownloadHandler) Resume(c *gin.Context) {
	h.batch(c, h.registry.Resume)
}

// Pause handles POST /api/v1/downloads/pause
func (h *DownloadHandler) Pause(c *gin.Context) {
	h.batch(c, h.registry.Pause)
}

// Restart handles POST /api/v1/downloads/restart
func (h *DownloadHandler) Restart(c *gin.Context) {
	h.batch(c, h.registry.CheckRestartItems)
}

// Start handles POST /api/v1/downloads/start
func (h *DownloadHandler) Start(c *gin.Context) {
	h.batch(c, h.registry.InitialStart)
}

func (h *DownloadHandler) batch(c *gin.Context, run func(context.Context) (domain.BatchResult, error)) {
	result, err := run(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Payload())
}

// GetStatus handles GET /api/v1/downloads/status
func (h *DownloadHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Status())
}

// SessionRequest is the body of PUT /api/v1/session
type SessionRequest struct {
	UserID string `json:"user_id"`
	Logged bool   `json:"logged"`
}

// SetSession handles PUT /api/v1/session
func (h *DownloadHandler) SetSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.registry.SetUser(req.UserID, req.Logged)
	c.JSON(http.StatusOK, h.registry.Status())
}

// writeError maps registry errors onto HTTP status codes
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var nativeErr *domain.NativeCallError

	switch {
	case errors.Is(err, domain.ErrInvalidContentID):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoUser):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrModuleUnavailable),
		errors.Is(err, domain.ErrNotInitialized),
		errors.Is(err, domain.ErrShutdown):
		status = http.StatusServiceUnavailable
	case errors.As(err, &nativeErr):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
