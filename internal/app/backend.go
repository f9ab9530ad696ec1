package app

import (
	"context"

	"github.com/yourusername/offline-downloads-go/internal/domain"
)

// BackendKind tags which engine serves an item
type BackendKind string

const (
	BackendStream BackendKind = "stream"
	BackendBinary BackendKind = "binary"
)

// Backend is the capability every download engine exposes to the registry.
// The variant of an item is fixed when the item is created.
type Backend interface {
	Kind() BackendKind
	Start(ctx context.Context, item domain.DownloadItem) error
	Resume(ctx context.Context, item domain.DownloadItem) error
	Pause(ctx context.Context, item domain.DownloadItem) error
	Remove(ctx context.Context, item domain.DownloadItem) error
}

// StreamDownload serves DRM-aware stream downloads through the native engine
type StreamDownload struct {
	engine domain.StreamEngine
}

// NewStreamDownload creates the stream variant
func NewStreamDownload(engine domain.StreamEngine) *StreamDownload {
	return &StreamDownload{engine: engine}
}

func (s *StreamDownload) Kind() BackendKind { return BackendStream }

func (s *StreamDownload) Start(ctx context.Context, item domain.DownloadItem) error {
	return s.engine.AddItem(ctx, item.OfflineData.Source, item.OfflineData.Drm)
}

func (s *StreamDownload) Resume(ctx context.Context, item domain.DownloadItem) error {
	return s.engine.Resume(ctx, item.OfflineData.Source, item.OfflineData.Drm)
}

func (s *StreamDownload) Pause(ctx context.Context, item domain.DownloadItem) error {
	return s.engine.Pause(ctx, item.OfflineData.Source, item.OfflineData.Drm)
}

func (s *StreamDownload) Remove(ctx context.Context, item domain.DownloadItem) error {
	return s.engine.RemoveItem(ctx, item.OfflineData.Source, item.OfflineData.Drm)
}

// BinaryDownload serves plain file downloads through the binary adapter
type BinaryDownload struct {
	adapter *BinaryAdapter
}

// NewBinaryDownload creates the binary variant
func NewBinaryDownload(adapter *BinaryAdapter) *BinaryDownload {
	return &BinaryDownload{adapter: adapter}
}

func (b *BinaryDownload) Kind() BackendKind { return BackendBinary }

func (b *BinaryDownload) Start(ctx context.Context, item domain.DownloadItem) error {
	return b.adapter.Start(ctx, item)
}

// Resume restarts the transfer unless it is still running
func (b *BinaryDownload) Resume(ctx context.Context, item domain.DownloadItem) error {
	if b.adapter.Running(item.OfflineData.Source.ID) {
		return nil
	}
	return b.adapter.Start(ctx, item)
}

func (b *BinaryDownload) Pause(ctx context.Context, item domain.DownloadItem) error {
	return b.adapter.Pause(ctx, item)
}

func (b *BinaryDownload) Remove(ctx context.Context, item domain.DownloadItem) error {
	return b.adapter.Remove(ctx, item)
}
