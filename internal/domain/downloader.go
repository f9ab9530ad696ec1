package domain

import (
	"context"
	"encoding/json"
)

// StreamEngine defines the native engine performing DRM-aware stream downloads.
// Every call may fail; the id reported in events is the source uri.
type StreamEngine interface {
	ModuleInit(ctx context.Context) error
	AddItem(ctx context.Context, source Source, drm json.RawMessage) error
	RemoveItem(ctx context.Context, source Source, drm json.RawMessage) error
	Resume(ctx context.Context, source Source, drm json.RawMessage) error
	Pause(ctx context.Context, source Source, drm json.RawMessage) error
	ResumeAll(ctx context.Context) error
	PauseAll(ctx context.Context) error

	// GetItem returns the engine's view of a download, nil when unknown
	GetItem(ctx context.Context, uri string) (*DownloadItem, error)

	// Events streams lifecycle events until the engine is closed
	Events() <-chan Event
}

// BinaryTaskConfig describes one plain file download
type BinaryTaskConfig struct {
	ID          string
	URL         string
	Destination string
	Headers     map[string]string
}

// TaskHandlers receive the lifecycle callbacks of a binary task. Callbacks
// are invoked from the task goroutine.
type TaskHandlers struct {
	OnBegin    func(expectedBytes int64)
	OnProgress func(written, total int64)
	OnDone     func()
	OnError    func(err error)
}

// BinaryTask is a handle to a running binary download
type BinaryTask struct {
	ID          string
	Destination string
}

// BinaryEngine defines the secondary engine for plain file downloads
type BinaryEngine interface {
	// Download starts the task and returns immediately
	Download(ctx context.Context, cfg BinaryTaskConfig, handlers TaskHandlers) (*BinaryTask, error)

	// Cancel stops a running task, returning false if none was running.
	// A cancelled task does not call OnError.
	Cancel(id string) bool
}

// StreamRestorer is implemented by stream engines that keep no queue of their
// own across process restarts. Restore registers persisted rows without
// starting them and returns how many were new to the engine.
type StreamRestorer interface {
	Restore(items []DownloadItem) int
}
