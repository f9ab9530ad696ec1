package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// NativeBridge fronts a stream engine, bounding every call with a timeout
// and wrapping failures in a NativeCallError
type NativeBridge struct {
	engine  domain.StreamEngine
	timeout time.Duration
	logger  *zap.Logger
}

var (
	_ domain.StreamEngine   = (*NativeBridge)(nil)
	_ domain.StreamRestorer = (*NativeBridge)(nil)
)

// NewNativeBridge creates a new native bridge
func NewNativeBridge(engine domain.StreamEngine, timeout time.Duration, logger *zap.Logger) *NativeBridge {
	return &NativeBridge{
		engine:  engine,
		timeout: timeout,
		logger:  logger,
	}
}

func (b *NativeBridge) call(ctx context.Context, op, uri string, fn func(ctx context.Context) error) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		b.logger.Warn("Native call failed",
			zap.String("operation", op),
			zap.String("uri", uri),
			zap.Error(err))
		return &domain.NativeCallError{Operation: op, URI: uri, Err: err}
	}
	return nil
}

// ModuleInit activates the engine
func (b *NativeBridge) ModuleInit(ctx context.Context) error {
	return b.call(ctx, "moduleInit", "", b.engine.ModuleInit)
}

// AddItem starts a stream download
func (b *NativeBridge) AddItem(ctx context.Context, source domain.Source, drm json.RawMessage) error {
	return b.call(ctx, "addItem", source.URI, func(ctx context.Context) error {
		return b.engine.AddItem(ctx, source, drm)
	})
}

// RemoveItem removes a stream download and its files
func (b *NativeBridge) RemoveItem(ctx context.Context, source domain.Source, drm json.RawMessage) error {
	return b.call(ctx, "removeItem", source.URI, func(ctx context.Context) error {
		return b.engine.RemoveItem(ctx, source, drm)
	})
}

// Resume resumes one stream download
func (b *NativeBridge) Resume(ctx context.Context, source domain.Source, drm json.RawMessage) error {
	return b.call(ctx, "resume", source.URI, func(ctx context.Context) error {
		return b.engine.Resume(ctx, source, drm)
	})
}

// Pause pauses one stream download
func (b *NativeBridge) Pause(ctx context.Context, source domain.Source, drm json.RawMessage) error {
	return b.call(ctx, "pause", source.URI, func(ctx context.Context) error {
		return b.engine.Pause(ctx, source, drm)
	})
}

// ResumeAll resumes every stream download
func (b *NativeBridge) ResumeAll(ctx context.Context) error {
	return b.call(ctx, "resumeAll", "", b.engine.ResumeAll)
}

// PauseAll pauses every stream download
func (b *NativeBridge) PauseAll(ctx context.Context) error {
	return b.call(ctx, "pauseAll", "", b.engine.PauseAll)
}

// GetItem asks the engine for its view of a download
func (b *NativeBridge) GetItem(ctx context.Context, uri string) (*domain.DownloadItem, error) {
	var item *domain.DownloadItem
	err := b.call(ctx, "getItem", uri, func(ctx context.Context) error {
		var err error
		item, err = b.engine.GetItem(ctx, uri)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Events returns the engine event stream
func (b *NativeBridge) Events() <-chan domain.Event {
	return b.engine.Events()
}

// Restore forwards persisted rows to engines that need them after a restart
func (b *NativeBridge) Restore(items []domain.DownloadItem) int {
	restorer, ok := b.engine.(domain.StreamRestorer)
	if !ok {
		return 0
	}
	return restorer.Restore(items)
}
