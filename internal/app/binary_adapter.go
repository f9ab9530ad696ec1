package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// BinaryAdapter drives plain file downloads and turns task callbacks into
// inbound events keyed by source id
type BinaryAdapter struct {
	engine domain.BinaryEngine
	fs     afero.Fs
	dir    string
	emit   func(domain.Event)
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]uint64
	runs   uint64
}

// NewBinaryAdapter creates a new binary download adapter. emit receives one
// event per task callback.
func NewBinaryAdapter(engine domain.BinaryEngine, fs afero.Fs, dir string, emit func(domain.Event), logger *zap.Logger) *BinaryAdapter {
	return &BinaryAdapter{
		engine: engine,
		fs:     fs,
		dir:    dir,
		emit:   emit,
		logger: logger,
		active: make(map[string]uint64),
	}
}

// FilePath returns where the file of source is stored
func (a *BinaryAdapter) FilePath(source domain.Source) string {
	return domain.BinaryFilePath(a.dir, source)
}

// Running reports whether a task is in flight for the source id
func (a *BinaryAdapter) Running(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[id]
	return ok
}

// Start launches the task of item. A task already in flight is left alone.
func (a *BinaryAdapter) Start(ctx context.Context, item domain.DownloadItem) error {
	source := item.OfflineData.Source
	if source.ID == "" || source.URI == "" {
		return domain.ErrInvalidContentID
	}

	a.mu.Lock()
	if _, ok := a.active[source.ID]; ok {
		a.mu.Unlock()
		return nil
	}
	a.runs++
	run := a.runs
	a.active[source.ID] = run
	a.mu.Unlock()

	if err := a.fs.MkdirAll(a.dir, 0755); err != nil {
		a.finish(source.ID, run)
		return fmt.Errorf("failed to create binary directory: %w", err)
	}

	destination := item.OfflineData.FileURI
	if destination == "" {
		destination = a.FilePath(source)
	}

	_, err := a.engine.Download(ctx, domain.BinaryTaskConfig{
		ID:          source.ID,
		URL:         source.URI,
		Destination: destination,
	}, a.handlers(source.ID, run))
	if err != nil {
		a.finish(source.ID, run)
		return fmt.Errorf("failed to start binary download: %w", err)
	}

	a.logger.Info("Binary download started",
		zap.String("id", source.ID),
		zap.String("destination", destination))
	return nil
}

// Pause cancels the task and reports the row as stopped. Binary transfers
// restart from zero on resume.
func (a *BinaryAdapter) Pause(ctx context.Context, item domain.DownloadItem) error {
	id := item.OfflineData.Source.ID
	cancelled := a.engine.Cancel(id)
	if !a.release(id) && !cancelled {
		return nil
	}
	a.logger.Info("Binary download paused", zap.String("id", id))
	a.emit(domain.Event{Kind: domain.EventBinaryPaused, ID: id})
	return nil
}

// Remove cancels the task and deletes the file
func (a *BinaryAdapter) Remove(ctx context.Context, item domain.DownloadItem) error {
	id := item.OfflineData.Source.ID
	a.engine.Cancel(id)
	a.release(id)

	path := item.OfflineData.FileURI
	if path == "" {
		path = a.FilePath(item.OfflineData.Source)
	}
	if err := a.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// release forgets the task of id whatever run it belongs to
func (a *BinaryAdapter) release(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[id]
	delete(a.active, id)
	return ok
}

// finish forgets the task of id if run is still the current one. Callbacks
// of a run that was paused or replaced are dropped.
func (a *BinaryAdapter) finish(id string, run uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[id] != run {
		return false
	}
	delete(a.active, id)
	return true
}

func (a *BinaryAdapter) current(id string, run uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[id] == run
}

func (a *BinaryAdapter) handlers(id string, run uint64) domain.TaskHandlers {
	return domain.TaskHandlers{
		OnBegin: func(expectedBytes int64) {
			if !a.current(id, run) {
				return
			}
			a.logger.Debug("Binary download begin", zap.String("id", id), zap.Int64("expected_bytes", expectedBytes))
			a.emit(domain.Event{Kind: domain.EventBinaryStart, ID: id})
		},
		OnProgress: func(written, total int64) {
			if total <= 0 || !a.current(id, run) {
				return
			}
			a.emit(domain.Event{
				Kind:    domain.EventBinaryProgress,
				ID:      id,
				Percent: float64(written) * 100 / float64(total),
			})
		},
		OnDone: func() {
			if !a.finish(id, run) {
				return
			}
			a.emit(domain.Event{Kind: domain.EventBinaryCompleted, ID: id})
		},
		OnError: func(err error) {
			if !a.finish(id, run) {
				return
			}
			a.emit(domain.Event{Kind: domain.EventBinaryError, ID: id, Error: err.Error()})
		},
	}
}
