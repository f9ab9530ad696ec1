package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

type binaryRun struct {
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// HTTPBinaryEngine downloads plain files over HTTP onto an afero filesystem
type HTTPBinaryEngine struct {
	client *http.Client
	fs     afero.Fs
	config *domain.BinaryConfig
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[string]*binaryRun
	wg    sync.WaitGroup
}

var _ domain.BinaryEngine = (*HTTPBinaryEngine)(nil)

// NewHTTPBinaryEngine creates a new HTTP binary engine
func NewHTTPBinaryEngine(client *http.Client, fs afero.Fs, config *domain.BinaryConfig, logger *zap.Logger) *HTTPBinaryEngine {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBinaryEngine{
		client: client,
		fs:     fs,
		config: config,
		logger: logger,
		tasks:  make(map[string]*binaryRun),
	}
}

// Download starts the transfer in the background
func (e *HTTPBinaryEngine) Download(ctx context.Context, cfg domain.BinaryTaskConfig, handlers domain.TaskHandlers) (*domain.BinaryTask, error) {
	if cfg.ID == "" || cfg.URL == "" || cfg.Destination == "" {
		return nil, fmt.Errorf("%w: binary task needs id, url and destination", domain.ErrInvalidContentID)
	}

	// A cancelled run may still be draining; the new one starts after it
	e.mu.Lock()
	prev, ok := e.tasks[cfg.ID]
	if ok && !prev.cancelled {
		e.mu.Unlock()
		return nil, fmt.Errorf("binary task %s already running", cfg.ID)
	}
	taskCtx, cancel := context.WithCancel(context.Background())
	run := &binaryRun{cancel: cancel, done: make(chan struct{})}
	e.tasks[cfg.ID] = run
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.finish(cfg.ID, run)
		if prev != nil {
			<-prev.done
		}
		if taskCtx.Err() != nil {
			return
		}
		e.transfer(taskCtx, cfg, handlers)
	}()

	return &domain.BinaryTask{ID: cfg.ID, Destination: cfg.Destination}, nil
}

// Cancel stops a running transfer. The id is free for a new Download as soon
// as Cancel returns.
func (e *HTTPBinaryEngine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.tasks[id]
	if !ok || run.cancelled {
		return false
	}
	run.cancelled = true
	run.cancel()
	return true
}

// Wait blocks until every running transfer returned
func (e *HTTPBinaryEngine) Wait() {
	e.wg.Wait()
}

// Close cancels every running transfer and waits for it to return. Partial
// files are left for the registry to restart.
func (e *HTTPBinaryEngine) Close() {
	e.mu.Lock()
	for _, run := range e.tasks {
		run.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *HTTPBinaryEngine) finish(id string, run *binaryRun) {
	run.cancel()
	e.mu.Lock()
	if e.tasks[id] == run {
		delete(e.tasks, id)
	}
	e.mu.Unlock()
	close(run.done)
}

func (e *HTTPBinaryEngine) transfer(ctx context.Context, cfg domain.BinaryTaskConfig, h domain.TaskHandlers) {
	fail := func(err error) {
		if ctx.Err() != nil {
			e.logger.Debug("Binary download cancelled", zap.String("id", cfg.ID))
			return
		}
		e.logger.Error("Binary download failed", zap.String("id", cfg.ID), zap.Error(err))
		if h.OnError != nil {
			h.OnError(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		fail(fmt.Errorf("failed to create request: %w", err))
		return
	}
	if e.config.UserAgent != "" {
		req.Header.Set("User-Agent", e.config.UserAgent)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		fail(fmt.Errorf("request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
		return
	}

	if h.OnBegin != nil {
		h.OnBegin(resp.ContentLength)
	}

	if err := e.fs.MkdirAll(filepath.Dir(cfg.Destination), 0755); err != nil {
		fail(fmt.Errorf("failed to create destination directory: %w", err))
		return
	}

	partial := cfg.Destination + ".part"
	if err := e.write(partial, resp.Body, resp.ContentLength, h.OnProgress); err != nil {
		e.fs.Remove(partial)
		fail(err)
		return
	}
	if err := e.fs.Rename(partial, cfg.Destination); err != nil {
		e.fs.Remove(partial)
		fail(fmt.Errorf("failed to move download into place: %w", err))
		return
	}

	e.logger.Info("Binary download completed",
		zap.String("id", cfg.ID),
		zap.String("destination", cfg.Destination))
	if h.OnDone != nil {
		h.OnDone()
	}
}

func (e *HTTPBinaryEngine) write(path string, body io.Reader, total int64, onProgress func(written, total int64)) error {
	f, err := e.fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	reader := NewProgressReader(body, total, e.config.ProgressIntervalBytes, onProgress)
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if total > 0 && reader.Written() != total {
		return errors.New("download truncated")
	}
	return nil
}
