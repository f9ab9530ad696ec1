package infrastructure

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

var progressPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// parseProgress extracts the percentage from a downloader output line
func parseProgress(line string) (float64, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v > 100 {
		return 0, false
	}
	return v, true
}

type stopReason int

const (
	stopNone stopReason = iota
	stopPaused
	stopRemoved
	stopClosed
)

type execTask struct {
	source  domain.Source
	drm     json.RawMessage
	state   domain.DownloadState
	percent float64
	cancel  context.CancelFunc
	reason  stopReason
	done    chan struct{}
}

func (t *execTask) running() bool {
	return t.cancel != nil
}

// ExecStreamEngine runs an external downloader process per stream and reports
// its lifecycle as engine events
type ExecStreamEngine struct {
	config *domain.EngineConfig
	logger *zap.Logger

	mu     sync.Mutex
	tasks  map[string]*execTask
	events chan domain.Event
	closed chan struct{}
	once   sync.Once
}

var (
	_ domain.StreamEngine   = (*ExecStreamEngine)(nil)
	_ domain.StreamRestorer = (*ExecStreamEngine)(nil)
)

// NewExecStreamEngine creates a new exec-backed stream engine
func NewExecStreamEngine(config *domain.EngineConfig, buffer int, logger *zap.Logger) *ExecStreamEngine {
	return &ExecStreamEngine{
		config: config,
		logger: logger,
		tasks:  make(map[string]*execTask),
		events: make(chan domain.Event, buffer),
		closed: make(chan struct{}),
	}
}

// ModuleInit verifies the downloader binary and the output directory
func (e *ExecStreamEngine) ModuleInit(ctx context.Context) error {
	if _, err := exec.LookPath(e.config.Binary); err != nil {
		return fmt.Errorf("downloader binary %q not found: %w", e.config.Binary, err)
	}
	if err := os.MkdirAll(e.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// AddItem registers and starts a stream download
func (e *ExecStreamEngine) AddItem(ctx context.Context, source domain.Source, drm json.RawMessage) error {
	if source.URI == "" {
		return domain.ErrInvalidContentID
	}
	if len(drm) > 0 && string(drm) != "null" {
		e.logger.Warn("DRM descriptor ignored by exec engine", zap.String("uri", source.URI))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[source.URI]
	if !ok {
		task = &execTask{source: source, drm: drm, state: domain.StateQueued}
		e.tasks[source.URI] = task
	}
	if task.running() || task.state == domain.StateCompleted {
		return nil
	}
	e.start(task)
	return nil
}

// RemoveItem stops the download and deletes its files
func (e *ExecStreamEngine) RemoveItem(ctx context.Context, source domain.Source, drm json.RawMessage) error {
	e.mu.Lock()
	task, ok := e.tasks[source.URI]
	if ok {
		delete(e.tasks, source.URI)
	}
	e.mu.Unlock()

	if ok {
		e.stop(task, stopRemoved)
		if err := e.wait(ctx, task); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(e.itemDir(source)); err != nil {
		return fmt.Errorf("failed to remove stream files: %w", err)
	}

	e.emit(domain.Event{Kind: domain.EventStateChanged, ID: source.URI, State: domain.StateRemoving})
	e.emit(domain.Event{Kind: domain.EventRemoved, ID: source.URI})
	return nil
}

// Resume restarts a paused or failed download
func (e *ExecStreamEngine) Resume(ctx context.Context, source domain.Source, drm json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[source.URI]
	if !ok {
		task = &execTask{source: source, drm: drm, state: domain.StateQueued}
		e.tasks[source.URI] = task
	}
	if task.running() || task.state == domain.StateCompleted {
		return nil
	}
	e.start(task)
	return nil
}

// Pause stops a running download, keeping its partial files
func (e *ExecStreamEngine) Pause(ctx context.Context, source domain.Source, drm json.RawMessage) error {
	e.mu.Lock()
	task, ok := e.tasks[source.URI]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, source.URI)
	}
	e.stop(task, stopPaused)
	return e.wait(ctx, task)
}

// ResumeAll resumes every known unfinished download
func (e *ExecStreamEngine) ResumeAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, task := range e.tasks {
		if !task.running() && task.state != domain.StateCompleted {
			e.start(task)
		}
	}
	return nil
}

// PauseAll pauses every running download
func (e *ExecStreamEngine) PauseAll(ctx context.Context) error {
	e.mu.Lock()
	var running []*execTask
	for _, task := range e.tasks {
		if task.running() {
			running = append(running, task)
		}
	}
	e.mu.Unlock()

	for _, task := range running {
		e.stop(task, stopPaused)
	}
	for _, task := range running {
		if err := e.wait(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// GetItem returns the engine's view of a download, nil when unknown
func (e *ExecStreamEngine) GetItem(ctx context.Context, uri string) (*domain.DownloadItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[uri]
	if !ok {
		return nil, nil
	}
	return &domain.DownloadItem{
		OfflineData: domain.OfflineData{
			Source:  task.source,
			State:   task.state,
			Percent: task.percent,
			Drm:     task.drm,
		},
	}, nil
}

// Restore registers downloads persisted by an earlier process so ResumeAll and
// GetItem know them. Rows marked RESTART are left to AddItem.
func (e *ExecStreamEngine) Restore(items []domain.DownloadItem) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	restored := 0
	for _, item := range items {
		data := item.OfflineData
		if data.IsBinary || data.Source.URI == "" || data.State == domain.StateRestart {
			continue
		}
		if _, ok := e.tasks[data.Source.URI]; ok {
			continue
		}
		state := domain.StateStopped
		if data.State == domain.StateCompleted {
			state = domain.StateCompleted
		}
		e.tasks[data.Source.URI] = &execTask{
			source:  data.Source,
			drm:     data.Drm,
			state:   state,
			percent: data.Percent,
		}
		restored++
	}
	return restored
}

// Events returns the engine event stream
func (e *ExecStreamEngine) Events() <-chan domain.Event {
	return e.events
}

// Close stops every running process
func (e *ExecStreamEngine) Close() error {
	e.once.Do(func() {
		e.mu.Lock()
		tasks := make([]*execTask, 0, len(e.tasks))
		for _, task := range e.tasks {
			tasks = append(tasks, task)
		}
		e.mu.Unlock()

		close(e.closed)
		for _, task := range tasks {
			e.stop(task, stopClosed)
		}
		for _, task := range tasks {
			e.wait(context.Background(), task)
		}
	})
	return nil
}

func (e *ExecStreamEngine) itemDir(source domain.Source) string {
	name := source.ID
	if name == "" {
		h := fnv.New32a()
		h.Write([]byte(source.URI))
		name = strconv.FormatUint(uint64(h.Sum32()), 16)
	}
	return filepath.Join(e.config.OutputDir, name)
}

// start must be called with e.mu held
func (e *ExecStreamEngine) start(task *execTask) {
	ctx, cancel := context.WithCancel(context.Background())
	task.cancel = cancel
	task.reason = stopNone
	task.state = domain.StateDownloading
	task.done = make(chan struct{})

	go e.run(ctx, task)
}

func (e *ExecStreamEngine) stop(task *execTask, reason stopReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if task.cancel == nil {
		return
	}
	task.reason = reason
	task.cancel()
}

func (e *ExecStreamEngine) wait(ctx context.Context, task *execTask) error {
	e.mu.Lock()
	done := task.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *ExecStreamEngine) run(ctx context.Context, task *execTask) {
	e.mu.Lock()
	done := task.done
	e.mu.Unlock()
	defer close(done)

	uri := task.source.URI
	e.emit(domain.Event{Kind: domain.EventStateChanged, ID: uri, State: domain.StateDownloading})

	err := e.execute(ctx, task)

	e.mu.Lock()
	reason := task.reason
	task.cancel()
	task.cancel = nil
	switch {
	case reason == stopPaused || reason == stopClosed:
		task.state = domain.StateStopped
	case reason == stopRemoved:
		task.state = domain.StateRemoving
	case err != nil:
		task.state = domain.StateFailed
	default:
		task.state = domain.StateCompleted
		task.percent = 100
	}
	e.mu.Unlock()

	switch {
	case reason == stopPaused:
		e.emit(domain.Event{Kind: domain.EventStateChanged, ID: uri, State: domain.StateStopped})
	case reason != stopNone:
	case err != nil:
		e.logger.Error("Stream download failed", zap.String("uri", uri), zap.Error(err))
		e.emit(domain.Event{Kind: domain.EventStateChanged, ID: uri, State: domain.StateFailed, Error: err.Error()})
	default:
		e.emit(domain.Event{Kind: domain.EventProgress, ID: uri, Percent: 100})
		e.emit(domain.Event{Kind: domain.EventStateChanged, ID: uri, State: domain.StateCompleted})
		e.emit(domain.Event{Kind: domain.EventCompleted, ID: uri})
	}
}

func (e *ExecStreamEngine) execute(ctx context.Context, task *execTask) error {
	dir := e.itemDir(task.source)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create item directory: %w", err)
	}

	args := []string{"--newline", "-P", dir, "-o", "%(title)s.%(ext)s"}
	args = append(args, e.config.ExtraArgs...)
	args = append(args, task.source.URI)

	e.logger.Info("Starting stream download",
		zap.String("uri", task.source.URI),
		zap.String("command", ShellEscapeCommand(e.config.Binary, args...)))

	cmd := exec.CommandContext(ctx, e.config.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open downloader output: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start downloader: %w", err)
	}

	e.scanProgress(task, stdout)

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("downloader exited: %w", err)
	}
	return nil
}

func (e *ExecStreamEngine) scanProgress(task *execTask, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		percent, ok := parseProgress(scanner.Text())
		if !ok {
			continue
		}
		e.mu.Lock()
		changed := percent > task.percent
		if changed {
			task.percent = percent
		}
		e.mu.Unlock()
		if changed && percent < 100 {
			e.emit(domain.Event{Kind: domain.EventProgress, ID: task.source.URI, Percent: percent})
		}
	}
}

func (e *ExecStreamEngine) emit(ev domain.Event) {
	select {
	case e.events <- ev:
	case <-e.closed:
	}
}
