package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

type recordedCallbacks struct {
	mu       sync.Mutex
	begin    int64
	progress [][2]int64
	done     bool
	err      error
	finished chan struct{}
}

func newRecordedCallbacks() *recordedCallbacks {
	return &recordedCallbacks{begin: -2, finished: make(chan struct{}, 1)}
}

func (r *recordedCallbacks) handlers() domain.TaskHandlers {
	return domain.TaskHandlers{
		OnBegin: func(expected int64) {
			r.mu.Lock()
			r.begin = expected
			r.mu.Unlock()
		},
		OnProgress: func(written, total int64) {
			r.mu.Lock()
			r.progress = append(r.progress, [2]int64{written, total})
			r.mu.Unlock()
		},
		OnDone: func() {
			r.mu.Lock()
			r.done = true
			r.mu.Unlock()
			r.finished <- struct{}{}
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			r.finished <- struct{}{}
		},
	}
}

func (r *recordedCallbacks) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("binary task did not finish")
	}
}

func TestProgressReader_ReportsEveryInterval(t *testing.T) {
	var reports []int64
	reader := NewProgressReader(bytes.NewReader(make([]byte, 10)), 10, 4, func(written, total int64) {
		reports = append(reports, written)
	})

	buf := make([]byte, 2)
	for {
		if _, err := reader.Read(buf); err == io.EOF {
			break
		}
	}

	assert.Equal(t, []int64{4, 8, 10}, reports)
	assert.Equal(t, int64(10), reader.Written())
}

func TestHTTPBinaryEngine_Download(t *testing.T) {
	payload := strings.Repeat("a", 4096)
	userAgent := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Length", "4096")
		io.WriteString(w, payload)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	engine := NewHTTPBinaryEngine(server.Client(), fs, &domain.BinaryConfig{ProgressIntervalBytes: 1024, UserAgent: "test-agent"}, zap.NewNop())
	cb := newRecordedCallbacks()

	task, err := engine.Download(context.Background(), domain.BinaryTaskConfig{
		ID:          "ep1",
		URL:         server.URL + "/ep1.mp3",
		Destination: "/audio/ep1.mp3",
	}, cb.handlers())
	require.NoError(t, err)
	assert.Equal(t, "ep1", task.ID)

	cb.wait(t)
	engine.Wait()

	assert.True(t, cb.done)
	assert.NoError(t, cb.err)
	assert.Equal(t, int64(4096), cb.begin)
	require.NotEmpty(t, cb.progress)
	assert.Equal(t, [2]int64{4096, 4096}, cb.progress[len(cb.progress)-1])
	assert.Equal(t, "test-agent", <-userAgent)

	data, err := afero.ReadFile(fs, "/audio/ep1.mp3")
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	exists, _ := afero.Exists(fs, "/audio/ep1.mp3.part")
	assert.False(t, exists)
}

func TestHTTPBinaryEngine_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	engine := NewHTTPBinaryEngine(server.Client(), afero.NewMemMapFs(), &domain.BinaryConfig{}, zap.NewNop())
	cb := newRecordedCallbacks()

	_, err := engine.Download(context.Background(), domain.BinaryTaskConfig{ID: "x", URL: server.URL, Destination: "/audio/x.mp3"}, cb.handlers())
	require.NoError(t, err)

	cb.wait(t)
	require.Error(t, cb.err)
	assert.Contains(t, cb.err.Error(), "404")
	assert.False(t, cb.done)
}

func TestHTTPBinaryEngine_CancelIsSilent(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	fs := afero.NewMemMapFs()
	engine := NewHTTPBinaryEngine(server.Client(), fs, &domain.BinaryConfig{ProgressIntervalBytes: 1}, zap.NewNop())
	cb := newRecordedCallbacks()
	began := make(chan struct{})
	handlers := cb.handlers()
	handlers.OnBegin = func(int64) { close(began) }

	_, err := engine.Download(context.Background(), domain.BinaryTaskConfig{ID: "slow", URL: server.URL, Destination: "/audio/slow.mp3"}, handlers)
	require.NoError(t, err)

	select {
	case <-began:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer never began")
	}

	assert.True(t, engine.Cancel("slow"))
	engine.Wait()

	assert.NoError(t, cb.err)
	assert.False(t, cb.done)
	assert.False(t, engine.Cancel("slow"))

	exists, _ := afero.Exists(fs, "/audio/slow.mp3.part")
	assert.False(t, exists)
}

func TestHTTPBinaryEngine_RejectsInvalidConfig(t *testing.T) {
	engine := NewHTTPBinaryEngine(nil, afero.NewMemMapFs(), &domain.BinaryConfig{}, zap.NewNop())

	_, err := engine.Download(context.Background(), domain.BinaryTaskConfig{ID: "a"}, domain.TaskHandlers{})

	assert.True(t, errors.Is(err, domain.ErrInvalidContentID))
}

func TestHTTPBinaryEngine_CloseCancelsRunningTransfers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	engine := NewHTTPBinaryEngine(server.Client(), afero.NewMemMapFs(), &domain.BinaryConfig{}, zap.NewNop())
	began := make(chan struct{})
	handlers := newRecordedCallbacks().handlers()
	handlers.OnBegin = func(int64) { close(began) }

	_, err := engine.Download(context.Background(), domain.BinaryTaskConfig{ID: "a", URL: server.URL, Destination: "/audio/a.mp3"}, handlers)
	require.NoError(t, err)
	<-began

	closed := make(chan struct{})
	go func() {
		engine.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
	assert.False(t, engine.Cancel("a"))
}

func TestHTTPBinaryEngine_DownloadRightAfterCancel(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		first := requests == 1
		mu.Unlock()

		if first {
			w.Header().Set("Content-Length", "100000")
			io.WriteString(w, "partial")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		io.WriteString(w, "complete audio")
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	engine := NewHTTPBinaryEngine(server.Client(), fs, &domain.BinaryConfig{}, zap.NewNop())
	cfg := domain.BinaryTaskConfig{ID: "a", URL: server.URL, Destination: "/audio/a.mp3"}

	began := make(chan struct{})
	first := newRecordedCallbacks().handlers()
	first.OnBegin = func(int64) { close(began) }
	_, err := engine.Download(context.Background(), cfg, first)
	require.NoError(t, err)
	<-began

	require.True(t, engine.Cancel("a"))
	assert.False(t, engine.Cancel("a"))

	cb := newRecordedCallbacks()
	_, err = engine.Download(context.Background(), cfg, cb.handlers())
	require.NoError(t, err)

	cb.wait(t)
	require.NoError(t, cb.err)
	assert.True(t, cb.done)

	data, err := afero.ReadFile(fs, "/audio/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "complete audio", string(data))
	engine.Wait()
}
