package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/offline-downloads-go/api/handlers"
	"github.com/yourusername/offline-downloads-go/api/middleware"
	"github.com/yourusername/offline-downloads-go/internal/app"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

type fakeRegistry struct {
	mu        sync.Mutex
	items     []domain.DownloadItem
	addErr    error
	removeErr error
	batchErr  error
	batch     domain.BatchResult
	removed   []string
	user      string
	logged    bool
	ready     bool
	calls     map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{ready: true, calls: make(map[string]int)}
}

func (f *fakeRegistry) called(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeRegistry) AddItem(_ context.Context, req domain.NewDownloadItem) (domain.DownloadItem, error) {
	f.called("add")
	if f.addErr != nil {
		return domain.DownloadItem{}, f.addErr
	}
	item := domain.DownloadItem{OfflineData: domain.OfflineData{
		Source:     req.OfflineData.Source,
		State:      domain.StateDownloading,
		SessionIDs: []string{"u1"},
	}}
	f.items = append(f.items, item)
	return item, nil
}

func (f *fakeRegistry) RemoveItem(_ context.Context, uri string) error {
	f.called("remove")
	if uri == "" {
		return fmt.Errorf("remove: %w", domain.ErrInvalidContentID)
	}
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, uri)
	return nil
}

func (f *fakeRegistry) CheckItem(_ context.Context, uri string) (*domain.DownloadItem, error) {
	for _, item := range f.items {
		if item.URI() == uri {
			item := item
			return &item, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) GetItemBySrc(uri string) (int, domain.DownloadItem, error) {
	for i, item := range f.items {
		if item.URI() == uri {
			return i, item, nil
		}
	}
	return -1, domain.DownloadItem{}, domain.ErrItemNotFound
}

func (f *fakeRegistry) List() []domain.DownloadItem { return f.items }

func (f *fakeRegistry) UserList() []domain.DownloadItem {
	var out []domain.DownloadItem
	for _, item := range f.items {
		if item.HasSession("u1") {
			out = append(out, item)
		}
	}
	return out
}

func (f *fakeRegistry) run(op string) (domain.BatchResult, error) {
	f.called(op)
	b := f.batch
	b.Operation = op
	return b, f.batchErr
}

func (f *fakeRegistry) Resume(context.Context) (domain.BatchResult, error) { return f.run("resume") }
func (f *fakeRegistry) Pause(context.Context) (domain.BatchResult, error)  { return f.run("pause") }
func (f *fakeRegistry) CheckRestartItems(context.Context) (domain.BatchResult, error) {
	return f.run("restart")
}
func (f *fakeRegistry) InitialStart(context.Context) (domain.BatchResult, error) {
	return f.run("start")
}

func (f *fakeRegistry) SetUser(userID string, logged bool) {
	f.user, f.logged = userID, logged
}

func (f *fakeRegistry) Status() app.Status {
	return app.Status{Initialized: f.ready, Items: len(f.items), UserID: f.user, UserLogged: f.logged}
}

func (f *fakeRegistry) Ready() bool { return f.ready }

type fakeMonitor struct {
	state domain.NetworkState
}

func (m *fakeMonitor) Snapshot() domain.NetworkState  { return m.state }
func (m *fakeMonitor) Set(state domain.NetworkState) { m.state = state }

type fakeSink struct {
	got []domain.NetworkState
}

func (s *fakeSink) Set(state domain.NetworkState) { s.got = append(s.got, state) }

type routerFixture struct {
	registry *fakeRegistry
	bus      *app.EventBus
	monitor  *fakeMonitor
	sink     *fakeSink
	router   *gin.Engine
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		registry: newFakeRegistry(),
		bus:      app.NewEventBus(zap.NewNop()),
		monitor:  &fakeMonitor{state: domain.NetworkState{IsConnected: true, Type: domain.NetworkTypeWifi}},
		sink:     &fakeSink{},
	}
	f.router = SetupRouter(RouterDeps{
		Registry: f.registry,
		Bus:      f.bus,
		Monitor:  f.monitor,
		Manual:   f.sink,
		Version:  "test",
		Logger:   zap.NewNop(),
	})
	t.Cleanup(f.bus.Close)
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func addRequest(uri string) domain.NewDownloadItem {
	return domain.NewDownloadItem{OfflineData: domain.NewOfflineData{
		Source: domain.Source{ID: "id-" + uri, Title: uri, URI: uri},
	}}
}

func TestHealthAndReady(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.True(t, health.Downloads.Initialized)

	w = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.registry.ready = false
	w = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAddAndListDownloads(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/downloads", addRequest("https://cdn/a.mpd"))
	require.Equal(t, http.StatusCreated, w.Code)
	var item domain.DownloadItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, "https://cdn/a.mpd", item.URI())

	f.registry.items = append(f.registry.items, domain.DownloadItem{OfflineData: domain.OfflineData{
		Source:     domain.Source{URI: "https://cdn/other.mpd"},
		SessionIDs: []string{"u2"},
	}})

	w = f.do(t, http.MethodGet, "/api/v1/downloads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list handlers.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = f.do(t, http.MethodGet, "/api/v1/downloads?all=true", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
}

func TestListDownloadsEmptyIsArray(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/downloads", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"downloads":[]`)
}

func TestAddDownloadErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid id", fmt.Errorf("add: %w", domain.ErrInvalidContentID), http.StatusBadRequest},
		{"no user", domain.ErrNoUser, http.StatusUnauthorized},
		{"disabled", domain.ErrModuleUnavailable, http.StatusServiceUnavailable},
		{"not initialized", domain.ErrNotInitialized, http.StatusServiceUnavailable},
		{"native failure", &domain.NativeCallError{Operation: "addItem", Err: errors.New("boom")}, http.StatusBadGateway},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.registry.addErr = tt.err

			w := f.do(t, http.MethodPost, "/api/v1/downloads", addRequest("https://cdn/a.mpd"))
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestAddDownloadRejectsBadBody(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/downloads", strings.NewReader("{"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.registry.calls["add"])
}

func TestRemoveDownload(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodDelete, "/api/v1/downloads?uri=https%3A%2F%2Fcdn%2Fa.mpd", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"https://cdn/a.mpd"}, f.registry.removed)

	w = f.do(t, http.MethodDelete, "/api/v1/downloads", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.registry.removeErr = domain.ErrItemNotFound
	w = f.do(t, http.MethodDelete, "/api/v1/downloads?uri=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDownload(t *testing.T) {
	f := newRouterFixture(t)
	f.registry.items = []domain.DownloadItem{{OfflineData: domain.OfflineData{
		Source: domain.Source{URI: "https://cdn/a.mpd"},
		State:  domain.StateCompleted,
	}}}

	w := f.do(t, http.MethodGet, "/api/v1/downloads/item?uri=https%3A%2F%2Fcdn%2Fa.mpd", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"index":0`)

	w = f.do(t, http.MethodGet, "/api/v1/downloads/item?uri=https%3A%2F%2Fcdn%2Fa.mpd&native=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"COMPLETED"`)

	w = f.do(t, http.MethodGet, "/api/v1/downloads/item?uri=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/downloads/item?uri=missing&native=true", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchEndpoints(t *testing.T) {
	for _, op := range []string{"resume", "pause", "restart", "start"} {
		t.Run(op, func(t *testing.T) {
			f := newRouterFixture(t)
			f.registry.batch.Add("https://cdn/a.mpd", errors.New("engine busy"))

			w := f.do(t, http.MethodPost, "/api/v1/downloads/"+op, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var payload domain.OperationResultPayload
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
			assert.Equal(t, op, payload.Operation)
			assert.False(t, payload.OK)
			require.Len(t, payload.Failures, 1)
			assert.Equal(t, "engine busy", payload.Failures[0].Reason)
			assert.Equal(t, 1, f.registry.calls[op])
		})
	}
}

func TestBatchEndpointUnavailable(t *testing.T) {
	f := newRouterFixture(t)
	f.registry.batchErr = domain.ErrModuleUnavailable

	w := f.do(t, http.MethodPost, "/api/v1/downloads/resume", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSessionAndStatus(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodPut, "/api/v1/session", handlers.SessionRequest{UserID: "u1", Logged: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", f.registry.user)
	assert.True(t, f.registry.logged)

	w = f.do(t, http.MethodGet, "/api/v1/downloads/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status app.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "u1", status.UserID)
	assert.True(t, status.UserLogged)
}

func TestNetworkEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/network", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"wifi"`)

	cellular := domain.NetworkState{IsConnected: true, IsInternetReachable: true, Type: domain.NetworkTypeCellular}
	w = f.do(t, http.MethodPut, "/api/v1/network", cellular)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cellular, f.monitor.state)
	assert.Equal(t, []domain.NetworkState{cellular}, f.sink.got)

	w = f.do(t, http.MethodPut, "/api/v1/network", domain.NetworkState{Type: "satellite"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.sink.got, 1)
}

func TestCORSPreflight(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/downloads", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestCORSRestrictsOrigins(t *testing.T) {
	router := gin.New()
	router.Use(middleware.CORS("http://app.local"))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://evil.local")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryReturnsJSON(t *testing.T) {
	router := gin.New()
	router.Use(middleware.Logger(zap.NewNop()), middleware.Recovery(zap.NewNop()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"request_id":"req-1"`)
}

func TestUnknownRoute(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsWebSocket(t *testing.T) {
	f := newRouterFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events?topics=downloads,downloadsList"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello handlers.EventMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, domain.TopicDownloads, hello.Topic)
	assert.NotEmpty(t, hello.ID)

	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	f.bus.Publish(domain.TopicDownloadsSize, domain.DownloadsSizePayload{Size: 10})
	f.bus.Publish(domain.TopicDownloadsList, domain.DownloadsListPayload{Count: 3})

	var msg struct {
		ID      string                      `json:"id"`
		Topic   string                      `json:"type"`
		Payload domain.DownloadsListPayload `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, domain.TopicDownloadsList, msg.Topic)
	assert.Equal(t, 3, msg.Payload.Count)
	assert.NotEqual(t, hello.ID, msg.ID)
}
