package infrastructure

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

func sampleItems() []domain.DownloadItem {
	window := 120
	return []domain.DownloadItem{
		{
			Media: json.RawMessage(`{"title":"A","duration":3600}`),
			OfflineData: domain.OfflineData{
				SessionIDs: []string{"p1", "p2"},
				Source:     domain.Source{ID: "a", Title: "A", URI: "https://cdn.example.com/a.mpd", DrmScheme: "widevine", DvrWindowMinutes: &window},
				State:      domain.StateDownloading,
				Percent:    37.5,
				Drm:        json.RawMessage(`{"licenseServer":"https://drm.example.com"}`),
			},
		},
		{
			OfflineData: domain.OfflineData{
				SessionIDs: []string{"p1"},
				Source:     domain.Source{ID: "b", Title: "B", URI: "https://cdn.example.com/b.mp3", DrmScheme: "mp3"},
				State:      domain.StateCompleted,
				Percent:    100,
				IsBinary:   true,
				FileURI:    "/data/audio/b.mp3",
			},
		},
	}
}

func TestDownloadStorage_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	storage := NewDownloadStorage(store, zap.NewNop())
	ctx := context.Background()

	items := sampleItems()
	require.NoError(t, storage.Save(ctx, items))

	assert.Equal(t, items, storage.Read(ctx))
}

func TestDownloadStorage_ReadDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name  string
		value *string
	}{
		{"absent", nil},
		{"malformed", strPtr("{not json")},
		{"not an array", strPtr(`{"offlineData":{}}`)},
		{"null", strPtr("null")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			if tt.value != nil {
				store.data[domain.StorageKey] = *tt.value
			}
			storage := NewDownloadStorage(store, zap.NewNop())

			items := storage.Read(context.Background())
			assert.NotNil(t, items)
			assert.Empty(t, items)
		})
	}
}

func TestDownloadStorage_SaveVersionSkipsStale(t *testing.T) {
	store := newMemoryStore()
	storage := NewDownloadStorage(store, zap.NewNop())
	ctx := context.Background()
	items := sampleItems()

	written, err := storage.SaveVersion(ctx, 2, items)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = storage.SaveVersion(ctx, 1, items[:1])
	require.NoError(t, err)
	assert.False(t, written)

	assert.Len(t, storage.Read(ctx), 2)
}

func TestDownloadStorage_Legacy(t *testing.T) {
	store := newMemoryStore()
	store.data[domain.LegacyStorageKey] = `[{"title":"A","theme":"dark","offlineData":{"profiles":["p1"],"source":{"id":"a","uri":"u1"},"state":"COMPLETED"}}]`
	storage := NewDownloadStorage(store, zap.NewNop())
	ctx := context.Background()

	legacy, err := storage.ReadLegacy(ctx)
	require.NoError(t, err)
	require.Len(t, legacy, 1)

	data, err := legacy[0].OfflineData()
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, data.Profiles)
	assert.Equal(t, domain.StateCompleted, data.State)

	media, err := legacy[0].Media()
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"A"}`, string(media))

	require.NoError(t, storage.DeleteLegacy(ctx))
	legacy, err = storage.ReadLegacy(ctx)
	require.NoError(t, err)
	assert.Nil(t, legacy)
}

func strPtr(s string) *string {
	return &s
}

// memoryStore is an in-memory KeyValueStore
type memoryStore struct {
	data   map[string]string
	setErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}
