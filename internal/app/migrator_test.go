package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

type fakeLegacyStore struct {
	items   []domain.LegacyItem
	readErr error
	deleted bool
}

func (f *fakeLegacyStore) ReadLegacy(ctx context.Context) ([]domain.LegacyItem, error) {
	return f.items, f.readErr
}

func (f *fakeLegacyStore) DeleteLegacy(ctx context.Context) error {
	f.deleted = true
	return nil
}

func legacyItem(t *testing.T, raw string) domain.LegacyItem {
	t.Helper()
	var item domain.LegacyItem
	require.NoError(t, json.Unmarshal([]byte(raw), &item))
	return item
}

func TestMigrator_ConvertsAndMerges(t *testing.T) {
	store := &fakeLegacyStore{items: []domain.LegacyItem{
		legacyItem(t, `{"title":"A","theme":"dark","offlineData":{"profiles":["p2"],"source":{"id":"a","title":"A","uri":"u1"},"state":"COMPLETED","percent":100}}`),
		legacyItem(t, `{"title":"B","offlineData":{"profiles":["p1"],"source":{"id":"b","title":"B","uri":"u2"},"state":"STOPPED"}}`),
	}}
	existing := []domain.DownloadItem{{
		OfflineData: domain.OfflineData{
			SessionIDs: []string{"p1"},
			Source:     domain.Source{ID: "a", URI: "u1"},
			State:      domain.StateCompleted,
		},
	}}

	var saved []domain.DownloadItem
	m := NewMigrator(store, domain.PlatformAndroid, zap.NewNop())
	out := m.Migrate(context.Background(), existing, func(items []domain.DownloadItem) error {
		saved = items
		return nil
	})

	require.Len(t, out, 2)
	assert.Equal(t, out, saved)
	assert.True(t, store.deleted)
	assert.Equal(t, []string{"p1", "p2"}, out[0].OfflineData.SessionIDs)
	assert.Equal(t, []string{"p1"}, existing[0].OfflineData.SessionIDs)

	migrated := out[1]
	assert.Equal(t, []string{"p1"}, migrated.OfflineData.SessionIDs)
	assert.Equal(t, domain.StateStopped, migrated.OfflineData.State)
	assert.Equal(t, float64(0), migrated.OfflineData.Percent)
	assert.JSONEq(t, `{"title":"B"}`, string(migrated.Media))
}

func TestMigrator_StripsThemeFromMedia(t *testing.T) {
	store := &fakeLegacyStore{items: []domain.LegacyItem{
		legacyItem(t, `{"title":"A","theme":"dark","offlineData":{"profiles":["p1"],"source":{"uri":"u1"},"state":"COMPLETED"}}`),
	}}

	out := NewMigrator(store, domain.PlatformAndroid, zap.NewNop()).Migrate(context.Background(), nil, func([]domain.DownloadItem) error { return nil })

	require.Len(t, out, 1)
	assert.JSONEq(t, `{"title":"A"}`, string(out[0].Media))
}

func TestMigrator_KeepsLegacyKeyWhenSaveFails(t *testing.T) {
	store := &fakeLegacyStore{items: []domain.LegacyItem{
		legacyItem(t, `{"offlineData":{"profiles":["p1"],"source":{"uri":"u1"},"state":"COMPLETED"}}`),
	}}

	out := NewMigrator(store, domain.PlatformAndroid, zap.NewNop()).Migrate(context.Background(), nil, func([]domain.DownloadItem) error {
		return errors.New("disk full")
	})

	assert.Len(t, out, 1)
	assert.False(t, store.deleted)
}

func TestMigrator_NoLegacyData(t *testing.T) {
	store := &fakeLegacyStore{readErr: errors.New("boom")}
	called := false

	existing := []domain.DownloadItem{{OfflineData: domain.OfflineData{Source: domain.Source{URI: "u1"}}}}
	out := NewMigrator(store, domain.PlatformAndroid, zap.NewNop()).Migrate(context.Background(), existing, func([]domain.DownloadItem) error {
		called = true
		return nil
	})

	assert.Equal(t, existing, out)
	assert.False(t, called)
	assert.False(t, store.deleted)
}

func TestMigrator_CleansConvertedRows(t *testing.T) {
	store := &fakeLegacyStore{items: []domain.LegacyItem{
		legacyItem(t, `{"title":"A","offlineData":{"profiles":["p1"],"source":{"uri":"u1"},"state":"DOWNLOADING","percent":30}}`),
		legacyItem(t, `{"title":"B","offlineData":{"profiles":["p1"],"source":{"uri":"u2"},"state":"REMOVING"}}`),
		legacyItem(t, `{"title":"C","offlineData":{"profiles":[],"source":{"uri":"u3"},"state":"COMPLETED"}}`),
		legacyItem(t, `{"title":"D","offlineData":{"source":{"uri":"u4"},"state":"COMPLETED"}}`),
		legacyItem(t, `{"title":"E","offlineData":{"profiles":["p2"],"source":{"uri":"u5"},"state":"COMPLETED"}}`),
	}}

	out := NewMigrator(store, domain.PlatformIOS, zap.NewNop()).Migrate(context.Background(), nil, func([]domain.DownloadItem) error { return nil })

	require.Len(t, out, 2)
	assert.Equal(t, "u1", out[0].URI())
	assert.Equal(t, domain.StateRestart, out[0].OfflineData.State)
	assert.Equal(t, "u5", out[1].URI())
	assert.Equal(t, domain.StateCompleted, out[1].OfflineData.State)
	for _, item := range out {
		assert.NotEmpty(t, item.OfflineData.SessionIDs)
	}
	assert.True(t, store.deleted)
}

func TestMigrator_KeepsStateOffIOS(t *testing.T) {
	store := &fakeLegacyStore{items: []domain.LegacyItem{
		legacyItem(t, `{"offlineData":{"profiles":["p1"],"source":{"uri":"u1"},"state":"DOWNLOADING","percent":30}}`),
	}}

	out := NewMigrator(store, domain.PlatformAndroid, zap.NewNop()).Migrate(context.Background(), nil, func([]domain.DownloadItem) error { return nil })

	require.Len(t, out, 1)
	assert.Equal(t, domain.StateDownloading, out[0].OfflineData.State)
}
