package domain

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestItem(uri string, state DownloadState, users ...string) DownloadItem {
	return DownloadItem{
		Media: json.RawMessage(`{"title":"` + uri + `"}`),
		OfflineData: OfflineData{
			SessionIDs: users,
			Source:     Source{ID: "id-" + uri, Title: uri, URI: uri},
			State:      state,
		},
	}
}

func TestDownloadState_Valid(t *testing.T) {
	assert.True(t, StateRestart.Valid())
	assert.True(t, StateNotDownloaded.Valid())
	assert.False(t, DownloadState("PAUSED").Valid())
	assert.False(t, DownloadState("").Valid())
}

func TestValidatePlatform(t *testing.T) {
	assert.True(t, ValidatePlatform(PlatformAndroid))
	assert.True(t, ValidatePlatform(PlatformIOS))
	assert.False(t, ValidatePlatform(Platform("web")))
}

func TestDownloadItem_Sessions(t *testing.T) {
	item := newTestItem("u1", StateRestart, "p1")

	assert.True(t, item.HasSession("p1"))
	assert.False(t, item.HasSession("p2"))
	assert.False(t, item.SharedWithOthers("p1"))

	assert.True(t, item.AddSession("p2"))
	assert.False(t, item.AddSession("p2"))
	assert.Equal(t, []string{"p1", "p2"}, item.OfflineData.SessionIDs)
	assert.True(t, item.SharedWithOthers("p1"))

	assert.True(t, item.RemoveSession("p1"))
	assert.False(t, item.RemoveSession("p1"))
	assert.Equal(t, []string{"p2"}, item.OfflineData.SessionIDs)
}

func TestDownloadItem_MatchesURI(t *testing.T) {
	item := newTestItem("https://cdn.example.com/my file.m3u8", StateRestart, "p1")

	assert.True(t, item.MatchesURI("https://cdn.example.com/my file.m3u8"))
	assert.True(t, item.MatchesURI("https://cdn.example.com/my%20file.m3u8"))
	assert.False(t, item.MatchesURI("https://cdn.example.com/other.m3u8"))
	assert.False(t, item.MatchesURI(""))
}

func TestDownloadItem_Clone(t *testing.T) {
	window := 30
	item := newTestItem("u1", StateDownloading, "p1")
	item.OfflineData.Source.DvrWindowMinutes = &window
	item.OfflineData.Drm = json.RawMessage(`{"type":"widevine"}`)

	clone := item.Clone()
	clone.OfflineData.SessionIDs[0] = "changed"
	*clone.OfflineData.Source.DvrWindowMinutes = 60
	clone.Media[0] = '['

	assert.Equal(t, "p1", item.OfflineData.SessionIDs[0])
	assert.Equal(t, 30, *item.OfflineData.Source.DvrWindowMinutes)
	assert.Equal(t, byte('{'), item.Media[0])
}

func TestNewItemFromRequest(t *testing.T) {
	req := NewDownloadItem{
		Media: json.RawMessage(`{"title":"A"}`),
		OfflineData: NewOfflineData{
			Source: Source{ID: "a", Title: "A", URI: "u1"},
		},
	}

	item := NewItemFromRequest(req, "p1", false)

	assert.Equal(t, StateRestart, item.OfflineData.State)
	assert.Equal(t, []string{"p1"}, item.OfflineData.SessionIDs)
	assert.Equal(t, "u1", item.URI())
	assert.False(t, item.OfflineData.IsBinary)
	assert.Zero(t, item.OfflineData.Percent)
}

func TestIsBinarySource(t *testing.T) {
	mp3 := Source{ID: "a", URI: "https://cdn.example.com/a.mp3", DrmScheme: BinaryScheme}
	stream := Source{ID: "b", URI: "https://cdn.example.com/b.mpd", DrmScheme: "widevine"}

	assert.True(t, IsBinarySource(PlatformAndroid, mp3))
	assert.False(t, IsBinarySource(PlatformIOS, mp3))
	assert.False(t, IsBinarySource(PlatformAndroid, stream))
}

func TestBinaryFilePath(t *testing.T) {
	path := BinaryFilePath("/data/audio", Source{ID: "episode-1"})
	assert.Equal(t, filepath.Join("/data/audio", "episode-1.mp3"), path)
}

func TestApplyRecovery(t *testing.T) {
	build := func() []DownloadItem {
		return []DownloadItem{
			newTestItem("u1", StateDownloading, "p1"),
			newTestItem("u2", StateCompleted, "p1"),
			newTestItem("u3", StateQueued, "p1"),
		}
	}

	ios := ApplyRecovery(PlatformIOS, build())
	assert.Equal(t, StateRestart, ios[0].OfflineData.State)
	assert.Equal(t, StateCompleted, ios[1].OfflineData.State)
	assert.Equal(t, StateRestart, ios[2].OfflineData.State)

	android := ApplyRecovery(PlatformAndroid, build())
	assert.Equal(t, StateDownloading, android[0].OfflineData.State)
	assert.Equal(t, StateQueued, android[2].OfflineData.State)
}

func TestDropRemoving(t *testing.T) {
	items := []DownloadItem{
		newTestItem("u1", StateRemoving, "p1"),
		newTestItem("u2", StateCompleted, "p1"),
	}

	kept, dropped := DropRemoving(items)

	require.Len(t, kept, 1)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, "u2", kept[0].URI())
}

func TestFindAndFilter(t *testing.T) {
	items := []DownloadItem{
		newTestItem("u1", StateCompleted, "p1"),
		newTestItem("u2", StateDownloading, "p2"),
		newTestItem("u3", StateRestart, "p1", "p2"),
	}

	assert.Equal(t, 1, FindBySrc(items, "u2"))
	assert.Equal(t, -1, FindBySrc(items, "missing"))
	assert.Equal(t, 2, FindByID(items, "id-u3"))
	assert.Equal(t, -1, FindByID(items, ""))

	assert.Len(t, FilterByUser(items, "p1"), 2)
	assert.Len(t, FilterByUser(items, ""), 3)

	assert.Equal(t, 1, CountPending(items, "p1"))
	assert.Equal(t, 2, CountPending(items, "p2"))
	assert.Equal(t, 0, CountPending(items, "nobody"))
}
