package domain

import (
	"encoding/json"
	"net/url"
	"path/filepath"
)

// DownloadState represents the lifecycle state of an offline download
type DownloadState string

const (
	StateRestart       DownloadState = "RESTART"
	StateDownloading   DownloadState = "DOWNLOADING"
	StateCompleted     DownloadState = "COMPLETED"
	StateFailed        DownloadState = "FAILED"
	StateRemoving      DownloadState = "REMOVING"
	StateStopped       DownloadState = "STOPPED"
	StateQueued        DownloadState = "QUEUED"
	StateRestarting    DownloadState = "RESTARTING"
	StateNotDownloaded DownloadState = "NOT_DOWNLOADED"
)

// Valid reports whether the state is one of the known lifecycle states
func (s DownloadState) Valid() bool {
	switch s {
	case StateRestart, StateDownloading, StateCompleted, StateFailed, StateRemoving,
		StateStopped, StateQueued, StateRestarting, StateNotDownloaded:
		return true
	}
	return false
}

// Platform represents the host platform whose download rules apply
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// ValidatePlatform checks if a platform is valid
func ValidatePlatform(platform Platform) bool {
	return platform == PlatformAndroid || platform == PlatformIOS
}

// BinaryScheme is the drm scheme marking plain audio files
const BinaryScheme = "mp3"

// Source identifies the content to download. URI is the natural key.
type Source struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	URI              string `json:"uri"`
	DrmScheme        string `json:"drmScheme,omitempty"`
	DvrWindowMinutes *int   `json:"dvrWindowMinutes,omitempty"`
}

// OfflineData holds everything this layer tracks about a download
type OfflineData struct {
	SessionIDs []string        `json:"session_ids"`
	Source     Source          `json:"source"`
	State      DownloadState   `json:"state"`
	Percent    float64         `json:"percent,omitempty"`
	Drm        json.RawMessage `json:"drm,omitempty"`
	IsBinary   bool            `json:"isBinary,omitempty"`
	FileURI    string          `json:"fileUri,omitempty"`
}

// DownloadItem is one row of the persisted download list
type DownloadItem struct {
	Media       json.RawMessage `json:"media,omitempty"`
	OfflineData OfflineData     `json:"offlineData"`
}

// NewOfflineData is the part of a download request the host provides
type NewOfflineData struct {
	Source Source          `json:"source"`
	Drm    json.RawMessage `json:"drm,omitempty"`
}

// NewDownloadItem is a request to download a piece of content
type NewDownloadItem struct {
	Media       json.RawMessage `json:"media,omitempty"`
	OfflineData NewOfflineData  `json:"offlineData"`
}

// URI returns the natural key of the item
func (d *DownloadItem) URI() string {
	return d.OfflineData.Source.URI
}

// HasSession checks if the user requested this download
func (d *DownloadItem) HasSession(userID string) bool {
	for _, id := range d.OfflineData.SessionIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddSession appends the user id, returning false if it was already present
func (d *DownloadItem) AddSession(userID string) bool {
	if d.HasSession(userID) {
		return false
	}
	d.OfflineData.SessionIDs = append(d.OfflineData.SessionIDs, userID)
	return true
}

// RemoveSession drops the user id, returning false if it was not present
func (d *DownloadItem) RemoveSession(userID string) bool {
	kept := make([]string, 0, len(d.OfflineData.SessionIDs))
	removed := false
	for _, id := range d.OfflineData.SessionIDs {
		if id == userID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	d.OfflineData.SessionIDs = kept
	return removed
}

// SharedWithOthers reports whether a user other than userID holds this download
func (d *DownloadItem) SharedWithOthers(userID string) bool {
	for _, id := range d.OfflineData.SessionIDs {
		if id != userID {
			return true
		}
	}
	return false
}

// IsPending checks if the download still has work left
func (d *DownloadItem) IsPending() bool {
	return d.OfflineData.State != StateCompleted
}

// MatchesURI checks the uri against the raw and the escaped form of the source uri
func (d *DownloadItem) MatchesURI(uri string) bool {
	if uri == "" {
		return false
	}
	src := d.OfflineData.Source.URI
	return src == uri || EncodeURI(src) == uri
}

// Clone returns a deep copy of the item
func (d DownloadItem) Clone() DownloadItem {
	c := d
	if d.Media != nil {
		c.Media = append(json.RawMessage(nil), d.Media...)
	}
	if d.OfflineData.Drm != nil {
		c.OfflineData.Drm = append(json.RawMessage(nil), d.OfflineData.Drm...)
	}
	if d.OfflineData.SessionIDs != nil {
		c.OfflineData.SessionIDs = append([]string(nil), d.OfflineData.SessionIDs...)
	}
	if d.OfflineData.Source.DvrWindowMinutes != nil {
		v := *d.OfflineData.Source.DvrWindowMinutes
		c.OfflineData.Source.DvrWindowMinutes = &v
	}
	return c
}

// CloneList returns a deep copy of a download list
func CloneList(items []DownloadItem) []DownloadItem {
	out := make([]DownloadItem, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// NewItemFromRequest builds the row for a first-time download request
func NewItemFromRequest(req NewDownloadItem, userID string, isBinary bool) DownloadItem {
	return DownloadItem{
		Media: req.Media,
		OfflineData: OfflineData{
			SessionIDs: []string{userID},
			Source:     req.OfflineData.Source,
			State:      StateRestart,
			Drm:        req.OfflineData.Drm,
			IsBinary:   isBinary,
		},
	}
}

// IsBinarySource decides which backend serves a source. Only android hands
// plain mp3 files to the binary engine.
func IsBinarySource(platform Platform, source Source) bool {
	return platform == PlatformAndroid && source.DrmScheme == BinaryScheme
}

// BinaryFilePath returns the on-device destination of a binary download
func BinaryFilePath(dir string, source Source) string {
	return filepath.Join(dir, source.ID+"."+BinaryScheme)
}

// ApplyRecovery forces every unfinished item back to RESTART on platforms where
// in-flight downloads do not survive a process kill
func ApplyRecovery(platform Platform, items []DownloadItem) []DownloadItem {
	if platform != PlatformIOS {
		return items
	}
	for i := range items {
		if items[i].OfflineData.State != StateCompleted {
			items[i].OfflineData.State = StateRestart
		}
	}
	return items
}

// DropRemoving removes rows persisted mid-removal
func DropRemoving(items []DownloadItem) ([]DownloadItem, int) {
	kept := items[:0]
	dropped := 0
	for _, item := range items {
		if item.OfflineData.State == StateRemoving {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	return kept, dropped
}

// FindBySrc returns the index of the item with the given uri, or -1
func FindBySrc(items []DownloadItem, uri string) int {
	for i := range items {
		if items[i].MatchesURI(uri) {
			return i
		}
	}
	return -1
}

// FindByID returns the index of the item with the given source id, or -1
func FindByID(items []DownloadItem, id string) int {
	if id == "" {
		return -1
	}
	for i := range items {
		if items[i].OfflineData.Source.ID == id {
			return i
		}
	}
	return -1
}

// FilterByUser returns the items requested by userID. An empty id returns everything.
func FilterByUser(items []DownloadItem, userID string) []DownloadItem {
	if userID == "" {
		return items
	}
	out := make([]DownloadItem, 0, len(items))
	for _, item := range items {
		if item.HasSession(userID) {
			out = append(out, item)
		}
	}
	return out
}

// CountPending counts unfinished items owned by userID
func CountPending(items []DownloadItem, userID string) int {
	pending := 0
	for i := range items {
		if items[i].HasSession(userID) && items[i].IsPending() {
			pending++
		}
	}
	return pending
}

// EncodeURI escapes a uri the way a browser would before sending it
func EncodeURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.String()
}
