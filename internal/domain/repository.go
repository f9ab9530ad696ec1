package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Persisted keys of the download list
const (
	StorageKey       = "off_downloads_v2"
	LegacyStorageKey = "off_downloads"
)

// KeyValueStore defines the durable key/value contract the download list is stored in
type KeyValueStore interface {
	// Get returns the value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)

	// Set creates or replaces the value
	Set(ctx context.Context, key, value string) error

	// Delete removes the key, deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

// LegacyItem is one row of the previous schema: flat media fields next to offlineData
type LegacyItem map[string]json.RawMessage

// LegacyOfflineData is the offlineData object of the previous schema
type LegacyOfflineData struct {
	Profiles []string        `json:"profiles"`
	Source   Source          `json:"source"`
	State    DownloadState   `json:"state"`
	Drm      json.RawMessage `json:"drm,omitempty"`
	Percent  float64         `json:"percent,omitempty"`
}

// Legacy fields that never end up in media
const (
	legacyOfflineDataField = "offlineData"
	legacyThemeField       = "theme"
)

// OfflineData decodes the offlineData field
func (l LegacyItem) OfflineData() (LegacyOfflineData, error) {
	var data LegacyOfflineData
	raw, ok := l[legacyOfflineDataField]
	if !ok {
		return data, fmt.Errorf("legacy item has no offlineData")
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("failed to decode legacy offlineData: %w", err)
	}
	return data, nil
}

// Media collects all top-level fields except offlineData and theme
func (l LegacyItem) Media() (json.RawMessage, error) {
	media := make(map[string]json.RawMessage, len(l))
	for k, v := range l {
		if k == legacyOfflineDataField || k == legacyThemeField {
			continue
		}
		media[k] = v
	}
	data, err := json.Marshal(media)
	if err != nil {
		return nil, fmt.Errorf("failed to encode legacy media: %w", err)
	}
	return data, nil
}
