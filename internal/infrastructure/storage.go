package infrastructure

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// DownloadStorage reads and writes the serialized download list
type DownloadStorage struct {
	store  domain.KeyValueStore
	logger *zap.Logger

	mu          sync.Mutex
	lastVersion uint64
}

// NewDownloadStorage creates a new download storage on top of a key/value store
func NewDownloadStorage(store domain.KeyValueStore, logger *zap.Logger) *DownloadStorage {
	return &DownloadStorage{
		store:  store,
		logger: logger,
	}
}

// Read returns the persisted list. A missing, unreadable or malformed value
// yields an empty list.
func (s *DownloadStorage) Read(ctx context.Context) []domain.DownloadItem {
	raw, found, err := s.store.Get(ctx, domain.StorageKey)
	if err != nil {
		s.logger.Warn("Failed to read downloads list, starting empty",
			zap.Error(&domain.StorageError{Operation: "read", Key: domain.StorageKey, Err: err}))
		return []domain.DownloadItem{}
	}
	if !found || raw == "" {
		return []domain.DownloadItem{}
	}

	var items []domain.DownloadItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Warn("Malformed downloads list, starting empty", zap.Error(err))
		return []domain.DownloadItem{}
	}
	if items == nil {
		return []domain.DownloadItem{}
	}
	return items
}

// Save serializes and writes the full list
func (s *DownloadStorage) Save(ctx context.Context, items []domain.DownloadItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, items)
}

// SaveVersion writes the list unless a newer version was already written.
// It reports whether the write happened.
func (s *DownloadStorage) SaveVersion(ctx context.Context, version uint64, items []domain.DownloadItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version <= s.lastVersion {
		s.logger.Debug("Skipping stale downloads write",
			zap.Uint64("version", version),
			zap.Uint64("last_version", s.lastVersion))
		return false, nil
	}
	if err := s.write(ctx, items); err != nil {
		return false, err
	}
	s.lastVersion = version
	return true, nil
}

func (s *DownloadStorage) write(ctx context.Context, items []domain.DownloadItem) error {
	if items == nil {
		items = []domain.DownloadItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return &domain.StorageError{Operation: "encode", Key: domain.StorageKey, Err: err}
	}
	if err := s.store.Set(ctx, domain.StorageKey, string(data)); err != nil {
		return &domain.StorageError{Operation: "write", Key: domain.StorageKey, Err: err}
	}
	return nil
}

// ReadLegacy returns the rows stored under the previous schema key, nil when absent
func (s *DownloadStorage) ReadLegacy(ctx context.Context) ([]domain.LegacyItem, error) {
	raw, found, err := s.store.Get(ctx, domain.LegacyStorageKey)
	if err != nil {
		return nil, &domain.StorageError{Operation: "read", Key: domain.LegacyStorageKey, Err: err}
	}
	if !found || raw == "" {
		return nil, nil
	}

	var items []domain.LegacyItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, &domain.StorageError{Operation: "decode", Key: domain.LegacyStorageKey, Err: err}
	}
	return items, nil
}

// DeleteLegacy removes the previous schema key
func (s *DownloadStorage) DeleteLegacy(ctx context.Context) error {
	if err := s.store.Delete(ctx, domain.LegacyStorageKey); err != nil {
		return &domain.StorageError{Operation: "delete", Key: domain.LegacyStorageKey, Err: err}
	}
	return nil
}
