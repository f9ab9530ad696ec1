package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// LegacyStore reads and clears the previous schema of the download list
type LegacyStore interface {
	ReadLegacy(ctx context.Context) ([]domain.LegacyItem, error)
	DeleteLegacy(ctx context.Context) error
}

// Migrator moves rows of the previous schema into the current list
type Migrator struct {
	store    LegacyStore
	platform domain.Platform
	logger   *zap.Logger
}

var errNoSessions = errors.New("legacy download has no profiles")

// NewMigrator creates a new legacy migrator
func NewMigrator(store LegacyStore, platform domain.Platform, logger *zap.Logger) *Migrator {
	return &Migrator{
		store:    store,
		platform: platform,
		logger:   logger,
	}
}

// Migrate merges legacy rows into items and hands the result to save. The
// legacy key is deleted only after save succeeds. Failures are logged and
// leave items untouched. Converted rows get the same cleaning as the current
// list: mid-removal and ownerless rows are skipped, unfinished ones are
// recovered for the platform.
func (m *Migrator) Migrate(ctx context.Context, items []domain.DownloadItem, save func([]domain.DownloadItem) error) []domain.DownloadItem {
	legacy, err := m.store.ReadLegacy(ctx)
	if err != nil {
		m.logger.Warn("Failed to read legacy downloads", zap.Error(err))
		return items
	}
	if len(legacy) == 0 {
		return items
	}

	merged := domain.CloneList(items)
	converted := 0
	for _, old := range legacy {
		item, err := convertLegacy(old)
		if err != nil {
			m.logger.Warn("Skipping legacy download", zap.Error(err))
			continue
		}
		if item.OfflineData.State == domain.StateRemoving {
			m.logger.Info("Skipping legacy download persisted mid-removal", zap.String("uri", item.URI()))
			continue
		}
		item = domain.ApplyRecovery(m.platform, []domain.DownloadItem{item})[0]
		converted++

		if idx := domain.FindBySrc(merged, item.URI()); idx >= 0 {
			for _, id := range item.OfflineData.SessionIDs {
				merged[idx].AddSession(id)
			}
			continue
		}
		merged = append(merged, item)
	}

	if err := save(merged); err != nil {
		m.logger.Error("Failed to save migrated downloads, keeping legacy key", zap.Error(err))
		return merged
	}

	if err := m.store.DeleteLegacy(ctx); err != nil {
		m.logger.Warn("Failed to delete legacy downloads", zap.Error(err))
	}

	m.logger.Info("Migrated legacy downloads",
		zap.Int("legacy", len(legacy)),
		zap.Int("converted", converted),
		zap.Int("total", len(merged)))

	return merged
}

func convertLegacy(old domain.LegacyItem) (domain.DownloadItem, error) {
	data, err := old.OfflineData()
	if err != nil {
		return domain.DownloadItem{}, err
	}
	media, err := old.Media()
	if err != nil {
		return domain.DownloadItem{}, err
	}

	if len(data.Profiles) == 0 {
		return domain.DownloadItem{}, fmt.Errorf("%w: %s", errNoSessions, data.Source.URI)
	}
	sessions := append([]string{}, data.Profiles...)
	return domain.DownloadItem{
		Media: media,
		OfflineData: domain.OfflineData{
			SessionIDs: sessions,
			Source:     data.Source,
			State:      data.State,
			Drm:        data.Drm,
			Percent:    data.Percent,
		},
	}, nil
}
