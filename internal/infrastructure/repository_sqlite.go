package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/offline-downloads-go/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvEntry is one row of the key/value table
type kvEntry struct {
	Key       string `gorm:"primaryKey;column:entry_key"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (kvEntry) TableName() string {
	return "kv_entries"
}

// SQLiteKeyValueStore implements KeyValueStore using SQLite
type SQLiteKeyValueStore struct {
	db *gorm.DB
}

var _ domain.KeyValueStore = (*SQLiteKeyValueStore)(nil)

// NewSQLiteKeyValueStore creates a new SQLite key/value store
func NewSQLiteKeyValueStore(dbPath string) (*SQLiteKeyValueStore, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteKeyValueStore{db: db}, nil
}

// Get returns the value stored under key
func (s *SQLiteKeyValueStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).First(&entry, "entry_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

// Set creates or replaces the value stored under key
func (s *SQLiteKeyValueStore) Set(ctx context.Context, key, value string) error {
	entry := kvEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

// Delete removes key
func (s *SQLiteKeyValueStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&kvEntry{}, "entry_key = ?", key).Error
}

// Keys lists every stored key
func (s *SQLiteKeyValueStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&kvEntry{}).Order("entry_key ASC").Pluck("entry_key", &keys).Error
	return keys, err
}

// Close closes the database connection
func (s *SQLiteKeyValueStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
