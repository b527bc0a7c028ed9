package cache

import (
	"context"
	"errors"
	"time"

	"github.com/yeremiapane/roster-sync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists entries of one namespace in the cache_entries table.
type GormStore struct {
	DB        *gorm.DB
	Namespace string
}

func NewGormStore(db *gorm.DB, namespace string) *GormStore {
	return &GormStore{DB: db, Namespace: namespace}
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	var entry models.CacheEntry
	err := s.DB.WithContext(ctx).
		Where("namespace = ? AND `key` = ?", s.Namespace, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return []byte(entry.Value), entry.UpdatedAt, true, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value []byte, storedAt time.Time) error {
	entry := models.CacheEntry{
		Namespace: s.Namespace,
		Key:       key,
		Value:     string(value),
		UpdatedAt: storedAt.UTC(),
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.DB.WithContext(ctx).
		Where("namespace = ? AND `key` = ?", s.Namespace, key).
		Delete(&models.CacheEntry{}).Error
}
