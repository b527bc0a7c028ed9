package models

import "time"

// CacheEntry is a persisted value for the TTL caches.
type CacheEntry struct {
	Namespace string    `gorm:"primaryKey;type:varchar(32)"`
	Key       string    `gorm:"primaryKey;type:varchar(191)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

func (CacheEntry) TableName() string {
	return "cache_entries"
}
