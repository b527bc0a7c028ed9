package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/config"
	"github.com/yeremiapane/roster-sync/database"
	"github.com/yeremiapane/roster-sync/models"
	"github.com/yeremiapane/roster-sync/utils"
	"gorm.io/gorm"
)

const (
	hurstville = 78501
	parramatta = 78502
	boxHill    = 78511
)

var sydney, _ = time.LoadLocation("Australia/Sydney")

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	utils.InitLogger()
	db, err := database.Open(&config.Config{DBDriver: "sqlite", DBDSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestEngine(t *testing.T) (*SyncEngine, *gorm.DB) {
	db := setupTestDB(t)
	return NewSyncEngine(db, NewCapture(), branches.Default(), 90, sydney), db
}

func noSleep(context.Context, time.Duration) error { return nil }

// shift builds a 9:00 to 18:15 shift on the given Sydney date.
func shift(id int64, location int, date string) models.ShiftEntry {
	day, _ := utils.ParseDate(date, sydney)
	return models.ShiftEntry{
		ID:         id,
		EmployeeID: 1000 + id,
		FirstName:  "Jane",
		LastName:   "Citizen",
		LocationID: location,
		StartTime:  day.Add(9 * time.Hour),
		EndTime:    day.Add(18*time.Hour + 15*time.Minute),
		Email:      "jane@example.com",
	}
}

func scopeFor(from, to string, locations ...int) Scope {
	start, _ := utils.ParseDate(from, sydney)
	end, _ := utils.ParseDate(to, sydney)
	return Scope{Start: start, End: utils.AddDays(end, 1), LocationIDs: locations}
}

func pendingRecords(t *testing.T, db *gorm.DB) []models.ChangeRecord {
	t.Helper()
	var recs []models.ChangeRecord
	require.NoError(t, db.Order("id").Find(&recs).Error)
	return recs
}

func clearRecords(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Where("1 = 1").Delete(&models.ChangeRecord{}).Error)
}
