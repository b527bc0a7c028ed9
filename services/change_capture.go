package services

import (
	"time"

	"github.com/yeremiapane/roster-sync/models"
	"gorm.io/gorm"
)

// suppressKey marks a gorm session whose writes are not captured.
const suppressKey = "roster_sync:capture_suppressed"

// Capture writes change records for roster mutations. Writes go through the
// caller's transaction so records commit or roll back with the mutation.
type Capture struct {
	now func() time.Time
}

func NewCapture() *Capture {
	return &Capture{now: time.Now}
}

// Suppressed returns a session of db on which roster writes produce no change
// records. The marker lives on that session and on transactions begun from
// it; other sessions keep recording.
func Suppressed(db *gorm.DB) *gorm.DB {
	return db.Set(suppressKey, true).Session(&gorm.Session{})
}

// Recording reports whether writes through db are captured.
func Recording(db *gorm.DB) bool {
	v, ok := db.Get(suppressKey)
	if !ok {
		return true
	}
	off, _ := v.(bool)
	return !off
}

// TrackedChanged reports whether any business-relevant field differs.
func TrackedChanged(old, cur *models.ShiftEntry) bool {
	return old.EmployeeID != cur.EmployeeID ||
		old.FirstName != cur.FirstName ||
		old.LastName != cur.LastName ||
		old.LocationID != cur.LocationID ||
		!old.StartTime.Equal(cur.StartTime) ||
		!old.EndTime.Equal(cur.EndTime)
}

func changeWindow(diff models.DiffSummary) (time.Time, time.Time) {
	var start, end time.Time
	for _, s := range []*models.ShiftSnapshot{diff.Old, diff.New} {
		if s == nil {
			continue
		}
		if start.IsZero() || s.StartTime.Before(start) {
			start = s.StartTime
		}
		if end.IsZero() || s.EndTime.After(end) {
			end = s.EndTime
		}
	}
	return start, end
}

func (c *Capture) record(tx *gorm.DB, rosterID int64, kind models.ChangeType, diff models.DiffSummary) error {
	if !Recording(tx) {
		return nil
	}
	start, end := changeWindow(diff)
	rec := models.ChangeRecord{
		RosterID:    rosterID,
		ChangeType:  kind,
		DetectedAt:  c.now().UTC(),
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
		Diff:        diff,
	}
	return tx.Create(&rec).Error
}

func (c *Capture) Inserted(tx *gorm.DB, cur *models.ShiftEntry) error {
	return c.record(tx, cur.ID, models.ChangeInserted, models.DiffSummary{New: cur.Snapshot()})
}

// Changed records an update when a tracked field differs. It returns whether
// a record was due.
func (c *Capture) Changed(tx *gorm.DB, old, cur *models.ShiftEntry) (bool, error) {
	if !TrackedChanged(old, cur) {
		return false, nil
	}
	return true, c.record(tx, cur.ID, models.ChangeChanged, models.DiffSummary{Old: old.Snapshot(), New: cur.Snapshot()})
}

func (c *Capture) Deleted(tx *gorm.DB, old *models.ShiftEntry) error {
	return c.record(tx, old.ID, models.ChangeDeleted, models.DiffSummary{Old: old.Snapshot()})
}
