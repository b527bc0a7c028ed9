package models

import (
	"time"
)

type ChangeType string

const (
	ChangeInserted ChangeType = "inserted"
	ChangeChanged  ChangeType = "changed"
	ChangeDeleted  ChangeType = "deleted"
)

// ShiftSnapshot is the state of a shift as recorded in a change diff.
type ShiftSnapshot struct {
	ID           int64     `json:"id"`
	EmployeeID   int64     `json:"employeeId"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	LocationID   int       `json:"locationId"`
	LocationName string    `json:"locationName"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	Email        string    `json:"email,omitempty"`
	IsLocum      bool      `json:"isLocum"`
}

// DiffSummary holds the before and after snapshots of one mutation.
type DiffSummary struct {
	Old *ShiftSnapshot `json:"old,omitempty"`
	New *ShiftSnapshot `json:"new,omitempty"`
}

// Locations lists the locations on either side of the change.
func (d DiffSummary) Locations() []int {
	var ids []int
	if d.Old != nil {
		ids = append(ids, d.Old.LocationID)
	}
	if d.New != nil && (d.Old == nil || d.New.LocationID != d.Old.LocationID) {
		ids = append(ids, d.New.LocationID)
	}
	return ids
}

// ChangeRecord is one pending unit of propagation work.
type ChangeRecord struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	RosterID    int64       `gorm:"not null;index" json:"rosterId"`
	ChangeType  ChangeType  `gorm:"type:varchar(16);not null;index" json:"changeType"`
	DetectedAt  time.Time   `gorm:"not null" json:"detectedAt"`
	WindowStart time.Time   `gorm:"not null" json:"windowStart"`
	WindowEnd   time.Time   `gorm:"not null" json:"windowEnd"`
	Diff        DiffSummary `gorm:"type:text;serializer:json" json:"diffSummary"`
}

func (ChangeRecord) TableName() string {
	return "roster_change_log"
}
