package models

import (
	"time"
)

// ShiftEntry is a published shift mirrored from the workforce system.
type ShiftEntry struct {
	ID           int64        `gorm:"primaryKey;autoIncrement:false" json:"id"`
	EmployeeID   int64        `gorm:"index" json:"employeeId"`
	FirstName    string       `gorm:"type:varchar(100)" json:"firstName"`
	LastName     string       `gorm:"type:varchar(100)" json:"lastName"`
	LocationID   int          `gorm:"not null;index:idx_roster_location_start,priority:1" json:"locationId"`
	LocationName string       `gorm:"type:varchar(100)" json:"locationName"`
	StartTime    time.Time    `gorm:"not null;index:idx_roster_location_start,priority:2" json:"startTime"`
	EndTime      time.Time    `gorm:"not null" json:"endTime"`
	Email        string       `gorm:"type:varchar(255)" json:"email"`
	IsLocum      bool         `gorm:"default:false" json:"isLocum"`
	Breaks       []BreakEntry `gorm:"foreignKey:ShiftID" json:"breaks"`
	CreatedAt    time.Time    `json:"-"`
	UpdatedAt    time.Time    `json:"-"`
}

func (ShiftEntry) TableName() string {
	return "roster_shifts"
}

// Snapshot copies the tracked and contextual fields of the shift.
func (s ShiftEntry) Snapshot() *ShiftSnapshot {
	return &ShiftSnapshot{
		ID:           s.ID,
		EmployeeID:   s.EmployeeID,
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		LocationID:   s.LocationID,
		LocationName: s.LocationName,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Email:        s.Email,
		IsLocum:      s.IsLocum,
	}
}

// Minutes is the shift length in whole minutes.
func (s ShiftEntry) Minutes() int {
	return int(s.EndTime.Sub(s.StartTime) / time.Minute)
}

// BreakEntry belongs to exactly one ShiftEntry.
type BreakEntry struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ShiftID     int64     `gorm:"not null;index" json:"rosterId"`
	StartTime   time.Time `gorm:"not null" json:"startTime"`
	EndTime     time.Time `gorm:"not null" json:"endTime"`
	IsPaidBreak bool      `gorm:"default:false" json:"isPaidBreak"`
}

func (BreakEntry) TableName() string {
	return "roster_breaks"
}
