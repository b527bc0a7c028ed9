package models

import "time"

// AppointmentCount is the booked-slot total for one branch on one local date.
type AppointmentCount struct {
	Branch    string    `gorm:"primaryKey;type:varchar(16)" json:"branch"`
	Date      string    `gorm:"primaryKey;type:char(10)" json:"date"`
	Slots     int       `gorm:"not null" json:"slots"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (AppointmentCount) TableName() string {
	return "appointment_count_cache"
}
