package models

import "time"

// SlotMismatch reports a roster whose slot count differs between the two systems.
type SlotMismatch struct {
	Branch         string `json:"branch"`
	BranchName     string `json:"branchName"`
	Date           string `json:"date"`
	IdentityID     int    `json:"optomId"`
	Name           string `json:"name"`
	RosterSlots    int    `json:"employmentHeroSlots"`
	SchedulerSlots int    `json:"optomateSlots"`
}

// AppointmentConflict reports a deactivation held back by a booked appointment.
type AppointmentConflict struct {
	Branch     string     `json:"branch"`
	BranchName string     `json:"branchName"`
	Date       string     `json:"date"`
	IdentityID int        `json:"optomId"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    time.Time  `json:"endTime"`
	ChangeType ChangeType `json:"changeType"`
}

// OccupancyRow is one branch line of the occupancy report.
type OccupancyRow struct {
	StoreName        string  `json:"storeName"`
	LocationID       int     `json:"locationId"`
	Branch           string  `json:"branch"`
	State            string  `json:"state"`
	SlotCount        int     `json:"slotCount"`
	AppointmentCount int     `json:"appointmentCount"`
	OccupancyRate    float64 `json:"occupancyRate"`
}
