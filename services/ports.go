package services

import (
	"context"
	"time"

	"github.com/yeremiapane/roster-sync/clients"
)

// WorkforceAPI is the roster source.
type WorkforceAPI interface {
	ListShifts(ctx context.Context, from, to time.Time, locationIDs []int) ([]clients.WorkforceShift, error)
	GetEmployee(ctx context.Context, id int64) (*clients.Employee, error)
}

// AccountAPI finds and creates practitioner accounts in the scheduling system.
type AccountAPI interface {
	SearchByExternalID(ctx context.Context, externalID string) (*clients.Identity, error)
	SearchByEmail(ctx context.Context, email string) (*clients.Identity, error)
	SearchByName(ctx context.Context, firstName, lastName string) (*clients.Identity, error)
	CreateIdentity(ctx context.Context, in clients.NewIdentity) (int, error)
	UpdateIdentity(ctx context.Context, identityID int, externalUserID, email string) error
	AddWorkHistory(ctx context.Context, identityID int, branch string) error
	CountIdentifiers(ctx context.Context, prefix string) (int, error)
}

// AvailabilityAPI changes and inspects practitioner availability.
type AvailabilityAPI interface {
	PostAdjust(ctx context.Context, identityID int, adj clients.Adjustment) error
	HasAppointment(ctx context.Context, identityID int, branch string, from, to time.Time) (bool, error)
	ListAdjustments(ctx context.Context, identityID int, branch string, from, to time.Time) ([]clients.AdjustEntry, error)
}

// AppointmentAPI reads booked appointments per branch.
type AppointmentAPI interface {
	ListAppointments(ctx context.Context, branch string, from, to time.Time) ([]clients.Appointment, error)
	CountAppointments(ctx context.Context, branch string, from, to time.Time) (int, error)
}

var (
	_ WorkforceAPI    = (*clients.WorkforceClient)(nil)
	_ AccountAPI      = (*clients.SchedulingClient)(nil)
	_ AvailabilityAPI = (*clients.SchedulingClient)(nil)
	_ AppointmentAPI  = (*clients.SchedulingClient)(nil)
)

// SleepFunc waits for d unless ctx ends first.
type SleepFunc func(ctx context.Context, d time.Duration) error
