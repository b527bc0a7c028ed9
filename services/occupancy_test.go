package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/models"
)

func TestOccupancyRate(t *testing.T) {
	assert.Equal(t, 0.0, OccupancyRate(5, 0))
	assert.Equal(t, 50.0, OccupancyRate(17, 34))
	assert.Equal(t, 33.33, OccupancyRate(1, 3))
	assert.Equal(t, 66.67, OccupancyRate(2, 3))
}

func TestOccupancyReport(t *testing.T) {
	engine, db := newTestEngine(t)
	api := newFakeScheduler()
	counter := NewAppointmentCounter(db, api, branches.Default(), sydney)
	counter.Sleep = noSleep
	counter.now = func() time.Time { return time.Date(2030, 3, 10, 12, 0, 0, 0, sydney) }
	reporter := NewOccupancyReporter(db, branches.Default(), counter)
	ctx := context.Background()

	_, err := engine.Apply(ctx, []models.ShiftEntry{
		shift(1, hurstville, "2030-03-04"),
		shift(2, hurstville, "2030-03-04"),
		shift(3, hurstville, "2030-03-05"),
	}, Scope{})
	require.NoError(t, err)

	day := time.Date(2030, 3, 4, 0, 0, 0, 0, sydney)
	api.appointments["HUR"] = []clients.Appointment{appt(day, 9, 30), appt(day, 10, 60), appt(day, 14, 30), appt(day, 15, 30), appt(day, 16, 30), appt(day, 17, 30), appt(day, 11, 60), appt(day, 12, 60), appt(day, 13, 60), appt(day, 9, 120), appt(day, 11, 120), appt(day, 13, 120), appt(day, 15, 90)}

	rows, err := reporter.Report(ctx, "2030-03-04")
	require.NoError(t, err)
	require.Len(t, rows, len(branches.Default().All()))

	var hur models.OccupancyRow
	for _, r := range rows {
		if r.Branch == "HUR" {
			hur = r
		} else {
			assert.Zero(t, r.SlotCount)
			assert.Zero(t, r.OccupancyRate)
		}
	}
	assert.Equal(t, 34, hur.SlotCount)
	assert.Equal(t, 28, hur.AppointmentCount)
	assert.Equal(t, 82.35, hur.OccupancyRate)
	assert.Equal(t, "Hurstville", hur.StoreName)

	// stored for the next report
	var stored models.AppointmentCount
	require.NoError(t, db.Where("branch = ? AND date = ?", "HUR", "2030-03-04").Take(&stored).Error)
	assert.Equal(t, 28, stored.Slots)
}
