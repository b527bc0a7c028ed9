package services

import (
	"context"
	"math"

	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/models"
	"github.com/yeremiapane/roster-sync/slots"
	"github.com/yeremiapane/roster-sync/utils"
	"gorm.io/gorm"
)

// OccupancyReporter compares rostered slots with booked slots per branch.
type OccupancyReporter struct {
	DB        *gorm.DB
	Directory *branches.Directory
	Counter   *AppointmentCounter
}

func NewOccupancyReporter(db *gorm.DB, dir *branches.Directory, counter *AppointmentCounter) *OccupancyReporter {
	return &OccupancyReporter{DB: db, Directory: dir, Counter: counter}
}

// OccupancyRate is booked/rostered as a percentage rounded to 2 places.
func OccupancyRate(booked, rostered int) float64 {
	if rostered <= 0 {
		return 0
	}
	return math.Round(float64(booked)/float64(rostered)*10000) / 100
}

// RosterSlots sums the slots of every stored shift at the branch that starts
// on date in branch time.
func (o *OccupancyReporter) RosterSlots(ctx context.Context, b branches.Branch, date string) (int, error) {
	day, err := utils.ParseDate(date, b.Location())
	if err != nil {
		return 0, err
	}
	var shifts []models.ShiftEntry
	err = o.DB.WithContext(ctx).
		Where("location_id = ? AND start_time >= ? AND start_time < ?", b.LocationID, day.UTC(), utils.AddDays(day, 1).UTC()).
		Find(&shifts).Error
	if err != nil {
		return 0, err
	}
	total := 0
	for _, s := range shifts {
		if m := s.Minutes(); m > 0 {
			total += slots.ForShift(m)
		}
	}
	return total, nil
}

// Report builds one row per branch. Past days use stored appointment totals,
// today and later are computed live.
func (o *OccupancyReporter) Report(ctx context.Context, date string) ([]models.OccupancyRow, error) {
	if _, err := utils.ParseDate(date, o.Counter.Reference); err != nil {
		return nil, err
	}
	all := o.Directory.All()
	codes := make([]string, 0, len(all))
	for _, b := range all {
		codes = append(codes, b.Code)
	}

	var booked map[string]int
	if o.Counter.IsPast(date) {
		booked = o.Counter.CountBatch(ctx, codes, date, false)
	} else {
		booked = o.Counter.batch(ctx, codes, func(ctx context.Context, branch string) (int, error) {
			return o.Counter.LiveSlots(ctx, branch, date)
		})
	}

	rows := make([]models.OccupancyRow, 0, len(all))
	for _, b := range all {
		rostered, err := o.RosterSlots(ctx, b, date)
		if err != nil {
			return nil, err
		}
		rows = append(rows, models.OccupancyRow{
			StoreName:        b.Name,
			LocationID:       b.LocationID,
			Branch:           b.Code,
			State:            b.State,
			SlotCount:        rostered,
			AppointmentCount: booked[b.Code],
			OccupancyRate:    OccupancyRate(booked[b.Code], rostered),
		})
	}
	return rows, nil
}
