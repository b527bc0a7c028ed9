package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/models"
	"github.com/yeremiapane/roster-sync/slots"
	"github.com/yeremiapane/roster-sync/utils"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUnknownBranch = errors.New("unknown branch")
	ErrNotPastDate   = errors.New("date is not in the past")
)

// AppointmentCounter keeps booked-slot totals per branch and day. Only days
// before today are stored; today and later are still filling up.
type AppointmentCounter struct {
	DB         *gorm.DB
	API        AppointmentAPI
	Directory  *branches.Directory
	Reference  *time.Location
	GroupSize  int
	GroupDelay time.Duration
	Sleep      SleepFunc
	now        func() time.Time
}

func NewAppointmentCounter(db *gorm.DB, api AppointmentAPI, dir *branches.Directory, ref *time.Location) *AppointmentCounter {
	return &AppointmentCounter{
		DB:         db,
		API:        api,
		Directory:  dir,
		Reference:  ref,
		GroupSize:  3,
		GroupDelay: 200 * time.Millisecond,
		Sleep:      clients.SleepContext,
		now:        time.Now,
	}
}

func (c *AppointmentCounter) today() string {
	return utils.DateOnly(c.now(), c.Reference).Format(utils.DateLayout)
}

// Yesterday is the most recent complete day in the reference zone.
func (c *AppointmentCounter) Yesterday() string {
	return utils.AddDays(utils.DateOnly(c.now(), c.Reference), -1).Format(utils.DateLayout)
}

// IsPast reports whether date is before today in the reference zone.
func (c *AppointmentCounter) IsPast(date string) bool {
	return date < c.today()
}

// Count returns the stored total for a past day, computing it when missing or
// when force is set. Today and future days report 0.
func (c *AppointmentCounter) Count(ctx context.Context, branch, date string, force bool) (int, error) {
	if _, err := utils.ParseDate(date, c.Reference); err != nil {
		return 0, err
	}
	if !c.IsPast(date) {
		return 0, nil
	}
	if !force {
		var row models.AppointmentCount
		err := c.DB.WithContext(ctx).Where("branch = ? AND date = ?", branch, date).Take(&row).Error
		if err == nil {
			return row.Slots, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("read appointment count: %w", err)
		}
	}
	return c.Refresh(ctx, branch, date)
}

// Refresh recomputes and stores the total for one past day. Each appointment
// rounds up to whole slots on its own.
func (c *AppointmentCounter) Refresh(ctx context.Context, branch, date string) (int, error) {
	if _, ok := c.Directory.ByCode(branch); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	if _, err := utils.ParseDate(date, c.Reference); err != nil {
		return 0, err
	}
	if !c.IsPast(date) {
		return 0, fmt.Errorf("%w: %s", ErrNotPastDate, date)
	}

	total, err := c.LiveSlots(ctx, branch, date)
	if err != nil {
		return 0, err
	}

	row := models.AppointmentCount{Branch: branch, Date: date, Slots: total}
	err = c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "branch"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"slots", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return 0, fmt.Errorf("store appointment count: %w", err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"branch": branch,
		"date":   date,
		"slots":  total,
	}).Info("Appointment count refreshed")
	return total, nil
}

// CountBatch counts several branches in small concurrent groups. A branch
// that fails reports 0 without affecting the others.
func (c *AppointmentCounter) CountBatch(ctx context.Context, branchCodes []string, date string, force bool) map[string]int {
	return c.batch(ctx, branchCodes, func(ctx context.Context, branch string) (int, error) {
		return c.Count(ctx, branch, date, force)
	})
}

// RefreshBatch is CountBatch with every total recomputed.
func (c *AppointmentCounter) RefreshBatch(ctx context.Context, branchCodes []string, date string) map[string]int {
	return c.batch(ctx, branchCodes, func(ctx context.Context, branch string) (int, error) {
		return c.Refresh(ctx, branch, date)
	})
}

func (c *AppointmentCounter) batch(ctx context.Context, branchCodes []string, fn func(context.Context, string) (int, error)) map[string]int {
	results := make(map[string]int, len(branchCodes))
	var mu sync.Mutex
	size := c.GroupSize
	if size <= 0 {
		size = 3
	}

	for start := 0; start < len(branchCodes); start += size {
		if start > 0 {
			if err := c.Sleep(ctx, c.GroupDelay); err != nil {
				break
			}
		}
		end := min(start+size, len(branchCodes))

		var g errgroup.Group
		for _, branch := range branchCodes[start:end] {
			g.Go(func() error {
				n, err := fn(ctx, branch)
				if err != nil {
					utils.ErrorLogger.WithError(err).WithField("branch", branch).Error("appointment count failed")
					n = 0
				}
				mu.Lock()
				results[branch] = n
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	// branches skipped by a cancelled context still report 0
	for _, b := range branchCodes {
		if _, ok := results[b]; !ok {
			results[b] = 0
		}
	}
	return results
}

// LiveSlots computes the booked-slot total of any day without storing it.
func (c *AppointmentCounter) LiveSlots(ctx context.Context, branch, date string) (int, error) {
	b, ok := c.Directory.ByCode(branch)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	day, err := utils.ParseDate(date, b.Location())
	if err != nil {
		return 0, err
	}
	appts, err := c.API.ListAppointments(ctx, branch, day, utils.AddDays(day, 1))
	if err != nil {
		return 0, fmt.Errorf("list appointments %s %s: %w", branch, date, err)
	}
	total := 0
	for _, a := range appts {
		total += slots.ForAppointment(a.Minutes())
	}
	return total, nil
}

// Booked returns the number of booked appointments on a day, live.
func (c *AppointmentCounter) Booked(ctx context.Context, branch, date string) (int, error) {
	b, ok := c.Directory.ByCode(branch)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	day, err := utils.ParseDate(date, b.Location())
	if err != nil {
		return 0, err
	}
	return c.API.CountAppointments(ctx, branch, day, utils.AddDays(day, 1))
}

// MaxSyncDays bounds one SyncDays call.
const MaxSyncDays = 31

// SyncDays recomputes every branch for each day of the inclusive window,
// which must lie entirely in the past.
func (c *AppointmentCounter) SyncDays(ctx context.Context, from, to string) (map[string]map[string]int, error) {
	window := RefreshRequest{From: from, To: to}
	start, end, err := window.Window(c.Reference)
	if err != nil {
		return nil, err
	}
	if window.Days() > MaxSyncDays {
		return nil, fmt.Errorf("%w: at most %d days per sync", ErrInvalidWindow, MaxSyncDays)
	}
	if !c.IsPast(to) {
		return nil, fmt.Errorf("%w: %s", ErrNotPastDate, to)
	}

	codes := c.Directory.Codes()
	out := make(map[string]map[string]int)
	for day := start; !day.After(end); day = utils.AddDays(day, 1) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		date := day.Format(utils.DateLayout)
		out[date] = c.RefreshBatch(ctx, codes, date)
	}
	return out, nil
}
