package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/models"
	"github.com/yeremiapane/roster-sync/utils"
)

const (
	// ManualMaxDays bounds a hand-triggered refresh.
	ManualMaxDays = 21
	// SweepDays is how far ahead a store sweep reaches.
	SweepDays = 56
)

var (
	ErrInvalidWindow = errors.New("invalid date window")
	ErrInvalidRange  = errors.New("invalid range, expected today, weekly or monthly")
)

// RefreshRequest names an inclusive window of YYYY-MM-DD dates and an
// optional branch code. Without a branch every directory location is fetched.
type RefreshRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Branch string `json:"branch,omitempty"`
}

type RefreshResult struct {
	RunID   string              `json:"runId"`
	Shifts  []models.ShiftEntry `json:"data"`
	Applied ApplyResult         `json:"applied"`
	Pruned  int                 `json:"pruned"`
	Drain   *DrainReport        `json:"drain"`
}

// RosterRefresher runs one sync cycle: fetch, reconcile, propagate.
type RosterRefresher struct {
	Workforce          WorkforceAPI
	Employees          *EmployeeDirectory
	Engine             *SyncEngine
	Processor          *Processor
	Directory          *branches.Directory
	ExcludedWorkTypeID int
	Reference          *time.Location
	now                func() time.Time
}

func NewRosterRefresher(workforce WorkforceAPI, employees *EmployeeDirectory, engine *SyncEngine, processor *Processor, dir *branches.Directory, excludedWorkType int, ref *time.Location) *RosterRefresher {
	return &RosterRefresher{
		Workforce:          workforce,
		Employees:          employees,
		Engine:             engine,
		Processor:          processor,
		Directory:          dir,
		ExcludedWorkTypeID: excludedWorkType,
		Reference:          ref,
		now:                time.Now,
	}
}

// Today is the current date in the reference zone.
func (r *RosterRefresher) Today() time.Time {
	return utils.DateOnly(r.now(), r.Reference)
}

// RangeWindow expands a named range starting today.
func RangeWindow(name string, today time.Time) (from, to time.Time, err error) {
	switch name {
	case "today":
		return today, today, nil
	case "weekly":
		// through the Saturday ending next week
		next := utils.AddDays(today, 7)
		return today, utils.AddDays(next, int(time.Saturday-next.Weekday())), nil
	case "monthly":
		// through the last day of next month
		end := time.Date(today.Year(), today.Month()+2, 0, 0, 0, 0, 0, today.Location())
		return today, end, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidRange, name)
}

// Window validates a request and returns its first and last day in loc.
func (req RefreshRequest) Window(loc *time.Location) (time.Time, time.Time, error) {
	from, err := utils.ParseDate(req.From, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	to, err := utils.ParseDate(req.To, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from must not be after to", ErrInvalidWindow)
	}
	return from, to, nil
}

// Days is the inclusive length of the window.
func (req RefreshRequest) Days() int {
	from, to, err := req.Window(time.UTC)
	if err != nil {
		return 0
	}
	return int(to.Sub(from)/(24*time.Hour)) + 1
}

// Refresh fetches the window from the workforce system, reconciles the roster
// store with it, prunes old shifts and propagates the resulting changes for
// the synced locations.
func (r *RosterRefresher) Refresh(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	loc := r.Reference
	requested := r.Directory.LocationIDs()
	if req.Branch != "" {
		b, ok := r.Directory.ByCode(req.Branch)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBranch, req.Branch)
		}
		loc = b.Location()
		requested = []int{b.LocationID}
	}
	from, to, err := req.Window(loc)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{RunID: uuid.NewString()}
	log := utils.InfoLogger.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"from":   req.From,
		"to":     req.To,
		"branch": req.Branch,
	})
	log.Info("Roster refresh started")

	raw, err := r.Workforce.ListShifts(ctx, from, to, requested)
	if err != nil {
		return nil, fmt.Errorf("fetch shifts: %w", err)
	}

	var ids []int64
	for _, s := range raw {
		if s.EmployeeID != 0 {
			ids = append(ids, s.EmployeeID)
		}
	}
	employees := r.Employees.Lookup(ctx, ids)

	result.Shifts = make([]models.ShiftEntry, 0, len(raw))
	for _, ws := range raw {
		info, known := employees[ws.EmployeeID]
		s, ok := r.convert(ws, info, known)
		if ok {
			result.Shifts = append(result.Shifts, s)
		}
	}
	log.WithFields(logrus.Fields{"fetched": len(raw), "converted": len(result.Shifts)}).Info("Shifts converted")

	scope := Scope{Start: from, End: utils.AddDays(to, 1), LocationIDs: r.scopeLocations(req.Branch, result.Shifts)}
	result.Applied, err = r.Engine.Apply(ctx, result.Shifts, scope)
	if err != nil {
		return nil, err
	}

	result.Pruned, err = r.Engine.PruneRetention(ctx)
	if err != nil {
		utils.ErrorLogger.WithError(err).WithField("run_id", result.RunID).Error("retention prune failed")
	}

	result.Drain, err = r.Processor.Drain(ctx, scope.LocationIDs)
	if err != nil {
		return result, fmt.Errorf("propagate changes: %w", err)
	}
	log.WithFields(logrus.Fields{
		"cleared":   result.Drain.Cleared,
		"retained":  result.Drain.Retained,
		"conflicts": len(result.Drain.Conflicts),
	}).Info("Roster refresh finished")
	return result, nil
}

// scopeLocations is the requested branch, or else every location the data
// mentions. An empty result disables deletion for the run.
func (r *RosterRefresher) scopeLocations(branch string, shifts []models.ShiftEntry) []int {
	if branch != "" {
		if b, ok := r.Directory.ByCode(branch); ok {
			return []int{b.LocationID}
		}
	}
	seen := map[int]struct{}{}
	var ids []int
	for _, s := range shifts {
		if _, dup := seen[s.LocationID]; !dup {
			seen[s.LocationID] = struct{}{}
			ids = append(ids, s.LocationID)
		}
	}
	sort.Ints(ids)
	return ids
}

// convert turns a workforce shift into a roster entry. Shifts of the excluded
// work type, at unknown locations, or without a usable name are dropped.
func (r *RosterRefresher) convert(ws clients.WorkforceShift, info EmployeeInfo, known bool) (models.ShiftEntry, bool) {
	log := utils.InfoLogger.WithField("shift_id", ws.ID)
	if ws.WorkTypeID != nil && *ws.WorkTypeID == r.ExcludedWorkTypeID {
		return models.ShiftEntry{}, false
	}
	if ws.EmployeeID == 0 || ws.EmployeeName == "" {
		return models.ShiftEntry{}, false
	}
	b, ok := r.Directory.ByLocation(ws.LocationID)
	if !ok {
		log.WithField("location_id", ws.LocationID).Warn("shift at unknown location dropped")
		return models.ShiftEntry{}, false
	}

	first, last, email := info.FirstName, info.LastName, info.Email
	if !known {
		parts := strings.Fields(ws.EmployeeName)
		if len(parts) < 2 {
			log.WithField("employee_name", ws.EmployeeName).Warn("cannot split employee name, shift dropped")
			return models.ShiftEntry{}, false
		}
		first, last, email = parts[0], strings.Join(parts[1:], " "), ""
	}
	first, kind, _ := strings.Cut(first, "_")

	loc := b.Location()
	start, err1 := parseShiftTime(ws.StartTime, loc)
	end, err2 := parseShiftTime(ws.EndTime, loc)
	if err := errors.Join(err1, err2); err != nil {
		log.WithError(err).Warn("shift with unreadable times dropped")
		return models.ShiftEntry{}, false
	}

	s := models.ShiftEntry{
		ID:           ws.ID,
		EmployeeID:   ws.EmployeeID,
		FirstName:    first,
		LastName:     last,
		LocationID:   ws.LocationID,
		LocationName: ws.LocationName,
		StartTime:    start,
		EndTime:      end,
		Email:        email,
		IsLocum:      kind == "Locum",
	}
	for _, wb := range ws.Breaks {
		bs, err1 := parseShiftTime(wb.StartTime, loc)
		be, err2 := parseShiftTime(wb.EndTime, loc)
		if wb.ID == 0 || err1 != nil || err2 != nil {
			continue
		}
		s.Breaks = append(s.Breaks, models.BreakEntry{ID: wb.ID, ShiftID: ws.ID, StartTime: bs, EndTime: be, IsPaidBreak: wb.IsPaidBreak})
	}
	return s, true
}

// parseShiftTime reads a timestamp with an offset, or branch wall clock
// without one.
func parseShiftTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t, nil
}

// SweepOutcome is the result of refreshing one branch during a sweep.
type SweepOutcome struct {
	Branch string         `json:"branch"`
	Result *RefreshResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Sweep refreshes every branch from today for days days, one branch at a
// time. A failing branch does not stop the sweep.
func (r *RosterRefresher) Sweep(ctx context.Context, days int) []SweepOutcome {
	if days <= 0 {
		days = SweepDays
	}
	today := r.Today()
	req := RefreshRequest{
		From: today.Format(utils.DateLayout),
		To:   utils.AddDays(today, days).Format(utils.DateLayout),
	}

	var out []SweepOutcome
	for _, b := range r.Directory.All() {
		if ctx.Err() != nil {
			out = append(out, SweepOutcome{Branch: b.Code, Error: ctx.Err().Error()})
			continue
		}
		req.Branch = b.Code
		res, err := r.Refresh(ctx, req)
		o := SweepOutcome{Branch: b.Code, Result: res}
		if err != nil {
			utils.ErrorLogger.WithError(err).WithField("branch", b.Code).Error("branch sweep failed")
			o.Error = err.Error()
		}
		out = append(out, o)
	}
	return out
}

// ListRoster returns stored shifts starting in [from, to+1d), optionally for
// one location.
func (r *RosterRefresher) ListRoster(ctx context.Context, from, to string, locationID int) ([]models.ShiftEntry, error) {
	start, end, err := RefreshRequest{From: from, To: to}.Window(r.Reference)
	if err != nil {
		return nil, err
	}
	q := r.Engine.DB.WithContext(ctx).Preload("Breaks").
		Where("start_time >= ? AND start_time < ?", start.UTC(), utils.AddDays(end, 1).UTC())
	if locationID != 0 {
		q = q.Where("location_id = ?", locationID)
	}
	var shifts []models.ShiftEntry
	if err := q.Order("start_time, id").Find(&shifts).Error; err != nil {
		return nil, err
	}
	return shifts, nil
}
