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
	"github.com/yeremiapane/roster-sync/config"
	"github.com/yeremiapane/roster-sync/models"
	"github.com/yeremiapane/roster-sync/slots"
	"github.com/yeremiapane/roster-sync/utils"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var ErrConflictCheckFailed = errors.New("appointment check failed")

type ProcessorConfig struct {
	BatchSize      int
	BatchDelay     time.Duration
	SettleDelay    time.Duration
	SlotCheckDelay time.Duration
	ConflictPolicy config.ConflictPolicy
}

// DefaultProcessorConfig matches the scheduling system's tolerated request rate.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:      8,
		BatchDelay:     time.Second,
		SettleDelay:    time.Second,
		SlotCheckDelay: 500 * time.Millisecond,
		ConflictPolicy: config.FailOpen,
	}
}

// ProcessorConfigFrom reads the processor settings from cfg.
func ProcessorConfigFrom(cfg *config.Config) ProcessorConfig {
	return ProcessorConfig{
		BatchSize:      cfg.BatchSize,
		BatchDelay:     cfg.BatchDelay,
		SettleDelay:    cfg.SettleDelay,
		SlotCheckDelay: cfg.SlotCheckDelay,
		ConflictPolicy: cfg.ConflictPolicy,
	}
}

// Processor propagates pending change records to the scheduling system.
type Processor struct {
	DB        *gorm.DB
	Directory *branches.Directory
	Accounts  *AccountResolver
	Scheduler AvailabilityAPI
	Notifier  Notifier
	Config    ProcessorConfig
	Sleep     SleepFunc

	// serializes Drain
	draining sync.Mutex
}

func NewProcessor(db *gorm.DB, dir *branches.Directory, accounts *AccountResolver, scheduler AvailabilityAPI, cfg ProcessorConfig) *Processor {
	return &Processor{
		DB:        db,
		Directory: dir,
		Accounts:  accounts,
		Scheduler: scheduler,
		Notifier:  LogNotifier{},
		Config:    cfg,
		Sleep:     clients.SleepContext,
	}
}

type DrainReport struct {
	Processed      int                          `json:"processed"`
	Cleared        int                          `json:"cleared"`
	Retained       int                          `json:"retained"`
	Failed         int                          `json:"failed"`
	TaskFailures   int                          `json:"taskFailures"`
	SlotMismatches []models.SlotMismatch        `json:"slotMismatches"`
	Conflicts      []models.AppointmentConflict `json:"appointmentConflicts"`
}

// recordOutcome is the result of propagating one change record.
type recordOutcome struct {
	id         uint
	err        error
	mismatches []models.SlotMismatch
	conflicts  []models.AppointmentConflict
}

func (o recordOutcome) clearable() bool {
	return o.err == nil && len(o.conflicts) == 0
}

// Pending returns change records in detection order. With locations set, only
// records whose old or new shift is at one of them are returned.
func (p *Processor) Pending(ctx context.Context, locations []int) ([]models.ChangeRecord, error) {
	var recs []models.ChangeRecord
	if err := p.DB.WithContext(ctx).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load change records: %w", err)
	}
	if len(locations) == 0 {
		return recs, nil
	}
	wanted := make(map[int]struct{}, len(locations))
	for _, l := range locations {
		wanted[l] = struct{}{}
	}
	filtered := recs[:0]
	for _, r := range recs {
		for _, id := range r.Diff.Locations() {
			if _, ok := wanted[id]; ok {
				filtered = append(filtered, r)
				break
			}
		}
	}
	return filtered, nil
}

// Drain processes pending records batch by batch. Records within a batch run
// concurrently; a record is cleared once it has been applied without error
// and without an appointment conflict. Everything else stays for the next run.
func (p *Processor) Drain(ctx context.Context, locations []int) (*DrainReport, error) {
	p.draining.Lock()
	defer p.draining.Unlock()

	recs, err := p.Pending(ctx, locations)
	if err != nil {
		return nil, err
	}
	report := &DrainReport{
		SlotMismatches: []models.SlotMismatch{},
		Conflicts:      []models.AppointmentConflict{},
	}
	if len(recs) == 0 {
		return report, nil
	}

	size := p.Config.BatchSize
	if size <= 0 {
		size = 8
	}
	tasks := NewTaskDispatcher(size)
	utils.InfoLogger.WithFields(logrus.Fields{"pending": len(recs), "batch_size": size}).Info("Draining change records")

	for start := 0; start < len(recs); start += size {
		if start > 0 {
			if err := p.Sleep(ctx, p.Config.BatchDelay); err != nil {
				report.TaskFailures += Failed(tasks.Wait())
				return report, err
			}
		}
		end := start + size
		if end > len(recs) {
			end = len(recs)
		}

		outcomes := p.runBatch(ctx, recs[start:end], tasks)
		for _, o := range outcomes {
			report.Processed++
			report.SlotMismatches = append(report.SlotMismatches, o.mismatches...)
			report.Conflicts = append(report.Conflicts, o.conflicts...)
			if o.err != nil {
				report.Failed++
			}
			if !o.clearable() {
				report.Retained++
				continue
			}
			if err := p.DB.WithContext(ctx).Delete(&models.ChangeRecord{}, o.id).Error; err != nil {
				utils.ErrorLogger.WithError(err).WithField("change_id", o.id).Error("clear change record failed")
				report.Retained++
				continue
			}
			report.Cleared++
		}
	}

	report.TaskFailures = Failed(tasks.Wait())
	utils.InfoLogger.WithFields(logrus.Fields{
		"processed":  report.Processed,
		"cleared":    report.Cleared,
		"retained":   report.Retained,
		"failed":     report.Failed,
		"conflicts":  len(report.Conflicts),
		"mismatches": len(report.SlotMismatches),
	}).Info("Change records drained")
	return report, nil
}

func (p *Processor) runBatch(ctx context.Context, batch []models.ChangeRecord, tasks *TaskDispatcher) []recordOutcome {
	outcomes := make([]recordOutcome, len(batch))
	var g errgroup.Group
	for i := range batch {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = recordOutcome{id: batch[i].ID, err: fmt.Errorf("panic: %v", r)}
				}
			}()
			outcomes[i] = p.processRecord(ctx, batch[i], tasks)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// sideOutcome is the result of applying one snapshot of a record.
type sideOutcome struct {
	err      error
	mismatch *models.SlotMismatch
	conflict *models.AppointmentConflict
}

func (p *Processor) processRecord(ctx context.Context, rec models.ChangeRecord, tasks *TaskDispatcher) recordOutcome {
	out := recordOutcome{id: rec.ID}
	log := utils.InfoLogger.WithFields(logrus.Fields{"change_id": rec.ID, "roster_id": rec.RosterID, "change_type": rec.ChangeType})

	var sides []sideOutcome
	switch rec.ChangeType {
	case models.ChangeDeleted:
		sides = append(sides, p.apply(ctx, rec.Diff.Old, false, rec.ChangeType, tasks))
	case models.ChangeInserted:
		sides = append(sides, p.apply(ctx, rec.Diff.New, true, rec.ChangeType, tasks))
	case models.ChangeChanged:
		sides = append(sides, p.apply(ctx, rec.Diff.Old, false, rec.ChangeType, tasks))
		if err := p.Sleep(ctx, p.Config.SettleDelay); err != nil {
			out.err = err
			return out
		}
		sides = append(sides, p.apply(ctx, rec.Diff.New, true, rec.ChangeType, tasks))
	default:
		out.err = fmt.Errorf("unknown change type %q", rec.ChangeType)
	}

	var errs []error
	for _, s := range sides {
		if s.err != nil {
			errs = append(errs, s.err)
		}
		if s.mismatch != nil {
			out.mismatches = append(out.mismatches, *s.mismatch)
		}
		if s.conflict != nil {
			out.conflicts = append(out.conflicts, *s.conflict)
		}
	}
	if len(errs) > 0 {
		out.err = errors.Join(errs...)
	}

	if out.err != nil {
		utils.ErrorLogger.WithError(out.err).WithField("change_id", rec.ID).Error("change record not applied")
	} else if len(out.conflicts) > 0 {
		log.Warn("change record held back by appointment conflict")
	} else {
		log.Debug("change record applied")
	}
	return out
}

// eligible reports whether a snapshot carries enough to act on. Snapshots
// without a person are skipped on purpose.
func eligible(s *models.ShiftSnapshot) bool {
	return s != nil && s.FirstName != "" && s.LastName != "" && s.EmployeeID != 0
}

// adjustmentFor builds the availability payload for one shift in branch time.
func adjustmentFor(s *models.ShiftSnapshot, b branches.Branch, inactive bool) clients.Adjustment {
	loc := b.Location()
	start := s.StartTime.In(loc)
	return clients.Adjustment{
		Date:     utils.DateOnly(start, loc).Format(time.RFC3339),
		Branch:   b.Code,
		Start:    utils.Clock12(start),
		Finish:   utils.Clock12(s.EndTime.In(loc)),
		Inactive: inactive,
	}
}

// apply sets one shift active or inactive in the scheduling system.
func (p *Processor) apply(ctx context.Context, s *models.ShiftSnapshot, activate bool, kind models.ChangeType, tasks *TaskDispatcher) sideOutcome {
	if !eligible(s) {
		return sideOutcome{}
	}
	branch, ok := p.Directory.ByLocation(s.LocationID)
	if !ok {
		return sideOutcome{err: fmt.Errorf("%w: %d", ErrUnknownLocation, s.LocationID)}
	}

	person := Person{
		ExternalID: fmt.Sprint(s.EmployeeID),
		Email:      s.Email,
		FirstName:  s.FirstName,
		LastName:   s.LastName,
	}
	identity, err := p.Accounts.Resolve(ctx, person)
	if err != nil {
		return sideOutcome{err: fmt.Errorf("resolve %s %s: %w", s.FirstName, s.LastName, err)}
	}

	loc := branch.Location()
	date := s.StartTime.In(loc).Format(utils.DateLayout)
	log := utils.InfoLogger.WithFields(logrus.Fields{
		"optom_id": identity.ID,
		"branch":   branch.Code,
		"date":     date,
		"activate": activate,
	})

	if !activate {
		conflict, err := p.checkConflict(ctx, s, branch, identity, kind)
		if err != nil || conflict != nil {
			return sideOutcome{err: err, conflict: conflict}
		}
	}

	var out sideOutcome
	adj := adjustmentFor(s, branch, !activate)
	posted := true
	if err := p.Scheduler.PostAdjust(ctx, identity.ID, adj); err != nil {
		utils.ErrorLogger.WithError(err).WithField("optom_id", identity.ID).Error("availability update failed, continuing checks")
		out.err = fmt.Errorf("adjust %d at %s: %w", identity.ID, branch.Code, err)
		posted = false
	} else {
		log.WithFields(logrus.Fields{"start": adj.Start, "finish": adj.Finish}).Info("availability updated")
	}

	if !activate {
		return out
	}

	if posted {
		if err := p.Sleep(ctx, p.Config.SlotCheckDelay); err != nil {
			out.err = err
			return out
		}
	}
	out.mismatch = p.checkSlots(ctx, s, branch, identity)

	if posted && !identity.WorkedAt(branch.Code) {
		notice := FirstShiftNotice{
			IdentityID: identity.ID,
			Name:       s.FirstName + " " + s.LastName,
			Email:      s.Email,
			Branch:     branch.Code,
			BranchName: branch.Name,
			Date:       date,
			Start:      adj.Start,
			Finish:     adj.Finish,
			Username:   identity.Username,
		}
		tasks.Go(ctx, fmt.Sprintf("work-history %d %s", identity.ID, branch.Code), func(ctx context.Context) error {
			return p.Accounts.RecordWorkHistory(ctx, person, identity, branch.Code)
		})
		if s.IsLocum && p.Notifier != nil {
			tasks.Go(ctx, fmt.Sprintf("first-shift notice %d %s", identity.ID, branch.Code), func(ctx context.Context) error {
				return p.Notifier.NotifyFirstShift(ctx, notice)
			})
		}
	}
	return out
}

// checkConflict looks for a booked appointment that a deactivation would
// orphan. How a failed lookup is treated depends on the conflict policy.
func (p *Processor) checkConflict(ctx context.Context, s *models.ShiftSnapshot, b branches.Branch, identity ResolvedIdentity, kind models.ChangeType) (*models.AppointmentConflict, error) {
	booked, err := p.Scheduler.HasAppointment(ctx, identity.ID, b.Code, s.StartTime, s.EndTime)
	if err != nil {
		if p.Config.ConflictPolicy == config.FailClosed {
			return nil, fmt.Errorf("%w for %d at %s: %v", ErrConflictCheckFailed, identity.ID, b.Code, err)
		}
		utils.ErrorLogger.WithError(err).WithFields(logrus.Fields{"optom_id": identity.ID, "branch": b.Code}).
			Error("appointment check failed, deactivating anyway")
		return nil, nil
	}
	if !booked {
		return nil, nil
	}

	loc := b.Location()
	conflict := &models.AppointmentConflict{
		Branch:     b.Code,
		BranchName: b.Name,
		Date:       s.StartTime.In(loc).Format(utils.DateLayout),
		IdentityID: identity.ID,
		Name:       s.FirstName + " " + s.LastName,
		Email:      s.Email,
		StartTime:  s.StartTime.In(loc),
		EndTime:    s.EndTime.In(loc),
		ChangeType: kind,
	}
	utils.ErrorLogger.WithFields(logrus.Fields{
		"optom_id": identity.ID,
		"branch":   b.Code,
		"date":     conflict.Date,
	}).Error("appointment conflict, deactivation skipped")
	return conflict, nil
}

// checkSlots compares the roster's slot count with what the scheduling system
// holds for that day. Lookup failures are logged and ignored.
func (p *Processor) checkSlots(ctx context.Context, s *models.ShiftSnapshot, b branches.Branch, identity ResolvedIdentity) *models.SlotMismatch {
	loc := b.Location()
	day := utils.DateOnly(s.StartTime, loc)
	expected := slots.ForShift(int(s.EndTime.Sub(s.StartTime) / time.Minute))

	entries, err := p.Scheduler.ListAdjustments(ctx, identity.ID, b.Code, day, utils.AddDays(day, 1))
	if err != nil {
		utils.ErrorLogger.WithError(err).WithField("optom_id", identity.ID).Error("slot check failed")
		return nil
	}
	reported := 0
	for _, e := range entries {
		if e.Inactive {
			continue
		}
		start, err1 := utils.ParseClock12(e.Start)
		finish, err2 := utils.ParseClock12(e.Finish)
		if err1 != nil || err2 != nil || finish <= start {
			continue
		}
		reported += slots.ForShift(finish - start)
	}

	if expected == reported || reported == 0 {
		return nil
	}
	mismatch := &models.SlotMismatch{
		Branch:         b.Code,
		BranchName:     b.Name,
		Date:           day.Format(utils.DateLayout),
		IdentityID:     identity.ID,
		Name:           s.FirstName + " " + s.LastName,
		RosterSlots:    expected,
		SchedulerSlots: reported,
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"branch":    b.Code,
		"date":      mismatch.Date,
		"optom_id":  identity.ID,
		"roster":    expected,
		"scheduler": reported,
	}).Warn("slot mismatch")
	return mismatch
}
