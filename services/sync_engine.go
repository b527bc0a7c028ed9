package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/models"
	"github.com/yeremiapane/roster-sync/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const chunkSize = 500

var (
	ErrInvalidShift    = errors.New("invalid shift")
	ErrUnknownLocation = errors.New("unknown location")
)

// Scope is the part of the roster a snapshot is authoritative for:
// shifts starting in [Start, End) at LocationIDs.
type Scope struct {
	Start       time.Time
	End         time.Time
	LocationIDs []int
}

type ApplyResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Changes   int `json:"changes"`
}

// SyncEngine reconciles the roster store with workforce snapshots.
type SyncEngine struct {
	DB            *gorm.DB
	Capture       *Capture
	Directory     *branches.Directory
	RetentionDays int
	ReferenceZone *time.Location
	now           func() time.Time
}

func NewSyncEngine(db *gorm.DB, capture *Capture, dir *branches.Directory, retentionDays int, ref *time.Location) *SyncEngine {
	return &SyncEngine{
		DB:            db,
		Capture:       capture,
		Directory:     dir,
		RetentionDays: retentionDays,
		ReferenceZone: ref,
		now:           time.Now,
	}
}

// normalize validates a shift and converts its times to UTC.
func (e *SyncEngine) normalize(s models.ShiftEntry) (models.ShiftEntry, error) {
	if s.ID == 0 || s.LocationID == 0 {
		return s, fmt.Errorf("%w: shift %d missing id or location", ErrInvalidShift, s.ID)
	}
	if s.StartTime.IsZero() || s.EndTime.IsZero() || !s.StartTime.Before(s.EndTime) {
		return s, fmt.Errorf("%w: shift %d has no valid time range", ErrInvalidShift, s.ID)
	}
	branch, ok := e.Directory.ByLocation(s.LocationID)
	if !ok {
		return s, fmt.Errorf("%w: shift %d location %d", ErrUnknownLocation, s.ID, s.LocationID)
	}
	if s.LocationName == "" {
		s.LocationName = branch.Name
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	breaks := make([]models.BreakEntry, 0, len(s.Breaks))
	for _, b := range s.Breaks {
		if b.ID == 0 {
			continue
		}
		b.ShiftID = s.ID
		b.StartTime = b.StartTime.UTC()
		b.EndTime = b.EndTime.UTC()
		breaks = append(breaks, b)
	}
	s.Breaks = breaks
	return s, nil
}

// storedDiffers reports whether any persisted column would change.
func storedDiffers(old, cur *models.ShiftEntry) bool {
	return TrackedChanged(old, cur) ||
		old.LocationName != cur.LocationName ||
		old.Email != cur.Email ||
		old.IsLocum != cur.IsLocum
}

func chunks(ids []int64) [][]int64 {
	var out [][]int64
	for len(ids) > chunkSize {
		out = append(out, ids[:chunkSize])
		ids = ids[chunkSize:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// Apply makes the roster store match entries within scope, in one
// transaction together with the change records it produces.
func (e *SyncEngine) Apply(ctx context.Context, entries []models.ShiftEntry, scope Scope) (ApplyResult, error) {
	var result ApplyResult
	log := utils.InfoLogger.WithFields(logrus.Fields{
		"scope_start": scope.Start.Format(time.RFC3339),
		"scope_end":   scope.End.Format(time.RFC3339),
		"locations":   scope.LocationIDs,
	})

	// present holds every id the source reported, valid or not, so that a
	// malformed entry never reads as a deletion.
	present := make(map[int64]struct{}, len(entries))
	incoming := make([]models.ShiftEntry, 0, len(entries))
	seen := make(map[int64]int, len(entries))
	for _, raw := range entries {
		if raw.ID != 0 {
			present[raw.ID] = struct{}{}
		}
		s, err := e.normalize(raw)
		if err != nil {
			result.Skipped++
			log.WithError(err).Warn("skipping shift")
			continue
		}
		if i, dup := seen[s.ID]; dup {
			incoming[i] = s
			continue
		}
		seen[s.ID] = len(incoming)
		incoming = append(incoming, s)
	}

	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := loadShifts(tx, incoming)
		if err != nil {
			return err
		}

		for i := range incoming {
			cur := &incoming[i]
			old, found := existing[cur.ID]
			if !found {
				if err := tx.Omit(clause.Associations).Create(cur).Error; err != nil {
					return fmt.Errorf("insert shift %d: %w", cur.ID, err)
				}
				if err := e.Capture.Inserted(tx, cur); err != nil {
					return fmt.Errorf("record insert %d: %w", cur.ID, err)
				}
				result.Inserted++
				result.Changes++
				continue
			}

			if !storedDiffers(old, cur) {
				result.Unchanged++
				continue
			}
			cur.CreatedAt = old.CreatedAt
			if err := tx.Omit(clause.Associations).Save(cur).Error; err != nil {
				return fmt.Errorf("update shift %d: %w", cur.ID, err)
			}
			recorded, err := e.Capture.Changed(tx, old, cur)
			if err != nil {
				return fmt.Errorf("record update %d: %w", cur.ID, err)
			}
			if recorded {
				result.Changes++
			}
			result.Updated++
		}

		if err := syncBreaks(tx, incoming); err != nil {
			return err
		}

		if len(scope.LocationIDs) == 0 {
			log.Warn("no locations in scope, skipping deletion")
			return nil
		}

		var inScope []models.ShiftEntry
		err = tx.Where("start_time >= ? AND start_time < ? AND location_id IN ?",
			scope.Start.UTC(), scope.End.UTC(), scope.LocationIDs).
			Order("id").
			Find(&inScope).Error
		if err != nil {
			return fmt.Errorf("load scoped shifts: %w", err)
		}

		var stale []models.ShiftEntry
		for _, s := range inScope {
			if _, ok := present[s.ID]; !ok {
				stale = append(stale, s)
			}
		}
		n, err := e.deleteShifts(tx, stale)
		result.Deleted = n
		result.Changes += n
		return err
	})
	if err != nil {
		utils.ErrorLogger.WithError(err).Error("roster sync rolled back")
		return ApplyResult{}, err
	}

	log.WithFields(logrus.Fields{
		"inserted":  result.Inserted,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
		"deleted":   result.Deleted,
		"skipped":   result.Skipped,
	}).Info("roster sync committed")
	return result, nil
}

func loadShifts(tx *gorm.DB, incoming []models.ShiftEntry) (map[int64]*models.ShiftEntry, error) {
	ids := make([]int64, 0, len(incoming))
	for _, s := range incoming {
		ids = append(ids, s.ID)
	}
	existing := make(map[int64]*models.ShiftEntry, len(ids))
	for _, chunk := range chunks(ids) {
		var rows []models.ShiftEntry
		if err := tx.Where("id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load shifts: %w", err)
		}
		for i := range rows {
			existing[rows[i].ID] = &rows[i]
		}
	}
	return existing, nil
}

// syncBreaks upserts the breaks of every incoming shift and removes breaks
// those shifts no longer have.
func syncBreaks(tx *gorm.DB, incoming []models.ShiftEntry) error {
	var breaks []models.BreakEntry
	keep := make(map[int64]struct{})
	shiftIDs := make([]int64, 0, len(incoming))
	for _, s := range incoming {
		shiftIDs = append(shiftIDs, s.ID)
		for _, b := range s.Breaks {
			breaks = append(breaks, b)
			keep[b.ID] = struct{}{}
		}
	}

	if len(breaks) > 0 {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"shift_id", "start_time", "end_time", "is_paid_break"}),
		}).CreateInBatches(&breaks, 200).Error
		if err != nil {
			return fmt.Errorf("upsert breaks: %w", err)
		}
	}

	var staleIDs []int64
	for _, chunk := range chunks(shiftIDs) {
		var ids []int64
		if err := tx.Model(&models.BreakEntry{}).Where("shift_id IN ?", chunk).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("load breaks: %w", err)
		}
		for _, id := range ids {
			if _, ok := keep[id]; !ok {
				staleIDs = append(staleIDs, id)
			}
		}
	}
	for _, chunk := range chunks(staleIDs) {
		if err := tx.Where("id IN ?", chunk).Delete(&models.BreakEntry{}).Error; err != nil {
			return fmt.Errorf("delete breaks: %w", err)
		}
	}
	return nil
}

// deleteShifts removes shifts with their breaks and records each deletion.
func (e *SyncEngine) deleteShifts(tx *gorm.DB, shifts []models.ShiftEntry) (int, error) {
	if len(shifts) == 0 {
		return 0, nil
	}
	sort.Slice(shifts, func(i, j int) bool { return shifts[i].ID < shifts[j].ID })
	ids := make([]int64, 0, len(shifts))
	for _, s := range shifts {
		ids = append(ids, s.ID)
	}
	for _, chunk := range chunks(ids) {
		if err := tx.Where("shift_id IN ?", chunk).Delete(&models.BreakEntry{}).Error; err != nil {
			return 0, fmt.Errorf("delete breaks: %w", err)
		}
		if err := tx.Where("id IN ?", chunk).Delete(&models.ShiftEntry{}).Error; err != nil {
			return 0, fmt.Errorf("delete shifts: %w", err)
		}
	}
	for i := range shifts {
		if err := e.Capture.Deleted(tx, &shifts[i]); err != nil {
			return 0, fmt.Errorf("record delete %d: %w", shifts[i].ID, err)
		}
	}
	return len(shifts), nil
}

// deleteBefore removes every shift starting before cutoff through db, which
// decides whether the deletions are captured.
func (e *SyncEngine) deleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int, error) {
	var n int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old []models.ShiftEntry
		if err := tx.Where("start_time < ?", cutoff.UTC()).Find(&old).Error; err != nil {
			return fmt.Errorf("load old shifts: %w", err)
		}
		var err error
		n, err = e.deleteShifts(tx, old)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// PruneRetention deletes shifts older than the retention horizon across all
// branches. Deletions are recorded like any other.
func (e *SyncEngine) PruneRetention(ctx context.Context) (int, error) {
	cutoff := utils.AddDays(utils.DateOnly(e.now(), e.ReferenceZone), -e.RetentionDays)
	n, err := e.deleteBefore(ctx, e.DB, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention prune: %w", err)
	}
	if n > 0 {
		utils.InfoLogger.WithField("cutoff", cutoff.Format(utils.DateLayout)).Infof("Pruned %d shift(s) past retention", n)
	}
	return n, nil
}

// PurgePast deletes every shift starting before today in the reference zone.
// Its own transaction runs with capture suppressed, so the purge is not
// propagated; concurrent syncs keep recording.
func (e *SyncEngine) PurgePast(ctx context.Context) (int, error) {
	today := utils.DateOnly(e.now(), e.ReferenceZone)
	n, err := e.deleteBefore(ctx, Suppressed(e.DB), today)
	if err != nil {
		return 0, fmt.Errorf("purge past: %w", err)
	}
	utils.InfoLogger.WithField("before", today.Format(utils.DateLayout)).Infof("Purged %d past shift(s)", n)
	return n, nil
}
