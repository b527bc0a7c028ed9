package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/yeremiapane/roster-sync/cache"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/utils"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const employeeTTL = 24 * time.Hour

// EmployeeInfo is the identity part of a workforce employee.
type EmployeeInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// EmployeeDirectory resolves employee ids through a day-long cache kept in
// memory and in the database.
type EmployeeDirectory struct {
	API        WorkforceAPI
	Cache      *cache.TTLCache[EmployeeInfo]
	GroupSize  int
	GroupDelay time.Duration
	Sleep      SleepFunc
}

func NewEmployeeDirectory(db *gorm.DB, api WorkforceAPI) *EmployeeDirectory {
	store := &cache.TieredStore{
		Front: cache.NewMemoryStore(),
		Back:  cache.NewGormStore(db, "employee"),
	}
	return &EmployeeDirectory{
		API:        api,
		Cache:      cache.New[EmployeeInfo](store, employeeTTL),
		GroupSize:  5,
		GroupDelay: 500 * time.Millisecond,
		Sleep:      clients.SleepContext,
	}
}

// Lookup returns what is known for ids. Ids that cannot be fetched are left
// out of the result.
func (d *EmployeeDirectory) Lookup(ctx context.Context, ids []int64) map[int64]EmployeeInfo {
	found := make(map[int64]EmployeeInfo, len(ids))
	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		if info, ok := d.Cache.Get(ctx, strconv.FormatInt(id, 10)); ok {
			found[id] = info
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return found
	}

	size := d.GroupSize
	if size <= 0 {
		size = 5
	}
	var mu sync.Mutex
	for start := 0; start < len(missing); start += size {
		if start > 0 {
			if err := d.Sleep(ctx, d.GroupDelay); err != nil {
				break
			}
		}
		end := min(start+size, len(missing))

		var g errgroup.Group
		for _, id := range missing[start:end] {
			g.Go(func() error {
				emp, err := d.API.GetEmployee(ctx, id)
				if err != nil {
					utils.ErrorLogger.WithError(err).WithField("employee_id", id).Error("employee lookup failed")
					return nil
				}
				info := EmployeeInfo{FirstName: emp.FirstName, LastName: emp.Surname, Email: emp.Email}
				if err := d.Cache.Set(ctx, strconv.FormatInt(id, 10), info); err != nil {
					utils.ErrorLogger.WithError(err).WithField("employee_id", id).Error("cache employee failed")
				}
				mu.Lock()
				found[id] = info
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	utils.InfoLogger.WithField("requested", len(seen)).WithField("resolved", len(found)).Info("Employee lookup done")
	return found
}
