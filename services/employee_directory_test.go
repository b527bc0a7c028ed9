package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/models"
)

type fakeWorkforce struct {
	mu        sync.Mutex
	employees map[int64]clients.Employee
	calls     map[int64]int
	shifts    []clients.WorkforceShift
	lastQuery []int
	listErr   error
}

func newFakeWorkforce() *fakeWorkforce {
	return &fakeWorkforce{employees: map[int64]clients.Employee{}, calls: map[int64]int{}}
}

func (f *fakeWorkforce) ListShifts(_ context.Context, _, _ time.Time, locationIDs []int) ([]clients.WorkforceShift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = locationIDs
	return f.shifts, f.listErr
}

func (f *fakeWorkforce) GetEmployee(_ context.Context, id int64) (*clients.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	emp, ok := f.employees[id]
	if !ok {
		return nil, &clients.APIError{Op: "get employee", Status: 404}
	}
	return &emp, nil
}

func TestEmployeeLookupCachesAcrossInstances(t *testing.T) {
	db := setupTestDB(t)
	api := newFakeWorkforce()
	api.employees[1] = clients.Employee{FirstName: "Jane", Surname: "Citizen", Email: "jane@example.com"}
	api.employees[2] = clients.Employee{FirstName: "Sam", Surname: "Lee"}

	dir := NewEmployeeDirectory(db, api)
	dir.Sleep = noSleep
	got := dir.Lookup(context.Background(), []int64{1, 2, 3, 1})
	assert.Len(t, got, 2)
	assert.Equal(t, EmployeeInfo{FirstName: "Jane", LastName: "Citizen", Email: "jane@example.com"}, got[1])
	assert.Equal(t, 1, api.calls[1])

	var rows int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Where("namespace = ?", "employee").Count(&rows).Error)
	assert.Equal(t, int64(2), rows)

	// a fresh directory over the same database is served from the table
	again := NewEmployeeDirectory(db, api)
	got = again.Lookup(context.Background(), []int64{1, 2})
	assert.Len(t, got, 2)
	assert.Equal(t, 1, api.calls[1])
	assert.Equal(t, 1, api.calls[2])
}

func TestEmployeeLookupGroupsRequests(t *testing.T) {
	db := setupTestDB(t)
	api := newFakeWorkforce()
	var ids []int64
	for i := int64(1); i <= 12; i++ {
		api.employees[i] = clients.Employee{FirstName: "E", Surname: "X"}
		ids = append(ids, i)
	}
	pauses := 0
	dir := NewEmployeeDirectory(db, api)
	dir.Sleep = func(context.Context, time.Duration) error {
		pauses++
		return nil
	}

	got := dir.Lookup(context.Background(), ids)
	assert.Len(t, got, 12)
	assert.Equal(t, 2, pauses)
}
