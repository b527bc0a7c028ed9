package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/config"
	"github.com/yeremiapane/roster-sync/models"
)

type refreshFixture struct {
	*processorFixture
	workforce *fakeWorkforce
	refresher *RosterRefresher
}

func newRefreshFixture(t *testing.T) *refreshFixture {
	pf := newProcessorFixture(t, config.FailOpen)
	wf := newFakeWorkforce()
	employees := NewEmployeeDirectory(pf.db, wf)
	employees.Sleep = noSleep
	r := NewRosterRefresher(wf, employees, pf.engine, pf.processor, branches.Default(), 472663, sydney)
	r.now = func() time.Time { return time.Date(2030, 3, 1, 8, 0, 0, 0, sydney) }
	pf.engine.now = r.now
	return &refreshFixture{processorFixture: pf, workforce: wf, refresher: r}
}

func workType(id int) *int { return &id }

func TestRefreshConvertsAndPropagates(t *testing.T) {
	f := newRefreshFixture(t)
	f.workforce.employees[7] = clients.Employee{FirstName: "Sam_Locum", Surname: "Lee", Email: "sam@example.com"}
	f.api.addIdentity("7", 77, "BOX")
	f.api.addIdentity("8", 88, "HUR")
	f.workforce.shifts = []clients.WorkforceShift{
		{ID: 1, EmployeeID: 7, EmployeeName: "Sam Lee", LocationID: boxHill, LocationName: "Box Hill",
			StartTime: "2030-03-04T09:00:00", EndTime: "2030-03-04T18:15:00",
			Breaks: []clients.WorkforceBreak{{ID: 11, StartTime: "2030-03-04T13:00:00", EndTime: "2030-03-04T13:30:00"}}},
		{ID: 2, EmployeeID: 8, EmployeeName: "Ana Maria Silva", LocationID: hurstville, LocationName: "Hurstville",
			StartTime: "2030-03-05T09:00:00+11:00", EndTime: "2030-03-05T17:00:00+11:00"},
		{ID: 3, EmployeeID: 9, EmployeeName: "Admin Time", LocationID: hurstville, WorkTypeID: workType(472663),
			StartTime: "2030-03-05T09:00:00", EndTime: "2030-03-05T10:00:00"},
		{ID: 4, EmployeeID: 10, EmployeeName: "Mononym", LocationID: hurstville,
			StartTime: "2030-03-05T09:00:00", EndTime: "2030-03-05T10:00:00"},
		{ID: 5, EmployeeID: 0, EmployeeName: "Vacant", LocationID: hurstville,
			StartTime: "2030-03-05T09:00:00", EndTime: "2030-03-05T10:00:00"},
	}

	res, err := f.refresher.Refresh(context.Background(), RefreshRequest{From: "2030-03-04", To: "2030-03-06"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Shifts, 2)
	assert.Equal(t, 2, res.Applied.Inserted)
	assert.Equal(t, 2, res.Drain.Cleared)
	assert.Len(t, f.workforce.lastQuery, len(branches.Default().All()))

	sam := res.Shifts[0]
	assert.Equal(t, "Sam", sam.FirstName)
	assert.True(t, sam.IsLocum)
	assert.Equal(t, "sam@example.com", sam.Email)
	melbourne, _ := time.LoadLocation("Australia/Melbourne")
	assert.True(t, sam.StartTime.Equal(time.Date(2030, 3, 4, 9, 0, 0, 0, melbourne)))
	require.Len(t, sam.Breaks, 1)

	ana := res.Shifts[1]
	assert.Equal(t, "Ana", ana.FirstName)
	assert.Equal(t, "Maria Silva", ana.LastName)
	assert.Empty(t, ana.Email)
	assert.False(t, ana.IsLocum)

	assert.Len(t, f.api.adjustCalls(), 2)
	assert.Empty(t, pendingRecords(t, f.db))
}

func TestRefreshBranchScopesDeletion(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, shift(1, hurstville, "2030-03-04"), shift(2, parramatta, "2030-03-04"))
	f.api.addIdentity("1001", 71, "HUR")

	res, err := f.refresher.Refresh(context.Background(), RefreshRequest{From: "2030-03-04", To: "2030-03-04", Branch: "HUR"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied.Deleted)
	assert.Equal(t, []int{hurstville}, f.workforce.lastQuery)

	var ids []int64
	require.NoError(t, f.db.Model(&models.ShiftEntry{}).Pluck("id", &ids).Error)
	assert.Equal(t, []int64{2}, ids)

	calls := f.api.adjustCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Adjustment.Inactive)
}

func TestRefreshEmptyAnswerWithoutBranchKeepsStore(t *testing.T) {
	f := newRefreshFixture(t)
	f.seed(t, shift(1, hurstville, "2030-03-04"))

	res, err := f.refresher.Refresh(context.Background(), RefreshRequest{From: "2030-03-04", To: "2030-03-04"})
	require.NoError(t, err)
	assert.Zero(t, res.Applied.Deleted)

	var count int64
	f.db.Model(&models.ShiftEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRefreshRejectsBadRequests(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	_, err := f.refresher.Refresh(ctx, RefreshRequest{From: "2030-03-05", To: "2030-03-04"})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = f.refresher.Refresh(ctx, RefreshRequest{From: "2030-03-04", To: "2030-03-04", Branch: "XXX"})
	assert.ErrorIs(t, err, ErrUnknownBranch)

	f.workforce.listErr = errUnavailable
	_, err = f.refresher.Refresh(ctx, RefreshRequest{From: "2030-03-04", To: "2030-03-04"})
	assert.ErrorIs(t, err, errUnavailable)
}

func TestSweepVisitsEveryBranch(t *testing.T) {
	f := newRefreshFixture(t)
	out := f.refresher.Sweep(context.Background(), 0)
	require.Len(t, out, len(branches.Default().All()))
	for _, o := range out {
		assert.Empty(t, o.Error, o.Branch)
	}
}

func TestRangeWindow(t *testing.T) {
	wed := time.Date(2030, 3, 6, 0, 0, 0, 0, sydney)
	tests := []struct {
		name string
		want string
	}{
		{"today", "2030-03-06"},
		{"weekly", "2030-03-16"},
		{"monthly", "2030-04-30"},
	}
	for _, tt := range tests {
		from, to, err := RangeWindow(tt.name, wed)
		require.NoError(t, err, tt.name)
		assert.True(t, from.Equal(wed))
		assert.Equal(t, tt.want, to.Format("2006-01-02"), tt.name)
	}
	_, _, err := RangeWindow("yearly", wed)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestListRoster(t *testing.T) {
	f := newRefreshFixture(t)
	s := shift(1, hurstville, "2030-03-04")
	s.Breaks = []models.BreakEntry{{ID: 11, StartTime: s.StartTime.Add(time.Hour), EndTime: s.StartTime.Add(2 * time.Hour)}}
	f.seed(t, s, shift(2, parramatta, "2030-03-04"), shift(3, hurstville, "2030-03-06"))

	got, err := f.refresher.ListRoster(context.Background(), "2030-03-04", "2030-03-05", hurstville)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Breaks, 1)

	got, err = f.refresher.ListRoster(context.Background(), "2030-03-04", "2030-03-06", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRequestDays(t *testing.T) {
	assert.Equal(t, 21, RefreshRequest{From: "2030-03-01", To: "2030-03-21"}.Days())
	assert.Equal(t, 1, RefreshRequest{From: "2030-03-01", To: "2030-03-01"}.Days())
}
