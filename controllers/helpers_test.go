package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/config"
	"github.com/yeremiapane/roster-sync/database"
	"github.com/yeremiapane/roster-sync/services"
	"github.com/yeremiapane/roster-sync/utils"
	"gorm.io/gorm"
)

var sydney, _ = time.LoadLocation("Australia/Sydney")

func noSleep(context.Context, time.Duration) error { return nil }

type stubWorkforce struct {
	mu        sync.Mutex
	shifts    []clients.WorkforceShift
	employees map[int64]clients.Employee
}

func (s *stubWorkforce) ListShifts(_ context.Context, _, _ time.Time, locationIDs []int) ([]clients.WorkforceShift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int]bool)
	for _, id := range locationIDs {
		wanted[id] = true
	}
	var out []clients.WorkforceShift
	for _, ws := range s.shifts {
		if wanted[ws.LocationID] {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (s *stubWorkforce) GetEmployee(_ context.Context, id int64) (*clients.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.employees[id]
	if !ok {
		return nil, &clients.APIError{Op: "get employee", Status: http.StatusNotFound}
	}
	return &e, nil
}

// stubScheduler knows every practitioner as identity 77 with history at HUR.
type stubScheduler struct {
	mu           sync.Mutex
	adjusts      []clients.Adjustment
	appointments []clients.Appointment
	booked       int
}

func (s *stubScheduler) SearchByExternalID(context.Context, string) (*clients.Identity, error) {
	return &clients.Identity{ID: 77, WorkHistory: []string{"HUR"}}, nil
}
func (s *stubScheduler) SearchByEmail(context.Context, string) (*clients.Identity, error) {
	return nil, nil
}
func (s *stubScheduler) SearchByName(context.Context, string, string) (*clients.Identity, error) {
	return nil, nil
}
func (s *stubScheduler) CreateIdentity(context.Context, clients.NewIdentity) (int, error) {
	return 0, &clients.CreateError{Message: "not expected"}
}
func (s *stubScheduler) UpdateIdentity(context.Context, int, string, string) error { return nil }
func (s *stubScheduler) AddWorkHistory(context.Context, int, string) error         { return nil }
func (s *stubScheduler) CountIdentifiers(context.Context, string) (int, error)     { return 0, nil }

func (s *stubScheduler) PostAdjust(_ context.Context, _ int, adj clients.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjusts = append(s.adjusts, adj)
	return nil
}
func (s *stubScheduler) HasAppointment(context.Context, int, string, time.Time, time.Time) (bool, error) {
	return false, nil
}
func (s *stubScheduler) ListAdjustments(context.Context, int, string, time.Time, time.Time) ([]clients.AdjustEntry, error) {
	return nil, nil
}
func (s *stubScheduler) ListAppointments(_ context.Context, branch string, _, _ time.Time) ([]clients.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []clients.Appointment
	for _, a := range s.appointments {
		if a.Branch == branch {
			out = append(out, a)
		}
	}
	return out, nil
}
func (s *stubScheduler) CountAppointments(context.Context, string, time.Time, time.Time) (int, error) {
	return s.booked, nil
}

type fixture struct {
	db        *gorm.DB
	workforce *stubWorkforce
	scheduler *stubScheduler
	roster    *RosterController
	appts     *AppointmentController
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.InitLogger()

	db, err := database.Open(&config.Config{DBDriver: "sqlite", DBDSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	dir := branches.Default()
	wf := &stubWorkforce{employees: map[int64]clients.Employee{}}
	sched := &stubScheduler{}

	engine := services.NewSyncEngine(db, services.NewCapture(), dir, 90, sydney)
	accounts := services.NewAccountResolver(sched, "1001")

	pcfg := services.DefaultProcessorConfig()
	pcfg.BatchDelay, pcfg.SettleDelay, pcfg.SlotCheckDelay = 0, 0, 0
	processor := services.NewProcessor(db, dir, accounts, sched, pcfg)
	processor.Sleep = noSleep

	employees := services.NewEmployeeDirectory(db, wf)
	employees.Sleep = noSleep

	refresher := services.NewRosterRefresher(wf, employees, engine, processor, dir, 472663, sydney)
	counter := services.NewAppointmentCounter(db, sched, dir, sydney)
	counter.Sleep = noSleep

	return &fixture{
		db:        db,
		workforce: wf,
		scheduler: sched,
		roster:    NewRosterController(refresher, services.NewOccupancyReporter(db, dir, counter)),
		appts:     NewAppointmentController(counter),
	}
}

func (f *fixture) router() *gin.Engine {
	r := gin.New()
	r.POST("/roster/refresh", f.roster.Refresh)
	r.POST("/roster/sweep", f.roster.Sweep)
	r.POST("/roster/cleanup", f.roster.Cleanup)
	r.GET("/roster/list", f.roster.List)
	r.GET("/roster/occupancy", f.roster.Occupancy)
	r.GET("/appointments/count", f.appts.Count)
	r.POST("/appointments/sync", f.appts.Sync)
	return r
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, r http.Handler, method, url string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}
