package cli

import (
	"fmt"

	"github.com/yeremiapane/roster-sync/branches"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/config"
	"github.com/yeremiapane/roster-sync/database"
	"github.com/yeremiapane/roster-sync/services"
	"github.com/yeremiapane/roster-sync/utils"
	"gorm.io/gorm"
)

// App holds the wired services for one process.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Engine    *services.SyncEngine
	Processor *services.Processor
	Refresher *services.RosterRefresher
	Counter   *services.AppointmentCounter
	Occupancy *services.OccupancyReporter

	closer func()
}

// newApp loads configuration, opens and migrates the store and builds every
// service on top of the real API clients.
func newApp(opts *RootOptions) (*App, error) {
	cfg, err := config.Load(opts.envFiles()...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	utils.InitLogger(cfg.LogFile)

	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	app := wire(cfg, db,
		clients.NewWorkforceClient(cfg.WorkforceURL, cfg.WorkforceSecret),
		clients.NewSchedulingClient(cfg.GatewayURL, cfg.GatewayToken, cfg.ODataURL, cfg.ODataUser, cfg.ODataPassword),
	)
	app.closer = func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return app, nil
}

// scheduler is everything the services need from the scheduling system.
type scheduler interface {
	services.AccountAPI
	services.AvailabilityAPI
	services.AppointmentAPI
}

func wire(cfg *config.Config, db *gorm.DB, workforce services.WorkforceAPI, sched scheduler) *App {
	dir := branches.Default()
	ref := cfg.ReferenceLocation()

	engine := services.NewSyncEngine(db, services.NewCapture(), dir, cfg.RetentionDays, ref)
	accounts := services.NewAccountResolver(sched, cfg.DefaultAccountPassword)
	processor := services.NewProcessor(db, dir, accounts, sched, services.ProcessorConfigFrom(cfg))
	employees := services.NewEmployeeDirectory(db, workforce)
	counter := services.NewAppointmentCounter(db, sched, dir, ref)

	return &App{
		Config:    cfg,
		DB:        db,
		Engine:    engine,
		Processor: processor,
		Refresher: services.NewRosterRefresher(workforce, employees, engine, processor, dir, cfg.ExcludedWorkTypeID, ref),
		Counter:   counter,
		Occupancy: services.NewOccupancyReporter(db, dir, counter),
	}
}

// Close releases the database connection opened by newApp.
func (a *App) Close() {
	if a.closer != nil {
		a.closer()
	}
}
