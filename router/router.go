package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/roster-sync/controllers"
	"github.com/yeremiapane/roster-sync/middlewares"
)

// Options configures the trigger API.
type Options struct {
	JWTSecret      string
	RatePerMinute  int
	RateBurst      int
	DisableLogging bool
}

func SetupRouter(opts Options, rosterCtrl *controllers.RosterController, apptCtrl *controllers.AppointmentController) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if !opts.DisableLogging {
		r.Use(middlewares.LoggerMiddleware())
	}

	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 60
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	r.Use(middlewares.NewRateLimiter(opts.RatePerMinute, opts.RateBurst).RateLimit())

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := r.Group("/api")
	api.GET("/roster/list", rosterCtrl.List)
	api.GET("/roster/occupancy", rosterCtrl.Occupancy)
	api.GET("/appointments/count", apptCtrl.Count)

	// ----------------------------------------------------------------
	//                      SCHEDULER ROUTES
	// ----------------------------------------------------------------
	trigger := api.Group("")
	trigger.Use(middlewares.SchedulerAuth(opts.JWTSecret))
	{
		trigger.POST("/roster/refresh", rosterCtrl.Refresh)
		trigger.POST("/roster/sweep", rosterCtrl.Sweep)
		trigger.POST("/roster/cleanup", rosterCtrl.Cleanup)
		trigger.POST("/appointments/sync", apptCtrl.Sync)
	}

	return r
}
