package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/roster-sync/services"
	"github.com/yeremiapane/roster-sync/utils"
)

type RosterController struct {
	Refresher         *services.RosterRefresher
	OccupancyReporter *services.OccupancyReporter
}

func NewRosterController(refresher *services.RosterRefresher, occupancy *services.OccupancyReporter) *RosterController {
	return &RosterController{Refresher: refresher, OccupancyReporter: occupancy}
}

// requestError maps validation failures to 400 and everything else to 500.
func requestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidWindow),
		errors.Is(err, services.ErrInvalidRange),
		errors.Is(err, services.ErrUnknownBranch),
		errors.Is(err, services.ErrNotPastDate),
		errors.Is(err, utils.ErrInvalidDate):
		utils.RespondError(c, http.StatusBadRequest, err)
	default:
		utils.RespondError(c, http.StatusInternalServerError, err)
	}
}

// Refresh -> POST /api/roster/refresh
//
// Either ?range=today|weekly|monthly for scheduled runs, or a manual
// ?from=&to=&branch= window, which must name a branch and stay within
// ManualMaxDays.
func (rc *RosterController) Refresh(c *gin.Context) {
	req := services.RefreshRequest{
		From:   c.Query("from"),
		To:     c.Query("to"),
		Branch: c.Query("branch"),
	}

	if name := c.Query("range"); name != "" {
		from, to, err := services.RangeWindow(name, rc.Refresher.Today())
		if err != nil {
			requestError(c, err)
			return
		}
		req.From = from.Format(utils.DateLayout)
		req.To = to.Format(utils.DateLayout)
	} else {
		if req.Branch == "" {
			utils.RespondError(c, http.StatusBadRequest, errors.New("branch is required for a manual refresh"))
			return
		}
		if req.From == "" || req.To == "" {
			utils.RespondError(c, http.StatusBadRequest, errors.New("from and to are required"))
			return
		}
		days := req.Days()
		if days == 0 {
			requestError(c, fmt.Errorf("%w: %s..%s", services.ErrInvalidWindow, req.From, req.To))
			return
		}
		if days > services.ManualMaxDays {
			utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("manual refresh is limited to %d days, got %d", services.ManualMaxDays, days))
			return
		}
	}

	res, err := rc.Refresher.Refresh(c.Request.Context(), req)
	if err != nil {
		if res != nil {
			// the store was synced, only propagation failed
			utils.RespondJSON(c, http.StatusInternalServerError, err.Error(), res)
			return
		}
		requestError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Roster refreshed", res)
}

// Sweep -> POST /api/roster/sweep?days=
func (rc *RosterController) Sweep(c *gin.Context) {
	days := services.SweepDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid days %q", raw))
			return
		}
		days = n
	}

	outcomes := rc.Refresher.Sweep(c.Request.Context(), days)
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		utils.RespondJSON(c, http.StatusOK, fmt.Sprintf("Sweep finished, %d of %d branches failed", failed, len(outcomes)), outcomes)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Sweep finished", outcomes)
}

// Cleanup -> POST /api/roster/cleanup
// Removes shifts that started before today without propagating anything.
func (rc *RosterController) Cleanup(c *gin.Context) {
	n, err := rc.Refresher.Engine.PurgePast(c.Request.Context())
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Past shifts removed", gin.H{"deleted": n})
}

// List -> GET /api/roster/list?from=&to=&locationId=
func (rc *RosterController) List(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		utils.RespondError(c, http.StatusBadRequest, errors.New("from and to are required"))
		return
	}

	locationID := 0
	if raw := c.Query("locationId"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid locationId %q", raw))
			return
		}
		locationID = n
	}

	shifts, err := rc.Refresher.ListRoster(c.Request.Context(), from, to, locationID)
	if err != nil {
		requestError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of shifts", shifts)
}

// Occupancy -> GET /api/roster/occupancy?date=
func (rc *RosterController) Occupancy(c *gin.Context) {
	date := c.DefaultQuery("date", rc.Refresher.Today().Format(utils.DateLayout))
	rows, err := rc.OccupancyReporter.Report(c.Request.Context(), date)
	if err != nil {
		requestError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Occupancy for "+date, rows)
}
