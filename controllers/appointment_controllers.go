package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/roster-sync/services"
	"github.com/yeremiapane/roster-sync/utils"
)

type AppointmentController struct {
	Counter *services.AppointmentCounter
}

func NewAppointmentController(counter *services.AppointmentCounter) *AppointmentController {
	return &AppointmentController{Counter: counter}
}

// Count -> GET /api/appointments/count?branch=&date=
// Past days answer the stored slot total; today and later answer the live
// number of bookings. Stored totals are only recomputed through Sync.
func (ac *AppointmentController) Count(c *gin.Context) {
	branch, date := c.Query("branch"), c.Query("date")
	if branch == "" || date == "" {
		utils.RespondError(c, http.StatusBadRequest, errors.New("branch and date are required"))
		return
	}
	if _, ok := ac.Counter.Directory.ByCode(branch); !ok {
		requestError(c, fmt.Errorf("%w: %s", services.ErrUnknownBranch, branch))
		return
	}
	if _, err := utils.ParseDate(date, ac.Counter.Reference); err != nil {
		requestError(c, err)
		return
	}
	if ac.Counter.IsPast(date) {
		slots, err := ac.Counter.Count(c.Request.Context(), branch, date, false)
		if err != nil {
			requestError(c, err)
			return
		}
		utils.RespondJSON(c, http.StatusOK, "Appointment slots", gin.H{
			"branch": branch,
			"date":   date,
			"slots":  slots,
		})
		return
	}

	booked, err := ac.Counter.Booked(c.Request.Context(), branch, date)
	if err != nil {
		utils.RespondError(c, http.StatusBadGateway, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Appointments booked", gin.H{
		"branch": branch,
		"date":   date,
		"slots":  0,
		"booked": booked,
	})
}

// Sync -> POST /api/appointments/sync?date= or ?from=&to=
// Recomputes stored totals for every branch. Only past days are accepted;
// without parameters yesterday is synced.
func (ac *AppointmentController) Sync(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if date := c.Query("date"); date != "" {
		from, to = date, date
	}
	if from == "" && to == "" {
		from = ac.Counter.Yesterday()
		to = from
	}
	if from == "" || to == "" {
		utils.RespondError(c, http.StatusBadRequest, errors.New("from and to must be given together"))
		return
	}

	out, err := ac.Counter.SyncDays(c.Request.Context(), from, to)
	if err != nil {
		requestError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Appointment counts synced", out)
}
