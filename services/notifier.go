package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/roster-sync/utils"
)

// FirstShiftNotice tells a locum about their first shift at a branch.
type FirstShiftNotice struct {
	IdentityID int    `json:"optomId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Branch     string `json:"branch"`
	BranchName string `json:"branchName"`
	Date       string `json:"date"`
	Start      string `json:"start"`
	Finish     string `json:"finish"`
	Username   string `json:"username,omitempty"`
}

// Notifier delivers first-shift notices. Delivery is best effort.
type Notifier interface {
	NotifyFirstShift(ctx context.Context, n FirstShiftNotice) error
}

// LogNotifier writes notices to the info log.
type LogNotifier struct{}

func (LogNotifier) NotifyFirstShift(_ context.Context, n FirstShiftNotice) error {
	utils.InfoLogger.WithFields(logrus.Fields{
		"optom_id": n.IdentityID,
		"email":    n.Email,
		"branch":   n.Branch,
		"date":     n.Date,
		"start":    n.Start,
		"finish":   n.Finish,
		"username": n.Username,
	}).Info("First shift at branch")
	return nil
}
