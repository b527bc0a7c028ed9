package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/yeremiapane/roster-sync/config"
	"github.com/yeremiapane/roster-sync/controllers"
	"github.com/yeremiapane/roster-sync/router"
	"github.com/yeremiapane/roster-sync/services"
	"github.com/yeremiapane/roster-sync/utils"
)

// withApp opens the App for one command run and closes it afterwards. The
// context given to fn ends on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *App) error) error {
	app, err := opts.open(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, app)
}

func newServeCommand(opts *RootOptions) *cobra.Command {
	var (
		port          string
		drainInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if app.Config.GinMode == gin.ReleaseMode {
					gin.SetMode(gin.ReleaseMode)
				}
				if port == "" {
					port = app.Config.Port
				}

				r := router.SetupRouter(router.Options{JWTSecret: app.Config.TriggerJWTSecret},
					controllers.NewRosterController(app.Refresher, app.Occupancy),
					controllers.NewAppointmentController(app.Counter))

				if drainInterval > 0 {
					go drainLoop(ctx, app.Processor, drainInterval)
				}

				srv := &http.Server{Addr: ":" + port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
				errCh := make(chan error, 1)
				go func() {
					utils.InfoLogger.Infof("Listening on port %s", port)
					errCh <- srv.ListenAndServe()
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}

				utils.InfoLogger.Info("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (default PORT)")
	cmd.Flags().DurationVar(&drainInterval, "drain-interval", 0, "also drain leftover change records on this interval (0 disables)")
	return cmd
}

// drainLoop retries records held back by earlier runs until ctx ends.
func drainLoop(ctx context.Context, p *services.Processor, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Drain(ctx, nil); err != nil && ctx.Err() == nil {
				utils.ErrorLogger.WithError(err).Error("background drain failed")
			}
		}
	}
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	var req services.RefreshRequest
	var rangeName string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch a roster window, reconcile it and propagate the changes",
		Example: `  roster-sync sync --range weekly
  roster-sync sync --from 2030-03-04 --to 2030-03-10 --branch HUR`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rangeName == "" && (req.From == "" || req.To == "") {
				return errors.New("either --range or both --from and --to are required")
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if rangeName != "" {
					from, to, err := services.RangeWindow(rangeName, app.Refresher.Today())
					if err != nil {
						return err
					}
					req.From, req.To = from.Format(utils.DateLayout), to.Format(utils.DateLayout)
				}
				res, err := app.Refresher.Refresh(ctx, req)
				if res != nil {
					if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&req.From, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&req.To, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&req.Branch, "branch", "", "limit to one branch code")
	cmd.Flags().StringVar(&rangeName, "range", "", "named window: today, weekly or monthly")
	return cmd
}

func newSweepCommand(opts *RootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Refresh every branch from today onwards, one branch at a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				outcomes := app.Refresher.Sweep(ctx, days)
				if err := writeJSON(cmd.OutOrStdout(), outcomes); err != nil {
					return err
				}
				failed := 0
				for _, o := range outcomes {
					if o.Error != "" {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d branches failed", failed, len(outcomes))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", services.SweepDays, "days ahead to refresh")
	return cmd
}

func newProcessCommand(opts *RootOptions) *cobra.Command {
	var locations []int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Propagate pending change records without fetching",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				report, err := app.Processor.Drain(ctx, locations)
				if report != nil {
					if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().IntSliceVar(&locations, "location", nil, "only records touching these workforce location ids")
	return cmd
}

func newCleanupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove shifts that started before today without propagating them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				n, err := app.Engine.PurgePast(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int{"deleted": n})
			})
		},
	}
}

func newAppointmentsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "Appointment slot totals per branch and day",
	}
	cmd.AddCommand(newAppointmentsCountCommand(opts))
	cmd.AddCommand(newAppointmentsSyncCommand(opts))
	return cmd
}

func newAppointmentsCountCommand(opts *RootOptions) *cobra.Command {
	var (
		branch, date string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Show the slot total of a past day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if date == "" {
					date = app.Counter.Yesterday()
				}
				n, err := app.Counter.Count(ctx, branch, date, force)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"branch": branch, "date": date, "slots": n})
			})
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "branch code")
	cmd.Flags().StringVar(&date, "date", "", "day, YYYY-MM-DD (default yesterday)")
	cmd.Flags().BoolVar(&force, "force", false, "recompute even when stored")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}

func newAppointmentsSyncCommand(opts *RootOptions) *cobra.Command {
	var date, from, to string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Recompute stored slot totals for every branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				from, to = date, date
			}
			if (from == "") != (to == "") {
				return errors.New("--from and --to must be given together")
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if from == "" {
					from = app.Counter.Yesterday()
					to = from
				}
				out, err := app.Counter.SyncDays(ctx, from, to)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "single past day, YYYY-MM-DD")
	cmd.Flags().StringVar(&from, "from", "", "first past day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last past day, YYYY-MM-DD")
	return cmd
}

func newOccupancyCommand(opts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "occupancy",
		Short: "Report rostered against booked slots per branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if date == "" {
					date = app.Refresher.Today().Format(utils.DateLayout)
				}
				rows, err := app.Occupancy.Report(ctx, date)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day, YYYY-MM-DD (default today)")
	return cmd
}

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		caller string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the trigger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFiles()...)
			if err != nil {
				return err
			}
			token, err := utils.GenerateToken(cfg.TriggerJWTSecret, caller, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "scheduler", "caller name stored in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
