package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"github.com/yeremiapane/roster-sync/utils"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFiles []string

	// open builds the App; tests replace it
	open func(*RootOptions) (*App, error)
}

func (o *RootOptions) envFiles() []string {
	return o.EnvFiles
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{open: newApp})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "roster-sync",
		Short:         "Mirror workforce rosters into the scheduling system",
		Long:          "Reconciles published workforce shifts into a local roster store and propagates every change to practitioner availability in the scheduling system.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "env file(s) to load before the environment (default .env)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newProcessCommand(opts))
	cmd.AddCommand(newCleanupCommand(opts))
	cmd.AddCommand(newAppointmentsCommand(opts))
	cmd.AddCommand(newOccupancyCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		logError(err)
		return 1
	}
	return 0
}

func logError(err error) {
	utils.ErrorLogger.WithError(err).Error("command failed")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
