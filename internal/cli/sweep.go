package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/karupatti/tiffin/internal/store"
	"github.com/karupatti/tiffin/internal/sweeper"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Database       string
	SessionTTL     time.Duration
	EventRetention time.Duration
}

// SweepResult holds the sweep output.
type SweepResult struct {
	SessionsDeleted int64 `json:"sessions_deleted"`
	EventsDeleted   int64 `json:"events_deleted"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep",
		Long: `Delete expired ephemeral sessions and event-log rows past the
analytics window.

Sessions with an in-flight checkout are never deleted. Orders and
order lines are never touched, whatever their age.

Examples:
  tiffin sweep --db ./tiffin.db
  tiffin sweep --db ./tiffin.db --session-ttl 1h --event-retention 168h`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().DurationVar(&opts.SessionTTL, "session-ttl", sweeper.DefaultSessionTTL, "idle session time-to-live")
	cmd.Flags().DurationVar(&opts.EventRetention, "event-retention", sweeper.DefaultEventRetention, "event log retention window")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	sw := sweeper.New(st,
		sweeper.WithSessionTTL(opts.SessionTTL),
		sweeper.WithEventRetention(opts.EventRetention))

	rep, err := sw.Once(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "sweep failed", err)
	}

	result := SweepResult{
		SessionsDeleted: rep.SessionsDeleted,
		EventsDeleted:   rep.EventsDeleted,
	}

	if opts.Format == "json" {
		return outputJSON(cmd.OutOrStdout(), result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Sessions deleted: %d\n", result.SessionsDeleted)
	fmt.Fprintf(w, "Events deleted:   %d\n", result.EventsDeleted)

	return nil
}
