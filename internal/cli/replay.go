package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karupatti/tiffin/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string
	Restore  bool
}

// ReplayResult holds the replay check output.
type ReplayResult struct {
	SessionID   string             `json:"session_id"`
	Consistent  bool               `json:"consistent"`
	Divergences []store.Divergence `json:"divergences,omitempty"`
	Restored    bool               `json:"restored,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Verify a session against its event log",
		Long: `Rebuild a session's ephemeral state from the event log and compare
it against the stored rows.

The ephemeral tier is a derived cache: after a crash or an overly
eager sweep, the event log alone decides what the session looked
like. With --restore, divergent or missing ephemeral rows are
rewritten from the rebuilt state.

Exit codes:
  0 - state is consistent with the log (or was restored)
  1 - divergence detected (without --restore)
  2 - command error (bad path, unknown session, ...)

Examples:
  tiffin replay --db ./tiffin.db --session s1
  tiffin replay --db ./tiffin.db --session s1 --restore`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id to verify (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().BoolVar(&opts.Restore, "restore", false, "rewrite ephemeral rows from the rebuilt state")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	divs, err := st.CheckReplay(ctx, opts.Session)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return WrapExitError(ExitCommandError, "no events for session", err)
		}
		return WrapExitError(ExitCommandError, "failed to check replay", err)
	}

	result := ReplayResult{
		SessionID:   opts.Session,
		Consistent:  len(divs) == 0,
		Divergences: divs,
	}

	if !result.Consistent && opts.Restore {
		rs, err := st.Rebuild(ctx, opts.Session)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to rebuild session", err)
		}
		if err := st.RestoreSession(ctx, rs); err != nil {
			return WrapExitError(ExitCommandError, "failed to restore session", err)
		}
		result.Restored = true
	}

	if opts.Format == "json" {
		if err := outputJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printReplayText(cmd, result)
	}

	if !result.Consistent && !result.Restored {
		return NewExitError(ExitFailure, fmt.Sprintf("%d divergences detected", len(divs)))
	}

	return nil
}

func printReplayText(cmd *cobra.Command, result ReplayResult) {
	w := cmd.OutOrStdout()

	if result.Consistent {
		fmt.Fprintf(w, "Session %s: consistent with event log\n", result.SessionID)
		return
	}

	fmt.Fprintf(w, "Session %s: %d divergences\n\n", result.SessionID, len(result.Divergences))
	for _, d := range result.Divergences {
		fmt.Fprintf(w, "  %-20s stored=%s rebuilt=%s\n", d.Field, d.Stored, d.Rebuilt)
	}

	if result.Restored {
		fmt.Fprintf(w, "\nEphemeral state restored from event log\n")
	}
}
