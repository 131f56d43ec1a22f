package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/karupatti/tiffin/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Type     string // optional - filter to one event type
}

// TraceEvent represents a single event in the session timeline.
type TraceEvent struct {
	Seq       int64                  `json:"seq"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	SessionID string       `json:"session_id"`
	Timeline  []TraceEvent `json:"timeline"`
	Total     int          `json:"total"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the event log for a session",
		Long: `Show the append-only event log for a session in seq order.

The event log is the durable record of every state-changing action:
the ephemeral cart can always be rebuilt from it (see 'tiffin replay').

Examples:
  tiffin trace --db ./tiffin.db --session s1
  tiffin trace --db ./tiffin.db --session s1 --type item-added
  tiffin trace --db ./tiffin.db --session s1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id to trace (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter to one event type")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	events, err := st.ReadEvents(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	timeline := buildTimeline(events, opts.Type)

	result := TraceResult{
		SessionID: opts.Session,
		Timeline:  timeline,
		Total:     len(timeline),
	}

	if opts.Format == "json" {
		return outputJSON(cmd.OutOrStdout(), result)
	}

	w := cmd.OutOrStdout()
	if len(timeline) == 0 {
		fmt.Fprintf(w, "No events found for session: %s\n", opts.Session)
		return nil
	}

	fmt.Fprintf(w, "Event log for session: %s\n\n", opts.Session)
	for _, event := range timeline {
		fmt.Fprintf(w, "  [%d] %s %s\n", event.Seq, event.CreatedAt.Format(time.RFC3339), event.Type)
		if opts.Verbose && len(event.Payload) > 0 {
			fmt.Fprintf(w, "       %s\n", formatPayload(event.Payload))
		}
	}
	fmt.Fprintf(w, "\n%d events\n", len(timeline))

	return nil
}

// buildTimeline converts store events to trace timeline events,
// optionally filtered to one event type.
func buildTimeline(events []store.Event, typeFilter string) []TraceEvent {
	timeline := []TraceEvent{}
	for _, event := range events {
		if typeFilter != "" && string(event.Type) != typeFilter {
			continue
		}

		var payload map[string]interface{}
		if len(event.Payload) > 0 {
			// Best effort: an unparseable payload still shows in the raw row.
			_ = json.Unmarshal(event.Payload, &payload)
		}

		timeline = append(timeline, TraceEvent{
			Seq:       event.Seq,
			Type:      string(event.Type),
			Payload:   payload,
			CreatedAt: event.CreatedAt,
		})
	}
	return timeline
}

// formatPayload formats a payload map for display.
// Uses sorted keys to ensure deterministic output.
func formatPayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
