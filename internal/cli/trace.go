package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/uabridge/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string // empty means the latest session
	Variable string // optional - filter to one variable
	Action   string // optional - filter to one action
	Limit    int
	Sessions bool // list sessions instead of events
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session  string          `json:"session"`
	Timeline []journal.Entry `json:"timeline"`
	Stats    TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Inbound     int            `json:"inbound"`
	Outbound    int            `json:"outbound"`
	ByAction    map[string]int `json:"by_action"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show journaled bridge events",
		Long: `Show what the bridge did during a run, as recorded in its journal.

Every controller record and every address-space change is journaled with
the action the bridge took: registered, applied, unchanged, suppressed,
forwarded, dropped, rejected, or a session transition.

Without --session the most recent run is shown.

Examples:
  uabridge trace --db ./journal.db --sessions
  uabridge trace --db ./journal.db
  uabridge trace --db ./journal.db --variable Pump --action suppressed
  uabridge trace --db ./journal.db --session 0192... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to show (default: latest)")
	cmd.Flags().StringVar(&opts.Variable, "variable", "", "filter to a variable name")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to an action")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")
	cmd.Flags().BoolVar(&opts.Sessions, "sessions", false, "list recorded sessions")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	if opts.Sessions {
		return listSessions(ctx, opts, st, cmd)
	}

	session := opts.Session
	if session == "" {
		sessions, err := st.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		if len(sessions) == 0 {
			if opts.Format == "json" {
				return outputTraceJSON(cmd, TraceResult{Timeline: []journal.Entry{}, Stats: TraceStats{ByAction: map[string]int{}}})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
			return nil
		}
		session = sessions[len(sessions)-1].ID
	}

	entries, err := st.Read(ctx, journal.Filter{
		Session:  session,
		Variable: opts.Variable,
		Action:   journal.Action(opts.Action),
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{
		Session:  session,
		Timeline: entries,
		Stats:    buildStats(entries),
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	if len(entries) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No events found for session: %s\n", session)
		return nil
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func listSessions(ctx context.Context, opts *TraceOptions, st *journal.Store, cmd *cobra.Command) error {
	sessions, err := st.Sessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(sessions)
	}

	w := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %s %s -> %s  %d events\n",
			s.ID, s.StartedAt.Format(time.RFC3339), s.Transport, s.Inbound, s.Outbound, s.Events)
	}
	return nil
}

func buildStats(entries []journal.Entry) TraceStats {
	stats := TraceStats{
		TotalEvents: len(entries),
		ByAction:    make(map[string]int),
	}
	for _, e := range entries {
		switch e.Direction {
		case journal.Inbound:
			stats.Inbound++
		case journal.Outbound:
			stats.Outbound++
		}
		stats.ByAction[string(e.Action)]++
	}
	return stats
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status:  "ok",
		Data:    result,
		Session: result.Session,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for Session: %s\n", result.Session)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	for _, e := range result.Timeline {
		formatTimelineEvent(w, e, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Inbound:      %d\n", result.Stats.Inbound)
	fmt.Fprintf(w, "  Outbound:     %d\n", result.Stats.Outbound)

	// Sort keys for deterministic output
	actions := make([]string, 0, len(result.Stats.ByAction))
	for a := range result.Stats.ByAction {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(w, "  %-12s  %d\n", a+":", result.Stats.ByAction[a])
	}

	return nil
}

// formatTimelineEvent formats a single journal entry for text output.
func formatTimelineEvent(w io.Writer, e journal.Entry, verbose bool) {
	arrow := "->"
	if e.Direction == journal.Outbound {
		arrow = "<-"
	}
	line := fmt.Sprintf("  [%d] %s %-10s", e.Seq, arrow, e.Action)
	if e.Variable != "" {
		line += " " + e.Variable
	}
	if e.Value != "" {
		line += fmt.Sprintf(" = %s", e.Value)
		if e.Kind != "" {
			line += fmt.Sprintf(" (%s)", e.Kind)
		}
	}
	if e.Status != "" {
		line += " [" + e.Status + "]"
	}
	fmt.Fprintln(w, line)

	if verbose {
		if e.Detail != "" {
			fmt.Fprintf(w, "       Detail: %s\n", e.Detail)
		}
		fmt.Fprintf(w, "       At: %s  Slot: %d\n", e.RecordedAt.Format(time.RFC3339Nano), e.Slot)
	}
}
