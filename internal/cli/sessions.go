package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/acolyte-tracking/dashboard/internal/output"
	"github.com/acolyte-tracking/dashboard/internal/registry"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/internal/view"
)

var (
	sessionsFlagSort   string
	sessionsFlagOrder  string
	sessionsFlagSearch string
	sessionsFlagLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions with their derived metrics",
	Long: `List every practice session across the tracking tables.

Examples:
  metricsctl sessions                               # newest first
  metricsctl sessions --sort duration --order desc  # longest sessions first
  metricsctl sessions --agent "101 - Block 5 - Practice Session"
  metricsctl sessions --search "Total Score" --limit 20`,
	RunE: runSessions,
}

func init() {
	addViewFlags(sessionsCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func addViewFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&sessionsFlagSort, "sort", "date", "Sort by: date, agent, conversation_count, start_time, end_time, duration")
	cmd.Flags().StringVar(&sessionsFlagOrder, "order", "desc", "Sort order: asc or desc")
	cmd.Flags().StringVar(&sessionsFlagSearch, "search", "", "Keep sessions whose id, questions or responses contain this text")
	cmd.Flags().IntVar(&sessionsFlagLimit, "limit", 0, "Maximum sessions to display (0 for all)")
}

func runSessions(cmd *cobra.Command, _ []string) error {
	items, rt, err := loadView(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	return printSessions(cmd.OutOrStdout(), items, false)
}

// loadView aggregates and presents sessions per the shared view flags.
func loadView(cmd *cobra.Command) ([]models.SessionMetrics, *runtime, error) {
	field, err := view.ParseSortField(sessionsFlagSort)
	if err != nil {
		return nil, nil, err
	}
	order, err := view.ParseSortOrder(sessionsFlagOrder)
	if err != nil {
		return nil, nil, err
	}

	if flagAgent != registry.AllAgents && flagAgent != "" && !registry.Default().HasAgent(flagAgent) {
		return nil, nil, fmt.Errorf("unknown agent %q (see 'metricsctl agents')", flagAgent)
	}

	rt, err := connect(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	items, err := rt.aggregator.Sessions(cmd.Context(), flagAgent)
	if err != nil {
		rt.Close()
		return nil, nil, fmt.Errorf("aggregating sessions: %w", err)
	}
	items = view.Present(view.Search(items, sessionsFlagSearch), flagAgent, field, order)
	if sessionsFlagLimit > 0 && len(items) > sessionsFlagLimit {
		items = items[:sessionsFlagLimit]
	}
	return items, rt, nil
}

func printSessions(w io.Writer, items []models.SessionMetrics, annotated bool) error {
	if flagJSON {
		return writeJSON(w, items)
	}

	if len(items) == 0 {
		fmt.Fprintln(w, output.StyleMuted.Render("No sessions found."))
		return nil
	}

	_, err := sessionTable(items, annotated).WriteTo(w)
	return err
}

func sessionTable(items []models.SessionMetrics, annotated bool) *output.Table {
	headers := []string{"Session ID", "Date", "Agent", "Conv", "Start", "End", "Duration"}
	if annotated {
		headers = append(headers, "Tries", "Scores")
	}
	tbl := output.NewTable(headers...)
	for _, m := range items {
		row := []string{
			m.SessionID,
			m.Date,
			m.Agent,
			strconv.Itoa(m.ConversationCount),
			m.StartTime,
			m.EndTime,
			view.FormatDuration(view.Duration(m)),
		}
		if annotated {
			row = append(row, deref(m.TryCount), deref(m.ScoreSummary))
		}
		tbl.AddRow(row...)
	}
	return tbl
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
