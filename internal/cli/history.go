package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/acolyte-tracking/dashboard/internal/output"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
)

var historyFlagLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded annotation runs",
	Long: `Without arguments, list recent annotation runs. With a run id, show the
try count and score summary recorded for each session in that run.

Examples:
  metricsctl history
  metricsctl history --limit 5
  metricsctl history 6f1c2a9e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyFlagLimit, "limit", 20, "Maximum runs to list (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	rt, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	store := rt.history()
	if store == nil {
		return fmt.Errorf("annotation history is disabled")
	}

	if len(args) == 1 {
		results, err := store.Results(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("run %s not found", args[0])
		}
		return printResults(cmd.OutOrStdout(), results)
	}

	runs, err := store.Runs(cmd.Context(), historyFlagLimit)
	if err != nil {
		return err
	}
	return printRuns(cmd.OutOrStdout(), runs)
}

func printRuns(w io.Writer, runs []models.AnnotationRun) error {
	if flagJSON {
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, output.StyleMuted.Render("No annotation runs recorded."))
		return nil
	}

	tbl := output.NewTable("Run ID", "Started (UTC)", "Source", "Agent", "Model", "Parsed")
	tbl.MaxCellWidth = 0
	for _, r := range runs {
		tbl.AddRow(
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Source,
			r.Agent,
			r.Model,
			strconv.Itoa(r.Parsed)+"/"+strconv.Itoa(r.Sessions),
		)
	}
	_, err := tbl.WriteTo(w)
	return err
}

func printResults(w io.Writer, results []models.AnnotationResult) error {
	if flagJSON {
		return writeJSON(w, results)
	}

	tbl := output.NewTable("Session ID", "Agent", "Tries", "Scores")
	for _, r := range results {
		tries := r.TryCount
		if r.Failed() {
			tries = output.StyleWarning.Render(tries)
		}
		tbl.AddRow(r.SessionID, r.Agent, tries, r.ScoreSummary)
	}
	_, err := tbl.WriteTo(w)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
