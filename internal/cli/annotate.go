package cli

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/acolyte-tracking/dashboard/internal/output"
	"github.com/acolyte-tracking/dashboard/internal/storage/models"
	"github.com/acolyte-tracking/dashboard/pkg/logger"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Extract try counts and scores for sessions with the completion model",
	Long: `Annotate sends each session transcript to the completion model and
prints the sessions with the extracted try count and score summary.
Sessions the model cannot read are shown as "null". Each run is recorded
in the annotation history unless --no-record is given.`,
	RunE: runAnnotate,
}

var annotateFlagNoRecord bool

func init() {
	addViewFlags(annotateCmd)
	annotateCmd.Flags().BoolVar(&annotateFlagNoRecord, "no-record", false, "Do not record this run in the annotation history")
	rootCmd.AddCommand(annotateCmd)
}

func runAnnotate(cmd *cobra.Command, _ []string) error {
	items, rt, err := loadView(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ann, model := rt.annotator(cmd.Context())
	started := time.Now().UTC()

	var done int32
	total := len(items)
	ann.AnnotateAll(cmd.Context(), items, func(_ int, _ models.SessionMetrics) {
		n := atomic.AddInt32(&done, 1)
		if !flagJSON {
			fmt.Fprintf(os.Stderr, "\r%s", output.StyleMuted.Render(fmt.Sprintf("annotated %d/%d", n, total)))
		}
	})
	if !flagJSON && total > 0 {
		fmt.Fprintln(os.Stderr)
	}

	if !annotateFlagNoRecord {
		if store := rt.history(); store != nil {
			run, results := models.NewRun(uuid.NewString(), "cli", flagAgent, model, started, time.Now().UTC(), items)
			if err := store.RecordRun(cmd.Context(), run, results); err != nil {
				logger.Warn("Failed to record annotation run", zap.Error(err))
			} else {
				logger.Info("Annotation run recorded", zap.String("run_id", run.ID), zap.Int("parsed", run.Parsed))
			}
		}
	}

	return printSessions(cmd.OutOrStdout(), items, true)
}
