// Package cli contains the cobra command tree for metricsctl.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/acolyte-tracking/dashboard/internal/output"
)

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

var (
	flagConfig  string
	flagNoColor bool
	flagJSON    bool
	flagAgent   string
)

var rootCmd = &cobra.Command{
	Use:   "metricsctl",
	Short: "Inspect practice-session metrics from the terminal",
	Long: `metricsctl reads the practice-session tracking tables, derives the
same per-session metrics the dashboard shows, and prints or exports them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		output.SetNoColor(flagNoColor || !isatty.IsTerminal(os.Stdout.Fd()))
	},
}

// Execute is the entry point called from main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "all", "Agent label to filter by, or 'all'")
}
