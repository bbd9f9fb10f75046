package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/acolyte-tracking/dashboard/internal/export"
)

var (
	exportFlagFormat string
	exportFlagOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write sessions to a CSV, JSON or YAML file",
	Long: `Export writes the filtered, sorted sessions to a file. Without --out the
file is named like the dashboard download, e.g. session_metrics_UTC_2025-01-15.csv.
Use --out - to write to stdout.`,
	RunE: runExport,
}

func init() {
	addViewFlags(exportCmd)
	exportCmd.Flags().StringVar(&exportFlagFormat, "format", "csv", "Export format: csv, json, yaml")
	exportCmd.Flags().StringVar(&exportFlagOut, "out", "", "Output path, or - for stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	exporter, err := export.NewExporter(exportFlagFormat)
	if err != nil {
		return err
	}

	items, rt, err := loadView(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if exportFlagOut == "-" {
		return exporter.Export(items, cmd.OutOrStdout())
	}

	path := exportFlagOut
	if path == "" {
		path = export.Filename("session_metrics", exporter.Extension(), time.Now())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := exporter.Export(items, f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d sessions to %s\n", len(items), path)
	return nil
}
