package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/acolyte-tracking/dashboard/internal/output"
	"github.com/acolyte-tracking/dashboard/internal/registry"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agent labels and the tables behind them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printAgents(cmd.OutOrStdout(), registry.Default())
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func printAgents(w io.Writer, reg *registry.Registry) error {
	if flagJSON {
		return writeJSON(w, reg.Specs())
	}

	tbl := output.NewTable("Agent", "Table")
	tbl.MaxCellWidth = 0
	for _, s := range reg.Specs() {
		tbl.AddRow(s.AgentLabel, s.TableName)
	}
	_, err := tbl.WriteTo(w)
	return err
}
