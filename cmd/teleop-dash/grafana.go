package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"teleop-dash/internal/grafana"
)

var (
	grafanaOut   string
	grafanaTable string
)

var grafanaCmd = &cobra.Command{
	Use:   "grafana",
	Short: "Render the Grafana dashboard for exported telemetry",
	Long:  "grafana writes a dashboard JSON for the GreptimeDB telemetry table. GREPTIMEDB_DATASOURCE_UID must be set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		table := grafanaTable
		if table == "" {
			table = cfg.Export.Greptime.Table
		}
		if err := grafana.Render(grafanaOut, table); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s/%s\n", grafanaOut, grafana.OutputFile)
		return nil
	},
}

func init() {
	grafanaCmd.Flags().StringVar(&grafanaOut, "out", "build", "Output directory")
	grafanaCmd.Flags().StringVar(&grafanaTable, "table", "", "Telemetry table (defaults to config or teleop_telemetry)")
}
