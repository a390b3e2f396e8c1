package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"teleop-dash/internal/config"
)

var (
	configPath string
	schemaPath string
)

var rootCmd = &cobra.Command{
	Use:   "teleop-dash",
	Short: "Robot teleoperation dashboard",
	Long:  "teleop-dash monitors a teleoperated robot over WebSocket channels, controls dataset recording and exports telemetry.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath, schemaPath)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration YAML (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(mockRobotCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(grafanaCmd)
}
