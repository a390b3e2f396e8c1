package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"teleop-dash/internal/config"
	"teleop-dash/internal/logging"
	"teleop-dash/internal/robotsim"
)

var (
	mockAddr     string
	mockReplay   string
	mockInterval time.Duration
)

var mockRobotCmd = &cobra.Command{
	Use:   "mock-robot",
	Short: "Run the reference robot server",
	Long:  "mock-robot serves /ws/data, /ws/image and /ws/setting with generated or replayed telemetry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyMockFlags(cmd, cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runMockRobot(ctx, cfg)
	},
}

func applyMockFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.MockRobot.Addr = mockAddr
	}
	if cmd.Flags().Changed("replay") {
		cfg.MockRobot.Replay = mockReplay
	}
	if cmd.Flags().Changed("interval") {
		cfg.MockRobot.DataInterval = mockInterval
		cfg.MockRobot.ImageInterval = mockInterval
	}
}

func runMockRobot(ctx context.Context, cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logging.New(os.Stderr, level)

	var src robotsim.Source = robotsim.NewRandomSource(cfg.MockRobot.Seed)
	if cfg.MockRobot.Replay != "" {
		rs, err := robotsim.NewReplaySource(cfg.MockRobot.Replay)
		if err != nil {
			return err
		}
		src = rs
		log.Info("[RobotSim] replaying records", "file", cfg.MockRobot.Replay)
	}

	srv := robotsim.NewServer(robotsim.Options{
		Source:        src,
		DataInterval:  cfg.MockRobot.DataInterval,
		ImageInterval: cfg.MockRobot.ImageInterval,
		Logger:        log,
	})
	return srv.Start(ctx, cfg.MockRobot.Addr)
}

func init() {
	mockRobotCmd.Flags().StringVar(&mockAddr, "addr", ":8000", "Listen address")
	mockRobotCmd.Flags().StringVar(&mockReplay, "replay", "", "Replay a recorded telemetry JSONL file instead of random values")
	mockRobotCmd.Flags().DurationVar(&mockInterval, "interval", time.Second, "Data and image push interval (e.g. 500ms, 2s)")
}
