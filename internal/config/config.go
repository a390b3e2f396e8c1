// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"teleop-dash/internal/channel"
	"teleop-dash/internal/recording"
	"teleop-dash/internal/telemetry"
)

// DefaultEndpoint is the robot-side origin used when none is configured.
const DefaultEndpoint = "http://localhost:8000"

// Reconcile mirrors telemetry.ReconcileOptions for YAML.
type Reconcile struct {
	Round                bool `yaml:"round"`
	MirrorJointsToMaster bool `yaml:"mirror_joints_to_master"`
}

// Options converts to the reconciler's options.
func (r Reconcile) Options() telemetry.ReconcileOptions {
	return telemetry.ReconcileOptions{Round: r.Round, MirrorJointsToMaster: r.MirrorJointsToMaster}
}

// Greptime configures the GreptimeDB exporter. An empty endpoint disables it.
type Greptime struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// Export configures where reconciled telemetry is written.
type Export struct {
	File     string   `yaml:"file"`
	EventLog string   `yaml:"event_log"`
	Greptime Greptime `yaml:"greptime"`
}

// Metrics configures the Prometheus endpoint. An empty addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// MockRobot configures the reference robot server.
type MockRobot struct {
	Addr          string        `yaml:"addr"`
	DataInterval  time.Duration `yaml:"data_interval"`
	ImageInterval time.Duration `yaml:"image_interval"`
	Seed          int64         `yaml:"seed"`
	Replay        string        `yaml:"replay"`
}

// Config is the root configuration of the dashboard and mock robot.
type Config struct {
	Endpoint      string                    `yaml:"endpoint"`
	LogFile       string                    `yaml:"log_file"`
	LogLevel      string                    `yaml:"log_level"`
	Reconnect     channel.Policy            `yaml:"reconnect"`
	LogCapacity   int                       `yaml:"log_capacity"`
	RecordingTick time.Duration             `yaml:"recording_tick"`
	Reconcile     Reconcile                 `yaml:"reconcile"`
	Dataset       recording.DatasetSettings `yaml:"dataset"`
	Export        Export                    `yaml:"export"`
	Metrics       Metrics                   `yaml:"metrics"`
	MockRobot     MockRobot                 `yaml:"mock_robot"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Endpoint:      DefaultEndpoint,
		LogLevel:      "info",
		Reconnect:     channel.DefaultPolicy(),
		LogCapacity:   50,
		RecordingTick: time.Second,
		Reconcile:     Reconcile{Round: true},
		Dataset:       recording.DefaultDatasetSettings(),
		Export:        Export{Greptime: Greptime{Database: "public"}},
		MockRobot: MockRobot{
			Addr:          ":8000",
			DataInterval:  time.Second,
			ImageInterval: time.Second,
		},
	}
}

// Load reads configPath, validates it against the CUE schema (embedded when
// cueSchemaPath is empty) and applies it over the defaults. An empty
// configPath yields the defaults. Environment overrides are applied last.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := ValidateWithCue(configPath, data, cueSchemaPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TELEOP_ENDPOINT, GREPTIMEDB_ENDPOINT and
// GREPTIMEDB_TABLE.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("TELEOP_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Export.Greptime.Endpoint = v
	}
	if v := getenv("GREPTIMEDB_TABLE"); v != "" {
		c.Export.Greptime.Table = v
	}
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	if _, err := channel.BaseURL(c.Endpoint); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if err := c.Dataset.Validate(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if c.RecordingTick <= 0 {
		return fmt.Errorf("recording_tick must be positive")
	}
	return nil
}
