package recording

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FileFormat selects the on-disk format of a recorded dataset.
type FileFormat string

// Supported dataset file formats.
const (
	FormatJSON FileFormat = "json"
	FormatCSV  FileFormat = "csv"
	FormatYAML FileFormat = "yaml"
	FormatHDF5 FileFormat = "hdf5"
)

// ParseFileFormat accepts a format name case-insensitively.
func ParseFileFormat(s string) (FileFormat, error) {
	f := FileFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatJSON, FormatCSV, FormatYAML, FormatHDF5:
		return f, nil
	}
	return "", fmt.Errorf("unknown file format %q (want json, csv, yaml or hdf5)", s)
}

// RobotArmSignals selects which arm signals are persisted.
type RobotArmSignals struct {
	Position bool `json:"position" yaml:"position"`
	Velocity bool `json:"velocity" yaml:"velocity"`
	Current  bool `json:"current" yaml:"current"`
	Gripper  bool `json:"gripper" yaml:"gripper"`
}

// MobileSignals selects which mobile-base signals are persisted.
type MobileSignals struct {
	LinearVelocity  bool `json:"linearVelocity" yaml:"linear_velocity"`
	AngularVelocity bool `json:"angularVelocity" yaml:"angular_velocity"`
	Odom            bool `json:"odom" yaml:"odom"`
}

// SensorSignals selects which sensor streams are persisted.
type SensorSignals struct {
	Camera1 bool `json:"camera1" yaml:"camera1"`
	Camera2 bool `json:"camera2" yaml:"camera2"`
	Lidar   bool `json:"lidar" yaml:"lidar"`
	Map     bool `json:"map" yaml:"map"`
}

// DatasetSettings is the one-shot configuration snapshot sent on "save
// settings". The JSON names match what the robot-side process expects.
type DatasetSettings struct {
	Hertz      int             `json:"Hertz" yaml:"hertz"`
	RobotArm   RobotArmSignals `json:"robotArm" yaml:"robot_arm"`
	Mobile     MobileSignals   `json:"mobile" yaml:"mobile"`
	Sensors    SensorSignals   `json:"sensors" yaml:"sensors"`
	SavePath   string          `json:"savePath" yaml:"save_path"`
	SaveTask   string          `json:"saveTask" yaml:"save_task"`
	FileName   string          `json:"fileName" yaml:"file_name"`
	FileFormat FileFormat      `json:"fileFormat" yaml:"file_format"`
	RobotSize  string          `json:"robotSize" yaml:"robot_size"`
}

// DefaultDatasetSettings mirrors the robot-side defaults.
func DefaultDatasetSettings() DatasetSettings {
	return DatasetSettings{
		Hertz:      10,
		SavePath:   ".",
		SaveTask:   "pick_and_place red cube",
		FileName:   "data_1",
		FileFormat: FormatJSON,
	}
}

// Validate checks the settings before they are sent.
func (s DatasetSettings) Validate() error {
	if s.Hertz <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", s.Hertz)
	}
	if _, err := ParseFileFormat(string(s.FileFormat)); err != nil {
		return err
	}
	return nil
}

// Directive types sent on the settings channel.
const (
	DirectiveStart          = "start_recording"
	DirectiveSave           = "save_recording"
	DirectiveDiscard        = "discard_recording"
	DirectiveDatasetSetting = "dataset_setting"
)

// Directive is a control message with no payload besides its type.
type Directive struct {
	Type string `json:"type"`
}

type settingsEnvelope struct {
	Type string `json:"type"`
	DatasetSettings
}

// EncodeSettings renders the dataset_setting directive.
func EncodeSettings(s DatasetSettings) ([]byte, error) {
	return json.Marshal(settingsEnvelope{Type: DirectiveDatasetSetting, DatasetSettings: s})
}

// EncodeDirective renders a payload-free directive.
func EncodeDirective(kind string) ([]byte, error) {
	return json.Marshal(Directive{Type: kind})
}

// ApplyOverrides updates s from a comma separated list of key=value pairs,
// as typed into the dashboard's settings prompt. Recognised keys: hz, path,
// task, file, format, size, and the signal toggles arm.position,
// arm.velocity, arm.current, arm.gripper, mobile.linear, mobile.angular,
// mobile.odom, sensor.camera1, sensor.camera2, sensor.lidar, sensor.map.
func ApplyOverrides(s DatasetSettings, input string) (DatasetSettings, error) {
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return s, fmt.Errorf("expected key=value, got %q", part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if err := applyOverride(&s, key, val); err != nil {
			return s, err
		}
	}
	return s, nil
}

func applyOverride(s *DatasetSettings, key, val string) error {
	switch key {
	case "hz", "hertz":
		var hz int
		if _, err := fmt.Sscanf(val, "%d", &hz); err != nil {
			return fmt.Errorf("invalid hz %q", val)
		}
		s.Hertz = hz
		return nil
	case "path":
		s.SavePath = val
		return nil
	case "task":
		s.SaveTask = val
		return nil
	case "file":
		s.FileName = val
		return nil
	case "format":
		f, err := ParseFileFormat(val)
		if err != nil {
			return err
		}
		s.FileFormat = f
		return nil
	case "size":
		s.RobotSize = val
		return nil
	}

	toggles := map[string]*bool{
		"arm.position":   &s.RobotArm.Position,
		"arm.velocity":   &s.RobotArm.Velocity,
		"arm.current":    &s.RobotArm.Current,
		"arm.gripper":    &s.RobotArm.Gripper,
		"mobile.linear":  &s.Mobile.LinearVelocity,
		"mobile.angular": &s.Mobile.AngularVelocity,
		"mobile.odom":    &s.Mobile.Odom,
		"sensor.camera1": &s.Sensors.Camera1,
		"sensor.camera2": &s.Sensors.Camera2,
		"sensor.lidar":   &s.Sensors.Lidar,
		"sensor.map":     &s.Sensors.Map,
	}
	dst, ok := toggles[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	switch strings.ToLower(val) {
	case "1", "true", "on", "yes":
		*dst = true
	case "0", "false", "off", "no":
		*dst = false
	default:
		return fmt.Errorf("invalid value %q for %s", val, key)
	}
	return nil
}
