// Telemetry wire schema pushed by the robot-side process
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed marks a payload that could not be decoded as a telemetry message.
var ErrMalformed = errors.New("malformed telemetry message")

// VectorLen is the fixed length of every six-element telemetry field.
const VectorLen = 6

// Vec6 holds a joint, cartesian or force reading.
type Vec6 [VectorLen]float64

// Robot status values reported on the data channel.
const (
	StatusEStop  = "E-STOP"
	StatusAuto   = "AUTO"
	StatusManual = "Manual"
)

// Gear values as sent on the wire by the robot-side process.
const (
	GearNeutral = "중립"
	GearForward = "전진"
	GearReverse = "후진"
)

// GearLabel returns an ASCII label for a wire gear value.
func GearLabel(gear string) string {
	switch gear {
	case GearNeutral:
		return "N"
	case GearForward:
		return "D"
	case GearReverse:
		return "R"
	default:
		return gear
	}
}

// Message is one partial status update. Every field is independently
// optional; a nil field means "no change".
type Message struct {
	RobotStatus       *string   `json:"robot_status,omitempty"`
	Battery           *float64  `json:"battery,omitempty"`
	LinearSpeed       *float64  `json:"linear_speed,omitempty"`
	AngularSpeed      *float64  `json:"angular_speed,omitempty"`
	GripperOpening    *float64  `json:"gripper_opening,omitempty"`
	JointAngles       []float64 `json:"joint_angles,omitempty"`
	MasterJointAngles []float64 `json:"master_joint_angles,omitempty"`
	CartesianPosition []float64 `json:"cartesian_position,omitempty"`
	ForceSensor       []float64 `json:"force_sensor,omitempty"`
	Angle             *float64  `json:"angle,omitempty"`
	Accel             *float64  `json:"accel,omitempty"`
	Brake             *float64  `json:"brake,omitempty"`
	GearStatus        *string   `json:"gear_status,omitempty"`
	Log               *string   `json:"log,omitempty"`
	Camera1FPS        *float64  `json:"camera1_fps,omitempty"`
	Camera2FPS        *float64  `json:"camera2_fps,omitempty"`
	Camera1Latency    *float64  `json:"camera1_latency,omitempty"`
	Camera2Latency    *float64  `json:"camera2_latency,omitempty"`
}

// wireMessage accepts the legacy aliases used by older robot-side servers.
type wireMessage struct {
	Message
	Speed         *float64 `json:"speed,omitempty"`
	SteeringAngle *float64 `json:"steering_angle,omitempty"`
}

// Decode parses one data-channel frame. It either returns a fully validated
// message or an error wrapping ErrMalformed; callers must not mutate any state
// before Decode returns successfully.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m := w.Message
	if m.LinearSpeed == nil {
		m.LinearSpeed = w.Speed
	}
	if m.AngularSpeed == nil {
		m.AngularSpeed = w.SteeringAngle
	}
	for _, f := range []struct {
		name string
		v    []float64
	}{
		{"joint_angles", m.JointAngles},
		{"master_joint_angles", m.MasterJointAngles},
		{"cartesian_position", m.CartesianPosition},
		{"force_sensor", m.ForceSensor},
	} {
		if f.v != nil && len(f.v) != VectorLen {
			return Message{}, fmt.Errorf("%w: %s has %d elements, want %d", ErrMalformed, f.name, len(f.v), VectorLen)
		}
	}
	return m, nil
}

// Present lists the canonical wire names of the fields carried by m.
func (m Message) Present() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(m.RobotStatus != nil, "robot_status")
	add(m.Battery != nil, "battery")
	add(m.LinearSpeed != nil, "linear_speed")
	add(m.AngularSpeed != nil, "angular_speed")
	add(m.GripperOpening != nil, "gripper_opening")
	add(m.JointAngles != nil, "joint_angles")
	add(m.MasterJointAngles != nil, "master_joint_angles")
	add(m.CartesianPosition != nil, "cartesian_position")
	add(m.ForceSensor != nil, "force_sensor")
	add(m.Angle != nil, "angle")
	add(m.Accel != nil, "accel")
	add(m.Brake != nil, "brake")
	add(m.GearStatus != nil, "gear_status")
	add(m.Log != nil, "log")
	add(m.Camera1FPS != nil, "camera1_fps")
	add(m.Camera2FPS != nil, "camera2_fps")
	add(m.Camera1Latency != nil, "camera1_latency")
	add(m.Camera2Latency != nil, "camera2_latency")
	return out
}

// Record is one reconciled telemetry update as exported to sinks and replay
// files.
type Record struct {
	SessionID string    `json:"session_id"`
	Message   Message   `json:"message"`
	View      ViewModel `json:"view"`
	Timestamp time.Time `json:"ts"`
}

// Float returns a pointer to v, for building messages.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v, for building messages.
func String(v string) *string { return &v }
