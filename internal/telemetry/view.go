package telemetry

import "math"

// ViewModel is the dashboard's current picture of the robot. It is owned by
// one session and changed only through Reconcile.
type ViewModel struct {
	RobotStatus       string  `json:"robot_status"`
	Battery           float64 `json:"battery"`
	LinearSpeed       float64 `json:"linear_speed"`
	AngularSpeed      float64 `json:"angular_speed"`
	GripperOpening    float64 `json:"gripper_opening"`
	JointAngles       Vec6    `json:"joint_angles"`
	MasterJointAngles Vec6    `json:"master_joint_angles"`
	CartesianPosition Vec6    `json:"cartesian_position"`
	ForceSensor       Vec6    `json:"force_sensor"`
	Angle             float64 `json:"angle"`
	Accel             float64 `json:"accel"`
	Brake             float64 `json:"brake"`
	GearStatus        string  `json:"gear_status"`
	Camera1FPS        float64 `json:"camera1_fps"`
	Camera2FPS        float64 `json:"camera2_fps"`
	Camera1Latency    float64 `json:"camera1_latency"`
	Camera2Latency    float64 `json:"camera2_latency"`
}

// DefaultViewModel returns the state shown before any telemetry arrives.
func DefaultViewModel() ViewModel {
	return ViewModel{
		RobotStatus:    StatusEStop,
		Battery:        85,
		GripperOpening: 30.0,
		GearStatus:     GearNeutral,
		Camera1FPS:     30.0,
		Camera2FPS:     29.8,
		Camera1Latency: 12.3,
		Camera2Latency: 11.5,
	}
}

// ReconcileOptions tunes how messages are folded into the view.
type ReconcileOptions struct {
	// Round rounds every numeric field to one decimal place.
	Round bool
	// MirrorJointsToMaster seeds the master joint display from joint_angles
	// when a message carries joint_angles without master_joint_angles.
	MirrorJointsToMaster bool
}

// DefaultReconcileOptions rounds for display and keeps master joints
// independent.
func DefaultReconcileOptions() ReconcileOptions {
	return ReconcileOptions{Round: true}
}

// Reconcile returns v with every field present in m replaced. Fields absent
// from m keep their value from v. Reconcile does not retain m's slices.
func Reconcile(v ViewModel, m Message, opts ReconcileOptions) ViewModel {
	num := func(dst *float64, src *float64) {
		if src == nil {
			return
		}
		if opts.Round {
			*dst = Round1(*src)
		} else {
			*dst = *src
		}
	}
	vec := func(dst *Vec6, src []float64) {
		if src == nil {
			return
		}
		var out Vec6
		for i := 0; i < VectorLen && i < len(src); i++ {
			out[i] = src[i]
			if opts.Round {
				out[i] = Round1(src[i])
			}
		}
		*dst = out
	}

	if m.RobotStatus != nil {
		v.RobotStatus = *m.RobotStatus
	}
	num(&v.Battery, m.Battery)
	num(&v.LinearSpeed, m.LinearSpeed)
	num(&v.AngularSpeed, m.AngularSpeed)
	num(&v.GripperOpening, m.GripperOpening)
	vec(&v.JointAngles, m.JointAngles)
	vec(&v.CartesianPosition, m.CartesianPosition)
	vec(&v.ForceSensor, m.ForceSensor)

	switch {
	case m.MasterJointAngles != nil:
		vec(&v.MasterJointAngles, m.MasterJointAngles)
	case opts.MirrorJointsToMaster && m.JointAngles != nil:
		vec(&v.MasterJointAngles, m.JointAngles)
	}

	num(&v.Angle, m.Angle)
	num(&v.Accel, m.Accel)
	num(&v.Brake, m.Brake)
	if m.GearStatus != nil {
		v.GearStatus = *m.GearStatus
	}
	num(&v.Camera1FPS, m.Camera1FPS)
	num(&v.Camera2FPS, m.Camera2FPS)
	num(&v.Camera1Latency, m.Camera1Latency)
	num(&v.Camera2Latency, m.Camera2Latency)
	return v
}

// Round1 rounds x half away from zero to one decimal place.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}
