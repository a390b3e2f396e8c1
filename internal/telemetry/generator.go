package telemetry

import (
	"math/rand"
	"time"
)

// Generator produces plausible random status messages for the reference
// robot server.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator. A zero seed uses the current time.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Next returns a message carrying the full field set.
func (g *Generator) Next() Message {
	gears := []string{GearNeutral, GearForward, GearReverse}
	statuses := []string{StatusEStop, StatusAuto, StatusManual}
	return Message{
		RobotStatus:       String(statuses[g.rng.Intn(len(statuses))]),
		Battery:           Float(g.uniform(0, 100)),
		LinearSpeed:       Float(g.uniform(0, 2)),
		AngularSpeed:      Float(g.uniform(-30, 30)),
		GripperOpening:    Float(g.uniform(0, 50)),
		JointAngles:       g.vector(0, 180),
		MasterJointAngles: g.vector(0, 180),
		CartesianPosition: g.vector(-1, 1),
		ForceSensor:       g.vector(0, 10),
		Angle:             Float(g.uniform(-90, 90)),
		Accel:             Float(float64(g.rng.Intn(101))),
		Brake:             Float(float64(g.rng.Intn(101))),
		GearStatus:        String(gears[g.rng.Intn(len(gears))]),
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *Generator) vector(lo, hi float64) []float64 {
	v := make([]float64, VectorLen)
	for i := range v {
		v[i] = g.uniform(lo, hi)
	}
	return v
}
