package control

import (
	"context"
	"fmt"
	"math"

	"github.com/hudsonhok/px4-control/estimator"
	"gonum.org/v1/gonum/spatial/r3"
)

// VelocityTracker is a fallback controller producing velocity setpoints: the reference velocity
// plus a proportional position term and a derivative term on the velocity error. Only the first
// point of the window is used.
type VelocityTracker struct {
	Kp       float64 `yaml:"kp"` // 1/s
	Kd       float64 `yaml:"kd"`
	YawGain  float64 `yaml:"yawGain"`    // 1/s
	MaxSpeed float64 `yaml:"maxSpeed"`   // m/s, no limit if zero
	MaxYaw   float64 `yaml:"maxYawRate"` // rad/s, no limit if zero
}

// DefaultVelocityTracker returns gains suitable for a small multirotor.
func DefaultVelocityTracker() VelocityTracker {
	return VelocityTracker{Kp: 1, Kd: 0.2, YawGain: 1, MaxSpeed: 3, MaxYaw: 1}
}

// Validate returns an error for negative or non-finite gains.
func (c VelocityTracker) Validate() error {
	for name, v := range map[string]float64{"kp": c.Kp, "kd": c.Kd, "yawGain": c.YawGain, "maxSpeed": c.MaxSpeed, "maxYawRate": c.MaxYaw} {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("velocity tracker %s=%f must be finite and non-negative", name, v)
		}
	}
	return nil
}

// Compute implements the Controller interface.
func (c VelocityTracker) Compute(_ context.Context, snap estimator.Snapshot, window []TrajectoryPoint) (Command, error) {
	if len(window) == 0 {
		return Command{}, ErrNoReference
	}
	ref := window[0]
	x := snap.State
	ep := r3.Sub(ref.Position, x.Position)
	ev := r3.Sub(ref.Velocity, x.Velocity)
	v := r3.Add(ref.Velocity, r3.Add(r3.Scale(c.Kp, ep), r3.Scale(c.Kd, ev)))
	if n := r3.Norm(v); c.MaxSpeed > 0 && n > c.MaxSpeed {
		v = r3.Scale(c.MaxSpeed/n, v)
	}
	_, _, yaw := x.RollPitchYaw()
	yawRate := c.YawGain * wrapAngle(ref.Yaw-yaw)
	if c.MaxYaw > 0 {
		yawRate = math.Max(-c.MaxYaw, math.Min(c.MaxYaw, yawRate))
	}
	return Command{Kind: VelocityCommand, Stamp: ref.Time, Velocity: v, YawRate: yawRate}, nil
}
