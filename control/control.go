// Package control is the consumer side of the estimator: it turns state snapshots and a
// reference trajectory into vehicle commands at a fixed rate, while the vehicle allows it.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/hudsonhok/px4-control/estimator"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// TrajectoryPoint is a reference the vehicle should reach at Time.
type TrajectoryPoint struct {
	Time     time.Time
	Position r3.Vec
	Velocity r3.Vec
	Yaw      float64
}

func (p TrajectoryPoint) String() string {
	return fmt.Sprintf("{t=%s p=%v v=%v yaw=%.3f}", p.Time.Format(time.RFC3339Nano), p.Position, p.Velocity, p.Yaw)
}

// CommandKind selects which setpoint of a Command the vehicle should track.
type CommandKind int

const (
	// VelocityCommand tracks Velocity and YawRate.
	VelocityCommand CommandKind = iota
	// AttitudeCommand tracks Attitude and Thrust.
	AttitudeCommand
)

func (k CommandKind) String() string {
	switch k {
	case VelocityCommand:
		return "velocity"
	case AttitudeCommand:
		return "attitude"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is a setpoint for the flight controller.
type Command struct {
	Kind     CommandKind
	Stamp    time.Time
	Velocity r3.Vec // m/s, world frame
	YawRate  float64
	Attitude quat.Number
	Thrust   float64 // normalized in [0, 1]
}

// Controller computes a command from the current estimate and the upcoming reference points.
// Model predictive controllers use the whole window, simpler ones only its first point.
type Controller interface {
	Compute(ctx context.Context, snap estimator.Snapshot, window []TrajectoryPoint) (Command, error)
}

// ControllerFunc adapts a function to the Controller interface.
type ControllerFunc func(ctx context.Context, snap estimator.Snapshot, window []TrajectoryPoint) (Command, error)

// Compute implements the Controller interface.
func (f ControllerFunc) Compute(ctx context.Context, snap estimator.Snapshot, window []TrajectoryPoint) (Command, error) {
	return f(ctx, snap, window)
}

// CommandSink delivers commands to the vehicle.
type CommandSink interface {
	Send(ctx context.Context, cmd Command) error
}

// SinkFunc adapts a function to the CommandSink interface.
type SinkFunc func(ctx context.Context, cmd Command) error

// Send implements the CommandSink interface.
func (f SinkFunc) Send(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// SnapshotSource provides estimates, e.g. an *estimator.Service.
type SnapshotSource interface {
	Snapshot() estimator.Snapshot
}
