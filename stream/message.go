package stream

import (
	"math"
	"time"

	"github.com/hudsonhok/px4-control/eskf"
	"github.com/hudsonhok/px4-control/estimator"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Message is the JSON document sent for each snapshot. Quaternions are [w, x, y, z] and
// angles are in radians.
type Message struct {
	Seq          uint64                       `json:"seq"`
	Stamp        time.Time                    `json:"stamp"`
	Position     [3]float64                   `json:"position"`
	Velocity     [3]float64                   `json:"velocity"`
	Attitude     [4]float64                   `json:"attitude"`
	RollPitchYaw [3]float64                   `json:"rpy"`
	Disturbance  [3]float64                   `json:"disturbance"`
	AccelBias    [3]float64                   `json:"accelBias"`
	Mount        [4]float64                   `json:"mount"`
	Sigma        [eskf.ErrorStateSize]float64 `json:"sigma"`
	Health       HealthMessage                `json:"health"`
}

// HealthMessage mirrors eskf.Health. Non-finite values are sent as null.
type HealthMessage struct {
	Trace     *float64 `json:"trace"`
	Condition *float64 `json:"condition"`
	MinEigen  *float64 `json:"minEigen"`
	Diverged  bool     `json:"diverged"`
}

// NewMessage converts a snapshot into its JSON document.
func NewMessage(snap estimator.Snapshot) Message {
	x := snap.State
	m := Message{
		Seq:         snap.Seq,
		Stamp:       snap.Stamp,
		Position:    vec(x.Position),
		Velocity:    vec(x.Velocity),
		Attitude:    quaternion(x.Attitude),
		Disturbance: vec(x.Disturbance),
		AccelBias:   vec(x.AccelBias),
		Mount:       quaternion(x.Mount),
		Sigma:       snap.Sigma,
		Health: HealthMessage{
			Trace:     finiteOrNil(snap.Health.Trace),
			Condition: finiteOrNil(snap.Health.Condition),
			MinEigen:  finiteOrNil(snap.Health.MinEigen),
			Diverged:  snap.Health.Diverged,
		},
	}
	m.RollPitchYaw[0], m.RollPitchYaw[1], m.RollPitchYaw[2] = x.RollPitchYaw()
	for i, s := range m.Sigma {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			m.Sigma[i] = -1
		}
	}
	return m
}

func vec(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func quaternion(q quat.Number) [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

func finiteOrNil(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
