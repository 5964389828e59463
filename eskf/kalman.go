// Package eskf implements an error-state Kalman filter for the kinematic state of a flying
// vehicle: a nominal state carrying position, velocity, attitude quaternion, disturbance and
// IMU calibration terms, and an 18-dimensional error state used for the linear correction step.
//
// Sensors plug into the filter through the SensorModel interface; motion propagation through the
// MotionModel interface. The filter is not safe for concurrent use.
package eskf

import (
	"gonum.org/v1/gonum/mat"
)

// SensorModel defines a measurement source usable by ESKF.Correct.
type SensorModel interface {
	// Dim returns the measurement dimension, fixed at construction.
	Dim() int
	// CorrectionData returns the measurement Jacobian (Dim x ErrorStateSize) with respect to the
	// error state and the measurement expected at the nominal state x.
	CorrectionData(x NominalState) (H *mat.Dense, yExpected *mat.VecDense)
	// CurrentNoiseCovariance returns the measurement noise covariance R to use now.
	CurrentNoiseCovariance() mat.Symmetric
}

// Innovator is implemented by sensor models whose measurements are not additive (e.g. contain a
// quaternion) and must compute their own innovation. The filter uses measured - expected otherwise.
type Innovator interface {
	Innovation(measured, expected mat.Vector) (*mat.VecDense, error)
}

// MotionInput is the input driving a MotionModel, such as an IMU sample.
type MotionInput interface {
	// Values returns the raw input values, used to reject non-finite inputs.
	Values() []float64
}

// MotionModel propagates the nominal state and provides the error state transition.
type MotionModel interface {
	// Propagate returns the nominal state after dt seconds, the error state transition matrix F
	// and the process noise covariance Q over dt (both ErrorStateSize x ErrorStateSize).
	Propagate(x NominalState, u MotionInput, dt float64) (NominalState, *mat.Dense, *mat.SymDense, error)
}
