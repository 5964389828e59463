package eskf

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Gravity is the gravitational acceleration in the world frame (ENU, z up).
var Gravity = r3.Vec{Z: -9.80665}

// IMUSample is a specific force and angular rate reading in the IMU frame.
// It implements MotionInput.
type IMUSample struct {
	Accel r3.Vec // m/s²
	Gyro  r3.Vec // rad/s
}

// Values implements the MotionInput interface.
func (s IMUSample) Values() []float64 {
	return append(vecValues(s.Accel), vecValues(s.Gyro)...)
}

// InertialModel propagates the nominal state by strapdown integration of IMU samples.
// The disturbance, accelerometer bias and mount are modelled as random walks.
type InertialModel struct {
	noise ProcessNoise
	w     *mat.SymDense
	γ     *mat.SymDense
}

// NewInertialModel returns an inertial motion model with the provided process noise densities.
func NewInertialModel(noise ProcessNoise) (*InertialModel, error) {
	if err := noise.Validate(); err != nil {
		return nil, err
	}
	return &InertialModel{noise, noise.SpectralDensity(), Identity(ErrorStateSize)}, nil
}

// Noise returns the process noise densities.
func (m *InertialModel) Noise() ProcessNoise {
	return m.noise
}

// Propagate implements the MotionModel interface.
func (m *InertialModel) Propagate(x NominalState, u MotionInput, dt float64) (NominalState, *mat.Dense, *mat.SymDense, error) {
	var imu IMUSample
	switch s := u.(type) {
	case IMUSample:
		imu = s
	case *IMUSample:
		imu = *s
	default:
		return x, nil, nil, fmt.Errorf("%w: inertial model requires an IMUSample, got %T", ErrInvalidInput, u)
	}

	// Specific force and angular rate in the body frame.
	fImu := r3.Sub(imu.Accel, x.AccelBias)
	fBody := Rotate(x.Mount, fImu)
	ωBody := Rotate(x.Mount, imu.Gyro)
	a := r3.Add(r3.Add(Rotate(x.Attitude, fBody), Gravity), x.Disturbance)

	next := x
	next.Position = r3.Add(x.Position, r3.Add(r3.Scale(dt, x.Velocity), r3.Scale(0.5*dt*dt, a)))
	next.Velocity = r3.Add(x.Velocity, r3.Scale(dt, a))
	next.Attitude = compose(x.Attitude, r3.Scale(dt, ωBody))

	F, Q, err := VanLoan(m.errorDynamics(x, fImu, fBody, imu.Gyro, ωBody), m.γ, m.w, dt)
	if err != nil && !errors.Is(err, ErrAliasing) {
		return x, nil, nil, err
	}
	return next, F, Q, nil
}

// errorDynamics returns the continuous time error state matrix A at x.
func (m *InertialModel) errorDynamics(x NominalState, fImu, fBody, ωImu, ωBody r3.Vec) *mat.Dense {
	R := RotationMatrix(x.Attitude)
	RM := RotationMatrix(x.Mount)
	eye := Identity(3)
	A := mat.NewDense(ErrorStateSize, ErrorStateSize, nil)

	setBlock(A, ErrPosition, ErrVelocity, eye)

	var blk, RRM mat.Dense
	blk.Mul(R, skew(fBody))
	blk.Scale(-1, &blk)
	setBlock(A, ErrVelocity, ErrAttitude, &blk)
	setBlock(A, ErrVelocity, ErrDisturbance, eye)
	RRM.Mul(R, RM)
	blk.Scale(-1, &RRM)
	setBlock(A, ErrVelocity, ErrAccelBias, &blk)
	blk.Mul(&RRM, skew(fImu))
	blk.Scale(-1, &blk)
	setBlock(A, ErrVelocity, ErrMount, &blk)

	blk.Scale(-1, skew(ωBody))
	setBlock(A, ErrAttitude, ErrAttitude, &blk)
	blk.Mul(RM, skew(ωImu))
	blk.Scale(-1, &blk)
	setBlock(A, ErrAttitude, ErrMount, &blk)
	return A
}
