package eskf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// PoseDim is the dimension of a pose measurement: position followed by the attitude quaternion
// (w, x, y, z).
const PoseDim = 7

// PoseSensor measures the global position and attitude of the vehicle, e.g. from motion capture
// or visual odometry. It implements SensorModel and Innovator.
type PoseSensor struct {
	*noiseModel
	selector
}

// NewPoseSensor returns a pose sensor with the provided 7x7 measurement noise covariance.
func NewPoseSensor(R mat.Symmetric) (*PoseSensor, error) {
	n, err := newNoiseModel(R, PoseDim)
	if err != nil {
		return nil, fmt.Errorf("pose sensor: %w", err)
	}
	return &PoseSensor{n, selector{NomPosition, NomPosition + 1, NomPosition + 2, NomAttitude, NomAttitude + 1, NomAttitude + 2, NomAttitude + 3}}, nil
}

// Innovation implements the Innovator interface. The position part is the difference of both
// vectors. The attitude part is the rotation vector of conj(q̂)*q_m, mapped back into
// quaternion measurement space through the same partials as the attitude rows of H.
func (s *PoseSensor) Innovation(measured, expected mat.Vector) (*mat.VecDense, error) {
	if measured.Len() != PoseDim || expected.Len() != PoseDim {
		return nil, fmt.Errorf("%w: pose innovation requires %d elements, got %d and %d", ErrInvalidInput, PoseDim, measured.Len(), expected.Len())
	}
	qm := quatAt(measured, 3)
	norm := quat.Abs(qm)
	if norm == 0 || !finite(norm) {
		return nil, fmt.Errorf("%w: measured attitude quaternion has norm %f", ErrInvalidInput, norm)
	}
	qm = quat.Scale(1/norm, qm)
	qe := unitQuat(quatAt(expected, 3))
	δθ := RotationVector(quat.Mul(quat.Conj(qe), qm))

	ν := mat.NewVecDense(PoseDim, nil)
	for i := 0; i < 3; i++ {
		ν.SetVec(i, measured.AtVec(i)-expected.AtVec(i))
	}
	νq := ν.SliceVec(3, PoseDim).(*mat.VecDense)
	νq.MulVec(quatPartials(qe), mat.NewVecDense(3, vecValues(δθ)))
	return ν, nil
}

// PositionSensor measures the world frame position, e.g. a GNSS receiver in local coordinates.
type PositionSensor struct {
	*noiseModel
	selector
}

// NewPositionSensor returns a position sensor with the provided 3x3 measurement noise covariance.
func NewPositionSensor(R mat.Symmetric) (*PositionSensor, error) {
	n, err := newNoiseModel(R, 3)
	if err != nil {
		return nil, fmt.Errorf("position sensor: %w", err)
	}
	return &PositionSensor{n, selector{NomPosition, NomPosition + 1, NomPosition + 2}}, nil
}

// VelocitySensor measures the world frame velocity, e.g. GNSS Doppler or optical flow.
type VelocitySensor struct {
	*noiseModel
	selector
}

// NewVelocitySensor returns a velocity sensor with the provided 3x3 measurement noise covariance.
func NewVelocitySensor(R mat.Symmetric) (*VelocitySensor, error) {
	n, err := newNoiseModel(R, 3)
	if err != nil {
		return nil, fmt.Errorf("velocity sensor: %w", err)
	}
	return &VelocitySensor{n, selector{NomVelocity, NomVelocity + 1, NomVelocity + 2}}, nil
}

// BarometerSensor measures the altitude above the world origin.
type BarometerSensor struct {
	*noiseModel
	selector
}

// NewBarometerSensor returns a barometer with the provided altitude noise variance (m²).
func NewBarometerSensor(variance float64) (*BarometerSensor, error) {
	n, err := newNoiseModel(Diagonal(variance), 1)
	if err != nil {
		return nil, fmt.Errorf("barometer: %w", err)
	}
	return &BarometerSensor{n, selector{NomPosition + 2}}, nil
}

// selector is the first stage of a sensor whose measurement directly reads elements of the
// nominal state: row i of the measurement is nominal element selector[i].
type selector []int

// Dim implements the SensorModel interface.
func (s selector) Dim() int {
	return len(s)
}

// CorrectionData implements the SensorModel interface.
func (s selector) CorrectionData(x NominalState) (*mat.Dense, *mat.VecDense) {
	xv := x.Vector()
	hx := mat.NewDense(len(s), NominalSize, nil)
	y := mat.NewVecDense(len(s), nil)
	for i, idx := range s {
		hx.Set(i, idx, 1)
		y.SetVec(i, xv.AtVec(idx))
	}
	return ComposeJacobian(hx, x), y
}

func quatAt(v mat.Vector, i int) quat.Number {
	return quat.Number{Real: v.AtVec(i), Imag: v.AtVec(i + 1), Jmag: v.AtVec(i + 2), Kmag: v.AtVec(i + 3)}
}

// PoseMeasurement builds a pose measurement vector from a position and an attitude.
func PoseMeasurement(p r3.Vec, q quat.Number) *mat.VecDense {
	return mat.NewVecDense(PoseDim, append(vecValues(p), quatValues(q)...))
}
