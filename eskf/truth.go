package eskf

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// StateError returns the error state taking the estimate est to the ground truth, i.e. the δx
// for which est.inject(δx) equals truth. Its covariance is the filter's error covariance, so it
// can be handed to NEES directly.
func StateError(est, truth NominalState) *mat.VecDense {
	δ := func(a, b quat.Number) r3.Vec {
		return RotationVector(quat.Mul(quat.Conj(unitQuat(a)), unitQuat(b)))
	}
	e := make([]float64, 0, ErrorStateSize)
	e = append(e, vecValues(r3.Sub(truth.Position, est.Position))...)
	e = append(e, vecValues(r3.Sub(truth.Velocity, est.Velocity))...)
	e = append(e, vecValues(δ(est.Attitude, truth.Attitude))...)
	e = append(e, vecValues(r3.Sub(truth.Disturbance, est.Disturbance))...)
	e = append(e, vecValues(r3.Sub(truth.AccelBias, est.AccelBias))...)
	e = append(e, vecValues(δ(est.Mount, truth.Mount))...)
	return mat.NewVecDense(ErrorStateSize, e)
}
