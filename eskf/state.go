package eskf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sizes of the nominal state and of the error state. The error state has one dimension less per
// quaternion (attitude and IMU mount), each being perturbed by a rotation vector.
const (
	NominalSize    = 20
	ErrorStateSize = 18
)

// Offsets of each block in the nominal state vector.
const (
	NomPosition    = 0
	NomVelocity    = 3
	NomAttitude    = 6
	NomDisturbance = 10
	NomAccelBias   = 13
	NomMount       = 16
)

// Offsets of each block in the error state vector.
const (
	ErrPosition    = 0
	ErrVelocity    = 3
	ErrAttitude    = 6
	ErrDisturbance = 9
	ErrAccelBias   = 12
	ErrMount       = 15
)

// NominalState is the filter's current best estimate of the vehicle state.
// World frame is ENU (z up), body frame is FLU, quaternions are scalar first.
type NominalState struct {
	Position    r3.Vec      // world frame, m
	Velocity    r3.Vec      // world frame, m/s
	Attitude    quat.Number // rotates body frame to world frame
	Disturbance r3.Vec      // unmodelled external acceleration, world frame, m/s²
	AccelBias   r3.Vec      // accelerometer bias, IMU frame, m/s²
	Mount       quat.Number // rotates IMU frame to body frame
}

// NewNominalState returns a vehicle at rest at the origin, level, with an aligned IMU.
func NewNominalState() NominalState {
	return NominalState{Attitude: IdentityQuat, Mount: IdentityQuat}
}

// Vector returns the nominal state as a 20-vector in the documented block order.
func (x NominalState) Vector() *mat.VecDense {
	v := make([]float64, 0, NominalSize)
	v = append(v, vecValues(x.Position)...)
	v = append(v, vecValues(x.Velocity)...)
	v = append(v, quatValues(x.Attitude)...)
	v = append(v, vecValues(x.Disturbance)...)
	v = append(v, vecValues(x.AccelBias)...)
	v = append(v, quatValues(x.Mount)...)
	return mat.NewVecDense(NominalSize, v)
}

// NominalStateFromVector is the inverse of Vector. The quaternions are not normalized.
func NominalStateFromVector(v mat.Vector) (NominalState, error) {
	if v.Len() != NominalSize {
		return NominalState{}, fmt.Errorf("%w: nominal state vector has %d elements, expected %d", ErrDimensionMismatch, v.Len(), NominalSize)
	}
	vec := func(i int) r3.Vec { return r3.Vec{X: v.AtVec(i), Y: v.AtVec(i + 1), Z: v.AtVec(i + 2)} }
	q := func(i int) quat.Number {
		return quat.Number{Real: v.AtVec(i), Imag: v.AtVec(i + 1), Jmag: v.AtVec(i + 2), Kmag: v.AtVec(i + 3)}
	}
	return NominalState{
		Position:    vec(NomPosition),
		Velocity:    vec(NomVelocity),
		Attitude:    q(NomAttitude),
		Disturbance: vec(NomDisturbance),
		AccelBias:   vec(NomAccelBias),
		Mount:       q(NomMount),
	}, nil
}

// Valid returns whether every component is finite and both quaternions are non-zero.
func (x NominalState) Valid() bool {
	v := x.Vector()
	if !IsFinite(v) {
		return false
	}
	return quat.Abs(x.Attitude) > 0 && quat.Abs(x.Mount) > 0
}

// RollPitchYaw returns the attitude as Z-Y-X Euler angles in radians.
func (x NominalState) RollPitchYaw() (roll, pitch, yaw float64) {
	return EulerFromQuat(x.Attitude)
}

func (x NominalState) String() string {
	roll, pitch, yaw := x.RollPitchYaw()
	return fmt.Sprintf("p=%+.4v v=%+.4v rpy=[%.4f %.4f %.4f] d=%+.4v ba=%+.4v", x.Position, x.Velocity, roll, pitch, yaw, x.Disturbance, x.AccelBias)
}

// normalized returns x with both quaternions at unit norm.
func (x NominalState) normalized() NominalState {
	x.Attitude = unitQuat(x.Attitude)
	x.Mount = unitQuat(x.Mount)
	return x
}

// inject composes the error state δx into x. Vector blocks are added; rotation vector blocks
// are composed into their quaternion by q*Exp(δθ/2) and renormalized.
func (x NominalState) inject(δx mat.Vector) NominalState {
	at := func(i int) r3.Vec { return r3.Vec{X: δx.AtVec(i), Y: δx.AtVec(i + 1), Z: δx.AtVec(i + 2)} }
	x.Position = r3.Add(x.Position, at(ErrPosition))
	x.Velocity = r3.Add(x.Velocity, at(ErrVelocity))
	x.Attitude = compose(x.Attitude, at(ErrAttitude))
	x.Disturbance = r3.Add(x.Disturbance, at(ErrDisturbance))
	x.AccelBias = r3.Add(x.AccelBias, at(ErrAccelBias))
	x.Mount = compose(x.Mount, at(ErrMount))
	return x
}

// resetJacobian returns G = ∂δx⁺/∂δx for the error reset following an injection of δx. It is
// the identity except for I - [δθ/2]x on both rotation blocks.
func resetJacobian(δx mat.Vector) *mat.Dense {
	g := mat.NewDense(ErrorStateSize, ErrorStateSize, nil)
	for i := 0; i < ErrorStateSize; i++ {
		g.Set(i, i, 1)
	}
	for _, off := range []int{ErrAttitude, ErrMount} {
		half := r3.Scale(0.5, r3.Vec{X: δx.AtVec(off), Y: δx.AtVec(off + 1), Z: δx.AtVec(off + 2)})
		var blk mat.Dense
		blk.Sub(Identity(3), skew(half))
		setBlock(g, off, off, &blk)
	}
	return g
}
