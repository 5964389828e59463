package eskf

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// smallAngle is the rotation magnitude below which the exponential and logarithmic maps use
// their first order expansions.
const smallAngle = 1e-10

// IdentityQuat is the zero rotation.
var IdentityQuat = quat.Number{Real: 1}

// QuatFromEuler returns the body to world quaternion for the provided roll, pitch and yaw
// (radians, Z-Y-X sequence).
func QuatFromEuler(roll, pitch, yaw float64) quat.Number {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// EulerFromQuat returns roll, pitch and yaw in radians (Z-Y-X sequence) for the body to world
// quaternion q.
func EulerFromQuat(q quat.Number) (roll, pitch, yaw float64) {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sp := 2 * (w*y - z*x)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return
}

// QuatFromRotationVector returns the unit quaternion Exp(v/2) rotating by |v| radians about v.
func QuatFromRotationVector(v r3.Vec) quat.Number {
	θ := r3.Norm(v)
	if θ < smallAngle {
		return unitQuat(quat.Number{Real: 1, Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
	}
	s := math.Sin(θ/2) / θ
	return quat.Number{Real: math.Cos(θ / 2), Imag: s * v.X, Jmag: s * v.Y, Kmag: s * v.Z}
}

// RotationVector returns the rotation vector of the unit quaternion q, taking the shortest
// rotation (the sign of q is chosen so that its scalar part is non-negative).
func RotationVector(q quat.Number) r3.Vec {
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	v := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	n := r3.Norm(v)
	if n < smallAngle {
		return r3.Scale(2, v)
	}
	return r3.Scale(2*math.Atan2(n, q.Real)/n, v)
}

// unitQuat returns q scaled to unit norm. A zero quaternion is returned as the identity.
func unitQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || !finite(n) {
		return IdentityQuat
	}
	return quat.Scale(1/n, q)
}

// quatValues returns the components of q in scalar first order.
func quatValues(q quat.Number) []float64 {
	return []float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

// compose returns q*Exp(δθ/2), renormalized. The perturbation is applied in the local frame.
func compose(q quat.Number, δθ r3.Vec) quat.Number {
	return unitQuat(quat.Mul(q, QuatFromRotationVector(δθ)))
}

// RotationMatrix returns the 3x3 rotation matrix equivalent to the unit quaternion q.
func RotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// Rotate returns v rotated by the unit quaternion q.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// quatPartials returns the 4x3 derivative of q*Exp(δθ/2) with respect to δθ at δθ=0, i.e.
// half of the quaternion product q*(0, δθ) written as a matrix.
func quatPartials(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(4, 3, []float64{
		-0.5 * x, -0.5 * y, -0.5 * z,
		0.5 * w, -0.5 * z, 0.5 * y,
		0.5 * z, 0.5 * w, -0.5 * x,
		-0.5 * y, 0.5 * x, 0.5 * w,
	})
}
