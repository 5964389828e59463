package eskf

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestEulerRoundTrip(t *testing.T) {
	for _, rpy := range [][3]float64{
		{0, 0, 0},
		{0.1, -0.2, 0.3},
		{-1.2, 0.7, 3.0},
		{0.5, 1.5, -2.5},
	} {
		q := QuatFromEuler(rpy[0], rpy[1], rpy[2])
		if math.Abs(quat.Abs(q)-1) > 1e-15 {
			t.Fatalf("%v: |q|=%f", rpy, quat.Abs(q))
		}
		roll, pitch, yaw := EulerFromQuat(q)
		if !floats.EqualApprox([]float64{roll, pitch, yaw}, rpy[:], 1e-12) {
			t.Fatalf("%v round trips to %f %f %f", rpy, roll, pitch, yaw)
		}
	}
}

func TestRotationVector(t *testing.T) {
	for _, v := range []r3.Vec{
		{},
		{X: 1e-12},
		{X: 0.1, Y: -0.2, Z: 0.05},
		{Z: math.Pi / 2},
		{X: 2, Y: 1},
	} {
		q := QuatFromRotationVector(v)
		if math.Abs(quat.Abs(q)-1) > 1e-15 {
			t.Fatalf("%v: |q|=%f", v, quat.Abs(q))
		}
		got := RotationVector(q)
		if r3.Norm(r3.Sub(got, v)) > 1e-12 {
			t.Fatalf("%v round trips to %v", v, got)
		}
		// q and -q are the same rotation.
		if got = RotationVector(quat.Scale(-1, q)); r3.Norm(r3.Sub(got, v)) > 1e-12 {
			t.Fatalf("-q: %v round trips to %v", v, got)
		}
	}
}

func TestRotate(t *testing.T) {
	q := QuatFromEuler(0.3, -0.4, 1.1)
	v := r3.Vec{X: 1, Y: -2, Z: 3}
	var exp mat.VecDense
	exp.MulVec(RotationMatrix(q), mat.NewVecDense(3, vecValues(v)))
	if got := Rotate(q, v); !floats.EqualApprox(vecValues(got), exp.RawVector().Data, 1e-12) {
		t.Fatalf("Rotate=%v, R*v=%v", got, exp.RawVector().Data)
	}
	// A quarter turn about z takes x to y.
	if got := Rotate(QuatFromEuler(0, 0, math.Pi/2), r3.Vec{X: 1}); r3.Norm(r3.Sub(got, r3.Vec{Y: 1})) > 1e-12 {
		t.Fatalf("quarter turn: %v", got)
	}
}

func TestCompose(t *testing.T) {
	q := QuatFromEuler(0, 0, 0.2)
	got := compose(q, r3.Vec{Z: 0.3})
	_, _, yaw := EulerFromQuat(got)
	if math.Abs(yaw-0.5) > 1e-12 {
		t.Fatalf("yaw=%f", yaw)
	}
	if unitQuat(quat.Number{}) != IdentityQuat {
		t.Fatal("zero quaternion does not normalize to identity")
	}
}

func TestNominalStateVector(t *testing.T) {
	x := testState()
	v := x.Vector()
	if v.Len() != NominalSize {
		t.Fatalf("len=%d", v.Len())
	}
	back, err := NominalStateFromVector(v)
	if err != nil {
		t.Fatal(err)
	}
	if back != x {
		t.Fatalf("%s round trips to %s", x, back)
	}
	if _, err := NominalStateFromVector(mat.NewVecDense(ErrorStateSize, nil)); err == nil {
		t.Fatal("18 element vector accepted")
	}
	if !x.Valid() {
		t.Fatal("valid state reported invalid")
	}
	x.Velocity.Y = math.Inf(-1)
	if x.Valid() {
		t.Fatal("infinite velocity reported valid")
	}
}

func TestStateError(t *testing.T) {
	x := testState()
	δx := mat.NewVecDense(ErrorStateSize, []float64{
		0.1, -0.2, 0.3,
		0.01, 0.02, 0.03,
		0.001, -0.002, 0.003,
		0.5, 0.4, 0.3,
		1e-3, 2e-3, 3e-3,
		1e-4, 0, -1e-4,
	})
	truth := x.inject(δx)
	if got := StateError(x, truth); !mat.EqualApprox(got, δx, 1e-12) {
		t.Fatalf("StateError=%v, expected %v", got.RawVector().Data, δx.RawVector().Data)
	}
	if got := StateError(x, x); mat.Norm(got, 2) > 1e-15 {
		t.Fatalf("StateError of itself is %v", got.RawVector().Data)
	}
}
