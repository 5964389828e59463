package eskf

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestProcessNoise(t *testing.T) {
	n := DefaultProcessNoise()
	if err := n.Validate(); err != nil {
		t.Fatal(err)
	}
	W := n.SpectralDensity()
	if W.SymmetricDim() != ErrorStateSize {
		t.Fatalf("W is %dx%d", W.SymmetricDim(), W.SymmetricDim())
	}
	for i, exp := range map[int]float64{
		ErrPosition:      0,
		ErrVelocity + 1:  n.Accel,
		ErrAttitude + 2:  n.Gyro,
		ErrDisturbance:   n.Disturbance,
		ErrAccelBias + 1: n.AccelBias,
		ErrMount + 2:     n.Mount,
	} {
		if W.At(i, i) != exp {
			t.Fatalf("W(%d,%d)=%g expected %g", i, i, W.At(i, i), exp)
		}
	}
	if !IsNil(W.SliceSym(0, 3)) {
		t.Fatal("position error has a direct noise input")
	}
	for _, bad := range []ProcessNoise{{Gyro: -1}, {Mount: math.NaN()}, {Disturbance: math.Inf(1)}} {
		if bad.Validate() == nil {
			t.Fatalf("%+v accepted", bad)
		}
	}
}

func TestAWGN(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{4, 1, 1, 1})
	n, err := NewAWGN(cov)
	if err != nil {
		t.Fatal(err)
	}
	if n.Covariance() != mat.Symmetric(cov) || n.String() == "" {
		t.Fatal("invalid covariance or string")
	}
	const samples = 20000
	x := make([]float64, samples)
	y := make([]float64, samples)
	for i := 0; i < samples; i++ {
		s := n.Corrupt(mat.NewVecDense(2, []float64{10, -10}))
		x[i], y[i] = s.AtVec(0), s.AtVec(1)
	}
	if mean := stat.Mean(x, nil); math.Abs(mean-10) > 0.1 {
		t.Fatalf("mean x=%f", mean)
	}
	if mean := stat.Mean(y, nil); math.Abs(mean+10) > 0.05 {
		t.Fatalf("mean y=%f", mean)
	}
	if sd := stat.StdDev(x, nil); math.Abs(sd-2) > 0.1 {
		t.Fatalf("stddev x=%f", sd)
	}
	if c := stat.Covariance(x, y, nil); math.Abs(c-1) > 0.1 {
		t.Fatalf("cov(x,y)=%f", c)
	}
	if _, err := NewAWGN(mat.NewSymDense(2, []float64{1, 2, 2, 1})); err == nil {
		t.Fatal("indefinite covariance accepted")
	}
}
