package eskf

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestImplementsSensorModel(t *testing.T) {
	implements := func(SensorModel) {}
	implements(new(PoseSensor))
	implements(new(PositionSensor))
	implements(new(VelocitySensor))
	implements(new(BarometerSensor))
}

func TestImplementsInnovator(t *testing.T) {
	implements := func(Innovator) {}
	implements(new(PoseSensor))
}

func TestImplementsNoiseScaler(t *testing.T) {
	implements := func(NoiseScaler) {}
	implements(new(PoseSensor))
	implements(new(PositionSensor))
	implements(new(VelocitySensor))
	implements(new(BarometerSensor))
}

func testState() NominalState {
	x := NewNominalState()
	x.Position = r3.Vec{X: 1, Y: 2, Z: -3}
	x.Velocity = r3.Vec{X: -0.5, Y: 0.2, Z: 0.1}
	x.Attitude = QuatFromEuler(0.3, -0.1, 2.2)
	x.Disturbance = r3.Vec{X: 0.05, Y: -0.02, Z: 0.3}
	x.AccelBias = r3.Vec{X: 0.01, Y: 0.02, Z: -0.03}
	x.Mount = QuatFromEuler(0.01, 0.02, -0.01)
	return x
}

func TestPoseSensorHStructure(t *testing.T) {
	x := testState()
	pose := newTestPose(t, 0.01)
	if pose.Dim() != PoseDim {
		t.Fatalf("dim=%d", pose.Dim())
	}
	H, y := pose.CorrectionData(x)
	if r, c := H.Dims(); r != PoseDim || c != ErrorStateSize {
		t.Fatalf("H is %dx%d", r, c)
	}
	partials := quatPartials(x.Attitude)
	for i := 0; i < PoseDim; i++ {
		for j := 0; j < ErrorStateSize; j++ {
			var exp float64
			switch {
			case i < 3 && j < 3:
				if i == j {
					exp = 1
				}
			case i >= 3 && j >= ErrAttitude && j < ErrAttitude+3:
				exp = partials.At(i-3, j-ErrAttitude)
			case i >= 3 && j >= ErrDisturbance && j < ErrDisturbance+3:
				// The disturbance is not observed by a pose measurement.
			}
			if math.Abs(H.At(i, j)-exp) > 1e-15 {
				t.Fatalf("H(%d,%d)=%f expected %f", i, j, H.At(i, j), exp)
			}
		}
	}
	exp := PoseMeasurement(x.Position, x.Attitude)
	if !mat.EqualApprox(y, exp, 1e-15) {
		t.Fatalf("y_expected=%v", y.RawVector().Data)
	}
}

// numericalH differentiates the measurement of inject(x, δx) with respect to δx at zero.
func numericalH(x NominalState, s SensorModel) *mat.Dense {
	m := s.Dim()
	H := mat.NewDense(m, ErrorStateSize, nil)
	fd.Jacobian(H, func(y, δx []float64) {
		_, yExp := s.CorrectionData(x.inject(mat.NewVecDense(ErrorStateSize, δx)))
		copy(y, yExp.RawVector().Data)
	}, make([]float64, ErrorStateSize), &fd.JacobianSettings{Formula: fd.Central})
	return H
}

func TestSensorJacobians(t *testing.T) {
	x := testState()
	pose := newTestPose(t, 0.01)
	pos, err := NewPositionSensor(Identity(3))
	if err != nil {
		t.Fatal(err)
	}
	vel, err := NewVelocitySensor(Identity(3))
	if err != nil {
		t.Fatal(err)
	}
	baro, err := NewBarometerSensor(1)
	if err != nil {
		t.Fatal(err)
	}
	for name, s := range map[string]SensorModel{"pose": pose, "position": pos, "velocity": vel, "barometer": baro} {
		H, _ := s.CorrectionData(x)
		if num := numericalH(x, s); !mat.EqualApprox(H, num, 1e-6) {
			t.Fatalf("%s: analytical H\n%v\ndiffers from numerical H\n%v", name, mat.Formatted(H), mat.Formatted(num))
		}
	}
}

func TestErrorStateJacobian(t *testing.T) {
	x := testState()
	J := ErrorStateJacobian(x)
	num := mat.NewDense(NominalSize, ErrorStateSize, nil)
	fd.Jacobian(num, func(y, δx []float64) {
		copy(y, x.inject(mat.NewVecDense(ErrorStateSize, δx)).Vector().RawVector().Data)
	}, make([]float64, ErrorStateSize), &fd.JacobianSettings{Formula: fd.Central})
	if !mat.EqualApprox(J, num, 1e-6) {
		t.Fatalf("analytical\n%v\nnumerical\n%v", mat.Formatted(J), mat.Formatted(num))
	}
	func() {
		defer func() {
			err, ok := recover().(error)
			if !ok || !errors.Is(err, ErrDimensionMismatch) {
				t.Fatalf("expected a dimension mismatch panic, got %v", err)
			}
		}()
		ComposeJacobian(mat.NewDense(3, ErrorStateSize, nil), x)
	}()
	H := ComposeJacobian(mat.NewDense(3, NominalSize, nil), x)
	if r, c := H.Dims(); r != 3 || c != ErrorStateSize {
		t.Fatalf("H is (%dx%d)", r, c)
	}
}

func TestPoseInnovation(t *testing.T) {
	pose := newTestPose(t, 0.01)
	q := QuatFromEuler(0.2, 0.1, -1)
	expected := PoseMeasurement(r3.Vec{X: 1}, q)

	// Same attitude with the opposite sign and a non-unit norm.
	measured := PoseMeasurement(r3.Vec{X: 1.5, Y: -1}, quat.Scale(-3, q))
	ν, err := pose.Innovation(measured, expected)
	if err != nil {
		t.Fatal(err)
	}
	exp := mat.NewVecDense(PoseDim, []float64{0.5, -1, 0, 0, 0, 0, 0})
	if !mat.EqualApprox(ν, exp, 1e-12) {
		t.Fatalf("innovation %v", ν.RawVector().Data)
	}

	// A small rotation about the body z axis.
	δθ := r3.Vec{Z: 0.01}
	measured = PoseMeasurement(r3.Vec{X: 1}, quat.Mul(q, QuatFromRotationVector(δθ)))
	if ν, err = pose.Innovation(measured, expected); err != nil {
		t.Fatal(err)
	}
	var νq mat.VecDense
	νq.MulVec(quatPartials(q), mat.NewVecDense(3, vecValues(δθ)))
	if !mat.EqualApprox(ν.SliceVec(3, PoseDim), &νq, 1e-12) {
		t.Fatalf("attitude innovation %v, expected %v", ν.RawVector().Data[3:], νq.RawVector().Data)
	}

	if _, err := pose.Innovation(PoseMeasurement(r3.Vec{}, quat.Number{}), expected); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero quaternion: %v", err)
	}
	if _, err := pose.Innovation(mat.NewVecDense(3, nil), expected); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short measurement: %v", err)
	}
}

func TestSensorConstructionErrors(t *testing.T) {
	if _, err := NewPoseSensor(Identity(3)); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("3x3 pose noise: %v", err)
	}
	if _, err := NewPoseSensor(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil pose noise: %v", err)
	}
	if _, err := NewPositionSensor(mat.NewSymDense(3, nil)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero position noise: %v", err)
	}
	if _, err := NewVelocitySensor(ScaledIdentity(3, math.Inf(1))); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("infinite velocity noise: %v", err)
	}
	if _, err := NewBarometerSensor(-1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative barometer variance: %v", err)
	}
}

func TestNoiseScaling(t *testing.T) {
	R := Diagonal(0.1, 0.1, 0.2, 0.01, 0.01, 0.01, 0.01)
	pose, err := NewPoseSensor(R)
	if err != nil {
		t.Fatal(err)
	}
	R.SetSym(0, 0, 42)
	if pose.NominalNoiseCovariance().At(0, 0) != 0.1 {
		t.Fatal("sensor shares the caller's covariance")
	}
	if err := pose.ScaleNoise(4); err != nil {
		t.Fatal(err)
	}
	if got := pose.CurrentNoiseCovariance().At(2, 2); math.Abs(got-0.8) > 1e-15 {
		t.Fatalf("scaled R(2,2)=%f", got)
	}
	if pose.NoiseScale() != 4 {
		t.Fatalf("scale=%f", pose.NoiseScale())
	}
	if pose.NominalNoiseCovariance().At(2, 2) != 0.2 {
		t.Fatal("scaling modified the nominal covariance")
	}
	for _, f := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := pose.ScaleNoise(f); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("factor %f: %v", f, err)
		}
	}
	pose.ResetNoise()
	if !mat.Equal(pose.CurrentNoiseCovariance(), pose.NominalNoiseCovariance()) || pose.NoiseScale() != 1 {
		t.Fatal("reset did not restore the nominal covariance")
	}
}

func TestScaledNoiseWeakensCorrection(t *testing.T) {
	gain := func(scale float64) float64 {
		kf := newTestFilter(t, Identity(ErrorStateSize))
		pos, err := NewPositionSensor(ScaledIdentity(3, 0.1))
		if err != nil {
			t.Fatal(err)
		}
		if err := pos.ScaleNoise(scale); err != nil {
			t.Fatal(err)
		}
		if _, err := kf.Correct(pos, mat.NewVecDense(3, []float64{1, 0, 0})); err != nil {
			t.Fatal(err)
		}
		return kf.State().Position.X
	}
	if nominal, inflated := gain(1), gain(10); inflated >= nominal {
		t.Fatalf("inflated noise moved the state more: %f >= %f", inflated, nominal)
	}
}
