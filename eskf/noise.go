package eskf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// ProcessNoise holds the continuous time power spectral densities driving the error state.
type ProcessNoise struct {
	Accel       float64 `yaml:"accel"`       // accelerometer white noise, (m/s²)²/Hz
	Gyro        float64 `yaml:"gyro"`        // gyroscope white noise, (rad/s)²/Hz
	Disturbance float64 `yaml:"disturbance"` // disturbance random walk, (m/s³)²/Hz
	AccelBias   float64 `yaml:"accelBias"`   // accelerometer bias random walk, (m/s³)²/Hz
	Mount       float64 `yaml:"mount"`       // IMU mount random walk, (rad/s)²/Hz
}

// DefaultProcessNoise returns densities suited to a consumer grade MEMS IMU.
func DefaultProcessNoise() ProcessNoise {
	return ProcessNoise{
		Accel:       4e-3,
		Gyro:        3e-5,
		Disturbance: 1e-2,
		AccelBias:   1e-6,
		Mount:       1e-10,
	}
}

// Validate returns an error if any density is negative or non-finite.
func (n ProcessNoise) Validate() error {
	for _, v := range []float64{n.Accel, n.Gyro, n.Disturbance, n.AccelBias, n.Mount} {
		if v < 0 || !finite(v) {
			return fmt.Errorf("%w: process noise %+v", ErrInvalidInput, n)
		}
	}
	return nil
}

// SpectralDensity returns the 18x18 diagonal density matrix W in error state order. The position
// error has no direct noise input.
func (n ProcessNoise) SpectralDensity() *mat.SymDense {
	W := mat.NewSymDense(ErrorStateSize, nil)
	for i := 0; i < 3; i++ {
		W.SetSym(ErrVelocity+i, ErrVelocity+i, n.Accel)
		W.SetSym(ErrAttitude+i, ErrAttitude+i, n.Gyro)
		W.SetSym(ErrDisturbance+i, ErrDisturbance+i, n.Disturbance)
		W.SetSym(ErrAccelBias+i, ErrAccelBias+i, n.AccelBias)
		W.SetSym(ErrMount+i, ErrMount+i, n.Mount)
	}
	return W
}

// AWGN generates additive white Gaussian noise with a given covariance.
// It is used to corrupt simulated IMU samples and sensor measurements.
type AWGN struct {
	cov  mat.Symmetric
	dist *distmv.Normal
}

// NewAWGN creates new AWGN noise from the provided covariance.
func NewAWGN(cov mat.Symmetric) (*AWGN, error) {
	size := cov.SymmetricDim()
	dist, ok := distmv.NewNormal(make([]float64, size), cov, nil)
	if !ok {
		return nil, fmt.Errorf("%w: noise covariance is not positive definite", ErrInvalidInput)
	}
	return &AWGN{cov, dist}, nil
}

// Covariance returns the noise covariance.
func (n *AWGN) Covariance() mat.Symmetric {
	return n.cov
}

// Sample returns a noise vector.
func (n *AWGN) Sample() *mat.VecDense {
	r := n.dist.Rand(nil)
	return mat.NewVecDense(len(r), r)
}

// Corrupt returns v plus a noise sample.
func (n *AWGN) Corrupt(v mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	out.AddVec(v, n.Sample())
	return out
}

// String implements the Stringer interface.
func (n *AWGN) String() string {
	return fmt.Sprintf("AWGN{\nR=%v}\n", mat.Formatted(n.cov, mat.Prefix("  ")))
}
