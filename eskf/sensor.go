package eskf

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ErrorStateJacobian returns the 20x18 Jacobian of the nominal state with respect to the error
// state, evaluated at x. Vector blocks map through the identity; each quaternion maps through
// the derivative of q*Exp(δθ/2) at δθ=0.
//
// Sensor models build their measurement Jacobian as (∂y/∂x) * ErrorStateJacobian(x); see
// ComposeJacobian.
func ErrorStateJacobian(x NominalState) *mat.Dense {
	j := mat.NewDense(NominalSize, ErrorStateSize, nil)
	eye := Identity(3)
	setBlock(j, NomPosition, ErrPosition, eye)
	setBlock(j, NomVelocity, ErrVelocity, eye)
	setBlock(j, NomAttitude, ErrAttitude, quatPartials(x.Attitude))
	setBlock(j, NomDisturbance, ErrDisturbance, eye)
	setBlock(j, NomAccelBias, ErrAccelBias, eye)
	setBlock(j, NomMount, ErrMount, quatPartials(x.Mount))
	return j
}

// ComposeJacobian returns hx * ErrorStateJacobian(x), where hx is the Jacobian of a measurement
// with respect to the nominal state (m x 20).
//
// ComposeJacobian is called from CorrectionData, which has no error return, so a hx that does not
// have NominalSize columns is a programming error: like gonum's mat.ErrShape, it panics with an
// error wrapping ErrDimensionMismatch.
func ComposeJacobian(hx mat.Matrix, x NominalState) *mat.Dense {
	J := ErrorStateJacobian(x)
	if err := checkMatDims(hx, J, "hx", "Xδx", cols2rows); err != nil {
		panic(err)
	}
	var h mat.Dense
	h.Mul(hx, J)
	return &h
}

// noiseModel holds a sensor's nominal and current measurement noise covariance.
type noiseModel struct {
	mu      sync.RWMutex
	nominal *mat.SymDense
	current *mat.SymDense
}

func newNoiseModel(R mat.Symmetric, dim int) (*noiseModel, error) {
	if R == nil {
		return nil, fmt.Errorf("%w: nil measurement noise", ErrInvalidInput)
	}
	if err := checkDims(R, "R", dim, dim); err != nil {
		return nil, err
	}
	if !IsFinite(R) {
		return nil, fmt.Errorf("%w: non-finite measurement noise", ErrInvalidInput)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(R); !ok {
		return nil, fmt.Errorf("%w: measurement noise is not positive definite", ErrInvalidInput)
	}
	return &noiseModel{nominal: symCopy(R), current: symCopy(R)}, nil
}

// CurrentNoiseCovariance implements the SensorModel interface.
func (n *noiseModel) CurrentNoiseCovariance() mat.Symmetric {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return symCopy(n.current)
}

// NominalNoiseCovariance returns the design-time measurement noise covariance.
func (n *noiseModel) NominalNoiseCovariance() mat.Symmetric {
	return symCopy(n.nominal)
}

// ScaleNoise sets the current noise covariance to factor times the nominal one.
func (n *noiseModel) ScaleNoise(factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("%w: noise scale factor %f", ErrInvalidInput, factor)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current.ScaleSym(factor, n.nominal)
	return nil
}

// ResetNoise restores the nominal noise covariance.
func (n *noiseModel) ResetNoise() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current.CopySym(n.nominal)
}

// NoiseScale returns the ratio of the current to the nominal noise covariance.
func (n *noiseModel) NoiseScale() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current.At(0, 0) / n.nominal.At(0, 0)
}

// NoiseScaler is implemented by sensor models whose noise covariance can be scaled at runtime.
type NoiseScaler interface {
	ScaleNoise(factor float64) error
	ResetNoise()
	NoiseScale() float64
}
