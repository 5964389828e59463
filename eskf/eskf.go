package eskf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Options bounds the numerical health of the filter.
type Options struct {
	// MaxInnovationCondition is the largest condition number of S = HPH'+R accepted by Correct.
	MaxInnovationCondition float64
	// MaxCovarianceTrace and MaxCovarianceCondition are the ceilings above which Health reports
	// the covariance as diverged.
	MaxCovarianceTrace     float64
	MaxCovarianceCondition float64
}

// DefaultOptions returns the options used by the estimator unless configured otherwise.
func DefaultOptions() Options {
	return Options{
		MaxInnovationCondition: 1e12,
		MaxCovarianceTrace:     1e6,
		MaxCovarianceCondition: 1e12,
	}
}

// psdTolerance is the relative magnitude of a negative eigenvalue still considered numerical noise.
const psdTolerance = 1e-9

// eigenResolution is the magnitude, relative to the largest eigenvalue, below which an eigenvalue of
// the covariance cannot be told apart from zero.
const eigenResolution = ErrorStateSize * 0x1p-52

// ESKF is an error-state Kalman filter. Use NewESKF to initialize.
type ESKF struct {
	x     NominalState
	P     *mat.SymDense
	model MotionModel
	opts  Options
	step  int
}

// NewESKF returns a new error-state Kalman filter.
// Parameters:
// - x0: initial nominal state, quaternions are normalized
// - P0: initial error state covariance (18x18, symmetric positive semi-definite)
// - model: motion model used by Predict
// - opts: numerical health bounds, see DefaultOptions
func NewESKF(x0 NominalState, P0 mat.Symmetric, model MotionModel, opts Options) (*ESKF, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil motion model", ErrInvalidInput)
	}
	if opts.MaxInnovationCondition <= 0 || opts.MaxCovarianceTrace <= 0 || opts.MaxCovarianceCondition <= 0 {
		return nil, fmt.Errorf("%w: options must be positive: %+v", ErrInvalidInput, opts)
	}
	kf := &ESKF{model: model, opts: opts}
	if err := kf.Reset(x0, P0); err != nil {
		return nil, err
	}
	return kf, nil
}

// Reset re-initializes the nominal state and covariance, e.g. after divergence.
func (kf *ESKF) Reset(x0 NominalState, P0 mat.Symmetric) error {
	if !x0.Valid() {
		return fmt.Errorf("%w: initial state %s", ErrInvalidInput, x0)
	}
	if P0 == nil {
		return fmt.Errorf("%w: nil initial covariance", ErrInvalidInput)
	}
	if err := checkDims(P0, "P0", ErrorStateSize, ErrorStateSize); err != nil {
		return err
	}
	if !IsFinite(P0) {
		return fmt.Errorf("%w: non-finite initial covariance", ErrInvalidInput)
	}
	if lo := minEig(P0); !(lo >= -psdTolerance*math.Max(1, mat.Trace(P0))) {
		return fmt.Errorf("%w: initial covariance is not positive semi-definite", ErrInvalidInput)
	}
	kf.x = x0.normalized()
	kf.P = symCopy(P0)
	kf.step = 0
	return nil
}

// State returns the nominal state.
func (kf *ESKF) State() NominalState {
	return kf.x
}

// Covariance returns a copy of the error state covariance.
func (kf *ESKF) Covariance() *mat.SymDense {
	return symCopy(kf.P)
}

// Steps returns the number of successful predictions and corrections since the last reset.
func (kf *ESKF) Steps() int {
	return kf.step
}

func (kf *ESKF) String() string {
	return fmt.Sprintf("ESKF [k=%d]\n%s\nP=%v", kf.step, kf.x, mat.Formatted(kf.P, mat.Prefix("  "), mat.Squeeze()))
}

// Predict propagates the nominal state with the motion model and the covariance with
// P = F*P*F' + Q. A zero dt is a no-op. On error the filter is left unchanged.
func (kf *ESKF) Predict(u MotionInput, dt float64) error {
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
		return fmt.Errorf("%w: dt=%f", ErrInvalidInput, dt)
	}
	if u == nil {
		return fmt.Errorf("%w: nil motion input", ErrInvalidInput)
	}
	if !finite(u.Values()...) {
		return fmt.Errorf("%w: non-finite motion input %v", ErrInvalidInput, u.Values())
	}
	if dt == 0 {
		return nil
	}
	next, F, Q, err := kf.model.Propagate(kf.x, u, dt)
	if err != nil {
		return fmt.Errorf("predict at k=%d: %w", kf.step, err)
	}
	if F == nil || Q == nil {
		return fmt.Errorf("%w: motion model returned no transition or process noise", ErrInvalidInput)
	}
	if err := checkDims(F, "F", ErrorStateSize, ErrorStateSize); err != nil {
		return err
	}
	if err := checkDims(Q, "Q", ErrorStateSize, ErrorStateSize); err != nil {
		return err
	}

	var FP, P mat.Dense
	FP.Mul(F, kf.P)
	P.Mul(&FP, F.T())
	P.Add(&P, Q)
	PSym := Symmetrize(&P)
	if !next.Valid() || !IsFinite(PSym) {
		return fmt.Errorf("%w: non-finite prediction at k=%d", ErrCovarianceDivergence, kf.step)
	}
	kf.x = next.normalized()
	kf.P = PSym
	kf.step++
	return nil
}

// Correct performs a measurement update with the provided sensor model and measurement.
// The error state is computed, injected into the nominal state and reset within this call.
// On error the filter is left unchanged.
func (kf *ESKF) Correct(s SensorModel, y mat.Vector) (*Correction, error) {
	if s == nil || y == nil {
		return nil, fmt.Errorf("%w: nil sensor or measurement", ErrInvalidInput)
	}
	m := s.Dim()
	if m <= 0 || y.Len() != m {
		return nil, fmt.Errorf("%w: measurement has %d elements, sensor expects %d", ErrInvalidInput, y.Len(), m)
	}
	if !IsFinite(y) {
		return nil, fmt.Errorf("%w: non-finite measurement", ErrInvalidInput)
	}
	H, yExp := s.CorrectionData(kf.x)
	R := s.CurrentNoiseCovariance()
	if H == nil || yExp == nil || R == nil {
		return nil, fmt.Errorf("%w: incomplete correction data", ErrInvalidInput)
	}
	for _, err := range []error{
		checkDims(H, "H", m, ErrorStateSize),
		checkDims(yExp, "y_expected", m, 1),
		checkDims(R, "R", m, m),
	} {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	if !IsFinite(H) || !IsFinite(yExp) || !IsFinite(R) {
		return nil, fmt.Errorf("%w: non-finite correction data", ErrInvalidInput)
	}

	// Innovation
	var ν *mat.VecDense
	if inn, ok := s.(Innovator); ok {
		var err error
		if ν, err = inn.Innovation(y, yExp); err != nil {
			return nil, fmt.Errorf("innovation at k=%d: %w", kf.step, err)
		}
		if ν.Len() != m {
			return nil, fmt.Errorf("%w: innovation has %d elements, expected %d", ErrInvalidInput, ν.Len(), m)
		}
	} else {
		ν = mat.NewVecDense(m, nil)
		ν.SubVec(y, yExp)
	}

	// Innovation covariance S = H*P*H' + R
	var PHt, HPHt mat.Dense
	PHt.Mul(kf.P, H.T())
	HPHt.Mul(H, &PHt)
	HPHt.Add(&HPHt, R)
	S := Symmetrize(&HPHt)
	var chol mat.Cholesky
	if ok := chol.Factorize(S); !ok {
		return nil, fmt.Errorf("%w: S is not positive definite at k=%d", ErrSingularInnovation, kf.step)
	}
	if cond := chol.Cond(); cond > kf.opts.MaxInnovationCondition {
		return nil, fmt.Errorf("%w: cond(S)=%g at k=%d", ErrSingularInnovation, cond, kf.step)
	}

	// Kalman gain K = P*H'*S^-1, solved as S*K' = H*P.
	var HP, Kt mat.Dense
	HP.Mul(H, kf.P)
	if err := chol.SolveTo(&Kt, &HP); err != nil {
		return nil, fmt.Errorf("%w: solving for the gain at k=%d: %v", ErrSingularInnovation, kf.step, err)
	}
	K := mat.DenseCopyOf(Kt.T())

	var δx mat.VecDense
	δx.MulVec(K, ν)

	// Joseph form: P = (I-KH)*P*(I-KH)' + K*R*K'
	var IKH, IKHP, P, KR, KRKt mat.Dense
	IKH.Mul(K, H)
	IKH.Sub(Identity(ErrorStateSize), &IKH)
	IKHP.Mul(&IKH, kf.P)
	P.Mul(&IKHP, IKH.T())
	KR.Mul(K, R)
	KRKt.Mul(&KR, K.T())
	P.Add(&P, &KRKt)
	PSym := Symmetrize(&P)

	// Injection and reset
	x := kf.x.inject(&δx)
	var GP, GPGt mat.Dense
	G := resetJacobian(&δx)
	GP.Mul(G, PSym)
	GPGt.Mul(&GP, G.T())
	PSym = Symmetrize(&GPGt)

	if !x.Valid() || !IsFinite(PSym) {
		return nil, fmt.Errorf("%w: non-finite correction at k=%d", ErrCovarianceDivergence, kf.step)
	}

	var Sν mat.VecDense
	if err := chol.SolveVecTo(&Sν, ν); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularInnovation, err)
	}
	corr := &Correction{
		innov:     ν,
		δx:        &δx,
		nis:       mat.Dot(ν, &Sν),
		gain:      K,
		S:         S,
		covar:     symCopy(PSym),
		predCovar: symCopy(kf.P),
		step:      kf.step,
	}
	kf.x = x
	kf.P = PSym
	kf.step++
	return corr, nil
}

// Health returns the numerical health of the covariance.
func (kf *ESKF) Health() Health {
	h := Health{Trace: mat.Trace(kf.P)}
	var es mat.EigenSym
	if ok := es.Factorize(kf.P, false); !ok {
		h.Condition, h.MinEigen = math.Inf(1), math.NaN()
		h.Diverged = true
		return h
	}
	vals := es.Values(nil)
	lo, hi := floats.Min(vals), floats.Max(vals)
	h.MinEigen = lo
	// Zero eigenvalues belong to error states known exactly, e.g. a fixed mount.
	// The condition number is taken over the resolvable ones.
	h.Condition = 1
	floor := eigenResolution * hi
	if smallest := smallestAbove(vals, floor); smallest > 0 {
		h.Condition = hi / smallest
	}
	h.Diverged = !finite(h.Trace) ||
		h.Trace > kf.opts.MaxCovarianceTrace ||
		h.Condition > kf.opts.MaxCovarianceCondition ||
		lo < -psdTolerance*math.Max(1, hi)
	return h
}

// smallestAbove returns the smallest value strictly above floor, or zero if there is none.
func smallestAbove(vals []float64, floor float64) float64 {
	var s float64
	for _, v := range vals {
		if v > floor && (s == 0 || v < s) {
			s = v
		}
	}
	return s
}

// Health summarizes the numerical condition of the error covariance.
type Health struct {
	Trace     float64
	Condition float64 // ratio of the largest to the smallest eigenvalue that is not numerically zero
	MinEigen  float64
	Diverged  bool
}

// Err returns ErrCovarianceDivergence if the covariance has diverged, nil otherwise.
func (h Health) Err() error {
	if !h.Diverged {
		return nil
	}
	return fmt.Errorf("%w: trace=%g cond=%g min eigenvalue=%g", ErrCovarianceDivergence, h.Trace, h.Condition, h.MinEigen)
}

// Correction is the outcome of a successful ESKF.Correct call.
type Correction struct {
	innov, δx        *mat.VecDense
	nis              float64
	gain             *mat.Dense
	S                *mat.SymDense
	covar, predCovar *mat.SymDense
	step             int
}

// Innovation returns the innovation ν.
func (c Correction) Innovation() *mat.VecDense {
	return c.innov
}

// InnovationCovariance returns S = H*P*H' + R.
func (c Correction) InnovationCovariance() *mat.SymDense {
	return c.S
}

// NIS returns the normalized innovation squared ν'*S^-1*ν.
func (c Correction) NIS() float64 {
	return c.nis
}

// Gain returns the Kalman gain.
func (c Correction) Gain() *mat.Dense {
	return c.gain
}

// ErrorState returns the error state injected into the nominal state.
func (c Correction) ErrorState() *mat.VecDense {
	return c.δx
}

// Covariance returns the posterior covariance.
func (c Correction) Covariance() *mat.SymDense {
	return c.covar
}

// PredCovariance returns the covariance prior to the correction.
func (c Correction) PredCovariance() *mat.SymDense {
	return c.predCovar
}

// Step returns the filter step at which the correction was applied.
func (c Correction) Step() int {
	return c.step
}

// IsWithinNσ returns whether every element of the applied error state is within N standard
// deviations of the prior covariance.
func (c Correction) IsWithinNσ(N float64) bool {
	for i := 0; i < c.δx.Len(); i++ {
		nσ := N * math.Sqrt(c.predCovar.At(i, i))
		if math.Abs(c.δx.AtVec(i)) > nσ {
			return false
		}
	}
	return true
}

func (c Correction) String() string {
	innov := mat.Formatted(c.innov.T(), mat.Prefix("  "), mat.Squeeze())
	δx := mat.Formatted(c.δx.T(), mat.Prefix("  "), mat.Squeeze())
	return fmt.Sprintf("{k=%d NIS=%.4f\nν=%v\nδx=%v\n}", c.step, c.nis, innov, δx)
}

// minEig returns the smallest eigenvalue of the symmetric matrix m, or NaN if it cannot be computed.
func minEig(m mat.Symmetric) float64 {
	var es mat.EigenSym
	if ok := es.Factorize(m, false); !ok {
		return math.NaN()
	}
	return floats.Min(es.Values(nil))
}
