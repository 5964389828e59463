package eskf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NISThreshold returns the chi-square quantile at the provided confidence for a measurement of
// dimension dim. A correction whose NIS exceeds it is inconsistent with the filter's covariance.
func NISThreshold(dim int, confidence float64) float64 {
	return distuv.ChiSquared{K: float64(dim)}.Quantile(confidence)
}

// ConsistencyBounds returns the two sided acceptance interval of the average of runs NEES or NIS
// samples of dimension dim, at the provided significance level α.
func ConsistencyBounds(dim, runs int, α float64) (lo, hi float64) {
	chi := distuv.ChiSquared{K: float64(dim * runs)}
	n := float64(runs)
	return chi.Quantile(α/2) / n, chi.Quantile(1-α/2) / n
}

// NEES returns the normalized estimation error squared e'*P^-1*e of an error state e with
// covariance P.
func NEES(e mat.Vector, P mat.Symmetric) (float64, error) {
	if err := checkMatDims(e, P, "e", "P", rows2rows); err != nil {
		return 0, err
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(P); !ok {
		return 0, fmt.Errorf("%w: covariance is not positive definite", ErrSingularInnovation)
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, e); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSingularInnovation, err)
	}
	return mat.Dot(e, &x), nil
}
