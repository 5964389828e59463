package eskf

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidInput is returned when a prediction or correction is given a negative elapsed time,
	// a measurement of the wrong dimension or non-finite values. The filter is left unchanged.
	ErrInvalidInput = errors.New("eskf: invalid input")
	// ErrSingularInnovation is returned when the innovation covariance cannot be inverted within
	// tolerance. The measurement is dropped and the filter is left unchanged.
	ErrSingularInnovation = errors.New("eskf: singular innovation covariance")
	// ErrCovarianceDivergence reports that the error covariance exceeded its configured ceiling.
	ErrCovarianceDivergence = errors.New("eskf: covariance divergence")
	// ErrDimensionMismatch is returned when matrices handed to the filter do not agree in size.
	ErrDimensionMismatch = errors.New("eskf: dimension mismatch")
	// ErrAliasing is returned by VanLoan when the sampling period does not satisfy the Nyquist
	// criterion for the continuous system. The discretised matrices are still returned.
	ErrAliasing = errors.New("eskf: Nyquist sampling criterion not fulfilled")
)

// DimensionAgreement defines how two matrices' dimensions should agree.
type DimensionAgreement uint8

const (
	dimErrMsg                    = "dimensions must agree: "
	cols2rows DimensionAgreement = iota + 1
	rows2rows
)

// checkMatDims checks the matrix dimensions match provided a DimensionAgreement. Returns an error if not.
func checkMatDims(m1, m2 mat.Matrix, name1, name2 string, method DimensionAgreement) error {
	r1, c1 := m1.Dims()
	r2, _ := m2.Dims()
	switch method {
	case cols2rows:
		if c1 != r2 {
			return fmt.Errorf("%w: %s%s(...x%d) %s(%dx...)", ErrDimensionMismatch, dimErrMsg, name1, c1, name2, r2)
		}
	case rows2rows:
		if r1 != r2 {
			return fmt.Errorf("%w: %s%s(%dx...) %s(%dx...)", ErrDimensionMismatch, dimErrMsg, name1, r1, name2, r2)
		}
	default:
		return fmt.Errorf("unknown dimension agreement %d", method)
	}
	return nil
}

// checkDims checks that m has exactly r rows and c columns.
func checkDims(m mat.Matrix, name string, r, c int) error {
	rm, cm := m.Dims()
	if rm != r || cm != c {
		return fmt.Errorf("%w: %s is (%dx%d), expected (%dx%d)", ErrDimensionMismatch, name, rm, cm, r, c)
	}
	return nil
}
