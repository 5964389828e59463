package eskf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// VanLoan computes the F and Q matrices from the provided CT system A, Γ, W and
// the sampling interval Δt. The returned error wraps ErrAliasing if the sampling
// interval does not satisfy the Nyquist criterion; F and Q are still valid then.
func VanLoan(A, Γ, W mat.Matrix, Δt float64) (*mat.Dense, *mat.SymDense, error) {
	rA, cA := A.Dims()
	if rA != cA {
		return nil, nil, fmt.Errorf("%w: A is %dx%d", ErrDimensionMismatch, rA, cA)
	}
	if err := checkMatDims(A, Γ, "A", "Γ", rows2rows); err != nil {
		return nil, nil, err
	}
	if err := checkMatDims(Γ, W, "Γ", "W", cols2rows); err != nil {
		return nil, nil, err
	}

	var err error
	// Check aliasing
	var λ mat.Eigen
	if ok := λ.Factorize(A, mat.EigenNone); ok {
		λmaxImag := 0.0
		for _, v := range λ.Values(nil) {
			if im := math.Abs(imag(v)); im > λmaxImag {
				λmaxImag = im
			}
		}
		if 2*λmaxImag*Δt >= math.Pi {
			err = fmt.Errorf("%w: Nyquist sampling criterion not fulfilled with Δt=%f", ErrAliasing, Δt)
		}
	}

	// Compute F and Q.
	var ΓW, ΓWΓ, Ap, At mat.Dense
	ΓW.Mul(Γ, W)
	ΓWΓ.Mul(&ΓW, Γ.T())
	ΓWΓ.Scale(Δt, &ΓWΓ)
	Ap.Scale(-Δt, A)
	At.Scale(Δt, A.T())

	M := mat.NewDense(2*rA, 2*rA, nil)
	setBlock(M, 0, 0, &Ap)
	setBlock(M, 0, rA, &ΓWΓ)
	setBlock(M, rA, rA, &At)

	var expM mat.Dense
	expM.Exp(M)

	// The lower right block is F' and the upper right one is F^-1*Q.
	F := mat.DenseCopyOf(expM.Slice(rA, 2*rA, rA, 2*rA).T())
	var Q mat.Dense
	Q.Mul(F, expM.Slice(0, rA, rA, 2*rA))
	return F, Symmetrize(&Q), err
}
