package eskf

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Identity returns an identity matrix of the provided size.
func Identity(n int) *mat.SymDense {
	return ScaledIdentity(n, 1)
}

// ScaledIdentity returns an identity matrix of the provided size scaled by s.
func ScaledIdentity(n int, s float64) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, s)
	}
	return m
}

// Diagonal returns a symmetric matrix with the provided values on its diagonal.
func Diagonal(vals ...float64) *mat.SymDense {
	m := mat.NewSymDense(len(vals), nil)
	for i, v := range vals {
		m.SetSym(i, i, v)
	}
	return m
}

// symCopy returns a new SymDense holding a copy of a.
func symCopy(a mat.Symmetric) *mat.SymDense {
	s := mat.NewSymDense(a.SymmetricDim(), nil)
	s.CopySym(a)
	return s
}

// IsNil returns whether the provided matrix only has zero values
func IsNil(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}

// Symmetrize returns the symmetric part of the provided square matrix, (m+m')/2.
// Floating point error in covariance updates makes a strict symmetry check fail, so
// every covariance written back by the filter goes through here.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	r, _ := m.Dims()
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

// IsFinite returns whether every element of m is neither NaN nor infinite.
func IsFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// setBlock copies src into dst with its top left corner at (i, j).
func setBlock(dst *mat.Dense, i, j int, src mat.Matrix) {
	r, c := src.Dims()
	dst.Slice(i, i+r, j, j+c).(*mat.Dense).Copy(src)
}

// skew returns the cross product matrix [v]x such that [v]x*w = v x w.
func skew(v r3.Vec) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

func vecValues(v r3.Vec) []float64 {
	return []float64{v.X, v.Y, v.Z}
}
