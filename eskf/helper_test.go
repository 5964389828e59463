package eskf

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestIdentity(t *testing.T) {
	n := 3
	i33 := Identity(n)
	if r, c := i33.Dims(); r != n || r != c {
		t.Fatalf("i33 has dimensions (%dx%d)", r, c)
	}
	for i := 0; i < n; i++ {
		if i33.At(i, i) != 1 {
			t.Fatalf("i33(%d,%d) != 1", i, i)
		}
		for j := 0; j < n; j++ {
			if i != j && i33.At(i, j) != 0 {
				t.Fatalf("i33(%d,%d) != 0", i, j)
			}
		}
	}
}

func TestCheckDims(t *testing.T) {
	i22 := Identity(2)
	i33 := Identity(3)
	for _, meth := range []DimensionAgreement{cols2rows, rows2rows} {
		if err := checkMatDims(i22, i22, "i22", "i22", meth); err != nil {
			t.Fatalf("method %+v fails: %s", meth, err)
		}
		if err := checkMatDims(i22, i33, "i22", "i33", meth); !errors.Is(err, ErrDimensionMismatch) {
			t.Fatalf("method %+v does not error when using i22 and i33 ", meth)
		}
	}
	if err := checkMatDims(mat.NewDense(2, 3, nil), i33, "m23", "i33", cols2rows); err != nil {
		t.Fatalf("(2x3)(3x3) rejected: %s", err)
	}
	if err := checkMatDims(i22, i22, "i22", "i22", DimensionAgreement(0)); err == nil {
		t.Fatal("unknown agreement accepted")
	}
	if err := checkDims(i22, "i22", 2, 3); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatal("2x2 accepted as 2x3")
	}
}

func TestSymmetrize(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 2 + 1e-12, 3})
	s := Symmetrize(m)
	if s.At(0, 1) != s.At(1, 0) || math.Abs(s.At(0, 1)-2) > 1e-12 {
		t.Fatalf("invalid symmetrization %v", mat.Formatted(s))
	}
	if !IsNil(mat.NewDense(2, 2, nil)) || IsNil(s) {
		t.Fatal("IsNil failed")
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite(Identity(3)) {
		t.Fatal("identity is not finite")
	}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		m := Identity(3)
		m.SetSym(1, 2, v)
		if IsFinite(m) {
			t.Fatalf("%f is finite", v)
		}
	}
}

func TestSkew(t *testing.T) {
	a, b := r3.Vec{X: 1, Y: -2, Z: 0.5}, r3.Vec{X: 0.3, Y: 4, Z: -1}
	var got mat.VecDense
	got.MulVec(skew(a), mat.NewVecDense(3, vecValues(b)))
	exp := mat.NewVecDense(3, vecValues(r3.Cross(a, b)))
	if !mat.EqualApprox(&got, exp, 1e-15) {
		t.Fatalf("[a]x*b=%v, a x b=%v", got.RawVector().Data, exp.RawVector().Data)
	}
}

func TestDiagonal(t *testing.T) {
	d := Diagonal(1, 2, 3)
	if d.SymmetricDim() != 3 || d.At(1, 1) != 2 || d.At(0, 2) != 0 {
		t.Fatalf("invalid diagonal %v", mat.Formatted(d))
	}
}

func TestSymCopy(t *testing.T) {
	a := Diagonal(1, 2, 3)
	a.SetSym(0, 2, 0.5)
	c := symCopy(a)
	if !mat.Equal(a, c) {
		t.Fatalf("copy differs\n%v\n%v", mat.Formatted(a), mat.Formatted(c))
	}
	c.SetSym(0, 2, 7)
	if a.At(0, 2) != 0.5 || a.At(2, 0) != 0.5 {
		t.Fatal("copy shares storage with its source")
	}
}
