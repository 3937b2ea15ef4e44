package cov

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/matrix"
)

func TestWeighWeight(t *testing.T) {
	w := mat.NewDense(2, 2, []float64{2, 0, 1, 3})
	f := NewWeight(w)

	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	wa := f.Weigh(a)

	var want mat.Dense
	want.Mul(w, a)
	assert.True(t, mat.EqualApprox(&want, wa, 1e-14))
}

func TestWeighRoundTrip(t *testing.T) {
	w := mat.NewDense(2, 2, []float64{2, 1, 0, 3})
	a := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})

	wa := NewWeight(w).Weigh(a)
	back := NewWeight(matrix.Inverse(w)).Weigh(wa)

	assert.True(t, mat.EqualApprox(a, back, 1e-12))
}

func TestWeighUpperFactor(t *testing.T) {
	u := mat.NewDense(2, 2, []float64{2, 1, 0, 4})
	f := NewUpperFactor(u)

	a := mat.NewDense(2, 1, []float64{5, 8})
	x := f.Weigh(a)

	// Weighing solves u*x = a.
	var ux mat.Dense
	ux.Mul(u, x)
	assert.True(t, mat.EqualApprox(a, &ux, 1e-12))
}

func TestWeighDiagonal(t *testing.T) {
	d := mat.NewVecDense(3, []float64{2, 3, 4})
	f := NewDiagonalWeight(d)

	a := mat.NewDense(3, 2, []float64{1, 1, 1, 1, 1, 1})
	wa := f.Weigh(a)

	assert.InDelta(t, 2.0, wa.At(0, 0), 1e-14)
	assert.InDelta(t, 3.0, wa.At(1, 1), 1e-14)
	assert.InDelta(t, 4.0, wa.At(2, 0), 1e-14)
}

func TestExplicitOfWeight(t *testing.T) {
	// W = diag(2, 4) whitens a covariance diag(1/4, 1/16).
	w := mat.NewDense(2, 2, []float64{2, 0, 0, 4})
	c := NewWeight(w).Explicit()

	assert.InDelta(t, 0.25, c.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0/16, c.At(1, 1), 1e-12)
	assert.InDelta(t, 0.0, c.At(0, 1), 1e-12)
}

func TestExplicitOfUpperFactor(t *testing.T) {
	u := mat.NewDense(2, 2, []float64{2, 1, 0, 3})
	c := NewUpperFactor(u).Explicit()

	var want mat.Dense
	want.Mul(u, u.T())
	assert.True(t, mat.EqualApprox(&want, c, 1e-12))
}

func TestExplicitOfDiagonal(t *testing.T) {
	d := mat.NewVecDense(2, []float64{2, 5})
	c := NewDiagonalWeight(d).Explicit()

	assert.InDelta(t, 0.25, c.At(0, 0), 1e-14)
	assert.InDelta(t, 1.0/25, c.At(1, 1), 1e-14)
}

func TestExplicitWhiteningRoundTrip(t *testing.T) {
	// For an SPD covariance, whitening through the on-demand factor must
	// reproduce it: the weighted identity W = Weigh(I) has to satisfy
	// (W^T W)^-1 = C.
	c := mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1})
	f := NewExplicit(c)

	w := f.Weigh(matrix.Identity(2))
	var gram mat.Dense
	gram.Mul(w.T(), w)
	back := matrix.Inverse(&gram)

	assert.True(t, mat.EqualApprox(c, back, 1e-10))
}

func TestExplicitFactorIsUpper(t *testing.T) {
	c := mat.NewDense(2, 2, []float64{2, 0.5, 0.5, 1})
	u := Factor{M: c, Kind: Explicit}.factored()

	assert.Equal(t, Factored, u.Kind)
	assert.InDelta(t, 0.0, u.M.At(1, 0), 1e-15)

	// U*U^T recovers the covariance.
	var uut mat.Dense
	uut.Mul(u.M, u.M.T())
	assert.True(t, mat.EqualApprox(c, &uut, 1e-12))
}

func TestNonPositiveDefiniteGoesNaN(t *testing.T) {
	c := mat.NewDense(2, 2, []float64{1, 2, 2, 1}) // indefinite
	wa := NewExplicit(c).Weigh(matrix.Identity(2))

	assert.True(t, math.IsNaN(wa.At(0, 0)))
}

func TestWeightFromStd(t *testing.T) {
	f := NewWeightFromStd(2, 0.1)

	assert.Equal(t, Weight, f.Kind)
	assert.InDelta(t, 10.0, f.M.At(0, 0), 1e-14)
	assert.InDelta(t, 0.0, f.M.At(0, 1), 1e-14)

	c := f.Explicit()
	assert.InDelta(t, 0.01, c.At(0, 0), 1e-12)
}

func TestCopyOwnsStorage(t *testing.T) {
	w := mat.NewDense(1, 1, []float64{2})
	f := NewWeight(w)
	cp := f.Copy()

	cp.M.Set(0, 0, 99)
	assert.Equal(t, 2.0, w.At(0, 0))

	zero := Factor{}
	assert.True(t, zero.IsZero())
	assert.True(t, zero.Copy().IsZero())
}
