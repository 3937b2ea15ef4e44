// Package cov represents covariance matrices through tagged factors.
//
// A Factor carries a matrix together with a kind tag that says how the
// matrix encodes the covariance: explicitly, as a whitening weight, as an
// upper-triangular factor, or as a diagonal weight vector. The tag travels
// with the factor through every operation so that a matrix is never
// reinterpreted silently.
package cov

import (
	"fmt"

	"github.com/giaminhhoang/ultimate-kalman/matrix"
	"gonum.org/v1/gonum/mat"
)

// Kind identifies the representation of a covariance factor.
type Kind byte

const (
	// Explicit marks the matrix as the covariance itself.
	Explicit Kind = 'C'
	// Weight marks a whitening factor: multiplying by it whitens.
	Weight Kind = 'W'
	// UpperFactor marks an upper-triangular factor; whitening is by solve.
	UpperFactor Kind = 'U'
	// Factored is the same representation as UpperFactor, produced by
	// factoring an explicit covariance.
	Factored Kind = 'F'
	// DiagonalWeight marks a diagonal whitening factor stored as a column.
	DiagonalWeight Kind = 'w'
)

// Factor is a covariance matrix in one of the tagged representations.
type Factor struct {
	M    *mat.Dense
	Kind Kind
}

// NewWeight returns a factor holding the whitening matrix w.
func NewWeight(w *mat.Dense) Factor {
	return Factor{M: w, Kind: Weight}
}

// NewExplicit returns a factor holding the covariance matrix c itself.
func NewExplicit(c *mat.Dense) Factor {
	return Factor{M: c, Kind: Explicit}
}

// NewUpperFactor returns a factor holding an upper-triangular factor u
// whose whitening action is the triangular solve u*x = a.
func NewUpperFactor(u *mat.Dense) Factor {
	return Factor{M: u, Kind: UpperFactor}
}

// NewDiagonalWeight returns a factor holding a diagonal whitening factor
// stored as a column vector.
func NewDiagonalWeight(d *mat.VecDense) Factor {
	m := mat.NewDense(d.Len(), 1, nil)
	m.ColView(0).(*mat.VecDense).CopyVec(d)

	return Factor{M: m, Kind: DiagonalWeight}
}

// NewWeightFromStd returns the dim x dim whitening factor of an isotropic
// covariance with the given standard deviation, (1/std)*I.
func NewWeightFromStd(dim int, std float64) Factor {
	w := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		w.Set(i, i, 1/std)
	}

	return Factor{M: w, Kind: Weight}
}

// IsZero reports whether the factor is unset.
func (f Factor) IsZero() bool {
	return f.M == nil
}

// Copy returns a factor holding a fresh copy of the matrix.
func (f Factor) Copy() Factor {
	if f.M == nil {
		return Factor{Kind: f.Kind}
	}

	return Factor{M: mat.DenseCopyOf(f.M), Kind: f.Kind}
}

// Weigh applies the whitening transform encoded by the factor to a and
// returns the weighted matrix W*a.
func (f Factor) Weigh(a *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()

	switch f.Kind {
	case Weight:
		wa := mat.NewDense(rows, cols, nil)
		wa.Mul(f.M, a)
		return wa
	case UpperFactor, Factored:
		return matrix.TriSolve(f.M, a)
	case DiagonalWeight:
		wa := mat.NewDense(rows, cols, nil)
		for j := 0; j < cols; j++ {
			for i := 0; i < rows; i++ {
				wa.Set(i, j, f.M.At(i, 0)*a.At(i, j))
			}
		}
		return wa
	case Explicit:
		return f.factored().Weigh(a)
	default:
		panic(fmt.Sprintf("cov: unknown factor kind %q", byte(f.Kind)))
	}
}

// WeighVec applies the whitening transform to a column vector.
func (f Factor) WeighVec(v *mat.VecDense) *mat.VecDense {
	a := mat.NewDense(v.Len(), 1, nil)
	a.ColView(0).(*mat.VecDense).CopyVec(v)
	wa := f.Weigh(a)

	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(wa.ColView(0))

	return out
}

// Explicit returns the covariance matrix itself, whatever the
// representation. The relation is Cov = (W^T W)^-1 for whitening factors
// and Cov = U*U^T for triangular factors.
func (f Factor) Explicit() *mat.Dense {
	switch f.Kind {
	case Explicit:
		return mat.DenseCopyOf(f.M)
	case Weight:
		_, cols := f.M.Dims()
		gram := mat.NewDense(cols, cols, nil)
		gram.Mul(f.M.T(), f.M)
		return matrix.Inverse(gram)
	case UpperFactor, Factored:
		n, _ := f.M.Dims()
		c := mat.NewDense(n, n, nil)
		c.Mul(f.M, f.M.T())
		return c
	case DiagonalWeight:
		n, _ := f.M.Dims()
		c := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			d := f.M.At(i, 0)
			c.Set(i, i, 1/(d*d))
		}
		return c
	default:
		panic(fmt.Sprintf("cov: unknown factor kind %q", byte(f.Kind)))
	}
}

// factored converts an explicit covariance into an upper-triangular factor
// U with U*U^T = C, so that solving with U whitens. The factor comes from
// the Cholesky decomposition of the index-reversed covariance, flipped back.
func (f Factor) factored() Factor {
	n, _ := f.M.Dims()

	flipped := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			flipped.SetSym(i, j, f.M.At(n-1-i, n-1-j))
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(flipped) {
		// Non-PD covariance: NaN factor, NaNs propagate downstream.
		return Factor{M: matrix.NaNs(n, n), Kind: Factored}
	}

	var l mat.TriDense
	chol.LTo(&l)

	u := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			u.Set(i, j, l.At(n-1-i, n-1-j))
		}
	}

	return Factor{M: u, Kind: Factored}
}
