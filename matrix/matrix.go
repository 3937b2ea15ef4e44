package matrix

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// VConcat stacks a on top of b and returns the result.
// Either argument may be nil, in which case a copy of the other is returned.
// It returns nil if both are nil and panics on a column mismatch.
func VConcat(a, b *mat.Dense) *mat.Dense {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		return mat.DenseCopyOf(b)
	}
	if b == nil {
		return mat.DenseCopyOf(a)
	}

	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ca != cb {
		panic("matrix: column mismatch in vertical concatenation")
	}

	out := mat.NewDense(ra+rb, ca, nil)
	out.Slice(0, ra, 0, ca).(*mat.Dense).Copy(a)
	out.Slice(ra, ra+rb, 0, ca).(*mat.Dense).Copy(b)

	return out
}

// Chop returns a copy of the leading rows x cols submatrix of m.
func Chop(m *mat.Dense, rows, cols int) *mat.Dense {
	return mat.DenseCopyOf(m.Slice(0, rows, 0, cols))
}

// Sub returns a copy of the rows x cols submatrix of m anchored at (i, j).
func Sub(m *mat.Dense, i, j, rows, cols int) *mat.Dense {
	return mat.DenseCopyOf(m.Slice(i, i+rows, j, j+cols))
}

// Triu zeroes the strict lower triangle of m in place.
func Triu(m *mat.Dense) {
	rows, cols := m.Dims()
	for i := 1; i < rows; i++ {
		for j := 0; j < i && j < cols; j++ {
			m.Set(i, j, 0)
		}
	}
}

// Identity returns the n x n identity matrix.
func Identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}

	return m
}

// Constant returns a rows x cols matrix with every entry set to v.
func Constant(rows, cols int, v float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, v)
		}
	}

	return m
}

// NaNs returns a rows x cols matrix filled with NaN.
func NaNs(rows, cols int) *mat.Dense {
	return Constant(rows, cols, math.NaN())
}

// NaNVec returns an n-vector filled with NaN.
func NaNVec(n int) *mat.VecDense {
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, math.NaN())
	}

	return v
}

// ReduceQR factors a = Q*R and left-applies Q^T to every matrix in rhs.
// It returns the R factor and the transformed right-hand sides as fresh
// matrices; a and rhs are not modified. When a has fewer rows than columns
// the system is padded with zero rows first, which leaves the least-squares
// problem unchanged.
func ReduceQR(a *mat.Dense, rhs ...*mat.Dense) (*mat.Dense, []*mat.Dense) {
	rows, cols := a.Dims()
	if rows < cols {
		padded := make([]*mat.Dense, len(rhs))
		for i, b := range rhs {
			_, cb := b.Dims()
			padded[i] = VConcat(b, mat.NewDense(cols-rows, cb, nil))
		}
		a = VConcat(a, mat.NewDense(cols-rows, cols, nil))
		rhs = padded
		rows = cols
	}

	var qr mat.QR
	qr.Factorize(a)

	var r, q mat.Dense
	qr.RTo(&r)
	qr.QTo(&q)

	out := make([]*mat.Dense, len(rhs))
	for i, b := range rhs {
		rb, cb := b.Dims()
		if rb != rows {
			panic("matrix: row mismatch in QR reduction")
		}
		qtb := mat.NewDense(rows, cb, nil)
		qtb.Mul(q.T(), b)
		out[i] = qtb
	}

	return &r, out
}

// TriSolve solves the upper-triangular system r*x = b, reading only the
// upper triangle of r. The result is a NaN fill if r is singular.
func TriSolve(r, b *mat.Dense) *mat.Dense {
	rows, cols := b.Dims()

	var x mat.Dense
	if err := x.Solve(triuView(r), b); hardFailure(err, &x) {
		return NaNs(rows, cols)
	}

	return &x
}

// Solve solves the linear system a*x = b, by LU when a is square and in the
// least-squares sense otherwise. The result is a NaN fill when a is exactly
// singular; an ill-conditioned but solvable system still yields the computed
// solution, matching the NaN-propagation policy of the engines.
func Solve(a, b *mat.Dense) *mat.Dense {
	_, cb := b.Dims()
	_, ca := a.Dims()

	var x mat.Dense
	if err := x.Solve(a, b); hardFailure(err, &x) {
		return NaNs(ca, cb)
	}

	return &x
}

// Inverse returns the inverse of a, or a NaN fill if a is singular.
func Inverse(a *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()

	var inv mat.Dense
	if err := inv.Inverse(a); hardFailure(err, &inv) {
		return NaNs(rows, cols)
	}

	return &inv
}

// hardFailure reports whether a solver error left the result unusable.
// A finite Condition error means the result was computed for an
// ill-conditioned system and is kept if finite; an infinite Condition marks
// an exactly singular system, and it and any other error count as a failed
// solve.
func hardFailure(err error, result *mat.Dense) bool {
	if err == nil {
		return false
	}
	if c, ok := err.(mat.Condition); ok {
		return math.IsInf(float64(c), 1) || !isFinite(result)
	}

	return true
}

func isFinite(m *mat.Dense) bool {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return false
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}

	return true
}

// triuView wraps the leading upper triangle of r as a triangular matrix so
// that solvers exploit the structure.
func triuView(r *mat.Dense) mat.Matrix {
	n, cols := r.Dims()
	if cols < n {
		n = cols
	}
	t := mat.NewTriDense(n, mat.Upper, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			t.SetTri(i, j, r.At(i, j))
		}
	}

	return t
}
