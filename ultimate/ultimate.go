// Package ultimate implements the sequential Paige-Saunders filtering and
// smoothing engine. The engine maintains the block-bidiagonal upper
// triangular factor of the accumulated weighted least-squares system; every
// operation is an orthogonal update of adjacent blocks of that factor, so
// no covariance is ever inverted on the filtering path and singular or
// ill-conditioned steps degrade to NaN estimates instead of failing.
package ultimate

import (
	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
	"github.com/giaminhhoang/ultimate-kalman/matrix"
	"github.com/giaminhhoang/ultimate-kalman/steplog"
)

// stepRec is the Paige-Saunders working state of one step. Rdiag, Rsupdiag
// and y are the sealed blocks of the factor; Rbar and ybar are rows the
// preceding QR could not consume, reserved for this step's observation.
type stepRec struct {
	index int
	dim   int

	Rdiag    *mat.Dense
	Rsupdiag *mat.Dense
	y        *mat.Dense

	Rbar *mat.Dense
	ybar *mat.Dense

	state      *mat.Dense
	covariance *mat.Dense
}

// Filter is the sequential engine. The zero value is not usable; use New.
type Filter struct {
	steps   *steplog.Log[*stepRec]
	current *stepRec
}

// New returns an empty sequential engine.
func New() *Filter {
	return &Filter{steps: steplog.New[*stepRec]()}
}

// Earliest returns the logical index of the earliest live step, -1 if none.
func (f *Filter) Earliest() int {
	return f.steps.FirstIndex()
}

// Latest returns the logical index of the latest live step, -1 if none.
func (f *Filter) Latest() int {
	return f.steps.LastIndex()
}

// Evolve opens step i with state dimension n and folds the evolution
// equation H*u_i = F*u_{i-1} + c + ε, Cov(ε) given by Q, into the factor.
// On the first step the arguments beyond n are ignored and may be nil.
// A nil H on later steps selects the identity-shaped [I|0].
//
// The previous step's diagonal block is re-factored together with the
// whitened evolution blocks; rows that spill past its dimension become
// this step's Rbar/ybar and wait for Observe.
func (f *Filter) Evolve(n int, H, F *mat.Dense, c *mat.VecDense, Q cov.Factor) {
	cur := &stepRec{index: 0, dim: n}
	f.current = cur

	if f.steps.Size() == 0 {
		return
	}

	prev := f.steps.GetLast()
	cur.index = prev.index + 1

	if F == nil || c == nil {
		panic("kalman: evolution inputs missing on a non-initial step")
	}

	fRows, _ := F.Dims()
	if H == nil {
		H = identitySelector(fRows, n)
	}

	vh := Q.Weigh(H)
	vf := Q.Weigh(F)
	vc := Q.Weigh(colDense(c))
	vf.Scale(-1, vf)

	var a, b, y *mat.Dense
	if prev.Rdiag != nil {
		z, _ := prev.Rdiag.Dims()
		a = matrix.VConcat(prev.Rdiag, vf)
		b = matrix.VConcat(mat.NewDense(z, n, nil), vh)
		y = matrix.VConcat(prev.y, vc)
	} else {
		a, b, y = vf, vh, vc
	}

	r, outs := matrix.ReduceQR(a, b, y)
	b, y = outs[0], outs[1]

	nPrev := prev.dim

	if bRows, bCols := b.Dims(); bRows > nPrev {
		cur.Rbar = matrix.Sub(b, nPrev, 0, bRows-nPrev, bCols)
		cur.ybar = matrix.Sub(y, nPrev, 0, bRows-nPrev, 1)
	}

	rRows, rCols := r.Dims()
	prev.Rdiag = matrix.Chop(r, min(rRows, nPrev), rCols)
	matrix.Triu(prev.Rdiag)

	bRows, bCols := b.Dims()
	prev.Rsupdiag = matrix.Chop(b, min(bRows, nPrev), bCols)

	yRows, _ := y.Dims()
	prev.y = matrix.Chop(y, min(yRows, nPrev), 1)
}

// Observe seals the open step. With an observation, the whitened rows are
// reduced together with the pending Rbar/ybar; without one, the pending
// rows are reduced alone. A step whose diagonal block ends up with fewer
// rows than its dimension is underdetermined and estimates as NaN.
func (f *Filter) Observe(G *mat.Dense, o *mat.VecDense, R cov.Factor) {
	cur := f.current
	if cur == nil {
		panic("kalman: observe without a preceding evolve")
	}
	n := cur.dim

	var wg, wo *mat.Dense
	if o != nil {
		wg = R.Weigh(G)
		wo = R.Weigh(colDense(o))
	}

	a := matrix.VConcat(cur.Rbar, wg)
	y := matrix.VConcat(cur.ybar, wo)

	if a != nil {
		if aRows, aCols := a.Dims(); aRows >= aCols {
			r, outs := matrix.ReduceQR(a, y)
			rRows, rCols := r.Dims()
			keep := min(rRows, n)
			a = matrix.Chop(r, keep, rCols)
			matrix.Triu(a)
			y = matrix.Chop(outs[0], keep, 1)
		}

		cur.Rdiag = a
		cur.y = y

		if rows, _ := cur.Rdiag.Dims(); rows == n {
			cur.state = matrix.TriSolve(cur.Rdiag, cur.y)
		} else {
			cur.state = matrix.NaNs(n, 1)
		}
		cur.covariance = mat.DenseCopyOf(cur.Rdiag)
	}

	f.steps.Append(cur)
}

// Estimate returns a copy of the state estimate of step s; s < 0 selects
// the latest step. The result is NaN-filled for an out-of-range s or an
// undetermined step, and nil when no step has been sealed yet.
func (f *Filter) Estimate(s int) *mat.VecDense {
	if f.steps.Size() == 0 {
		return nil
	}
	if s < 0 {
		s = f.steps.LastIndex()
	}
	if s < f.steps.FirstIndex() || s > f.steps.LastIndex() {
		return matrix.NaNVec(f.boundary(s).dim)
	}

	st := f.steps.Get(s)
	if st.state == nil {
		return matrix.NaNVec(st.dim)
	}

	v := mat.NewVecDense(st.dim, nil)
	v.CopyVec(st.state.ColView(0))

	return v
}

// Covariance returns the covariance of the estimate of step s as a
// whitening factor W with (WᵀW)⁻¹ the explicit covariance; s < 0 selects
// the latest step.
func (f *Filter) Covariance(s int) cov.Factor {
	if f.steps.Size() == 0 {
		return cov.Factor{}
	}
	if s < 0 {
		s = f.steps.LastIndex()
	}
	if s < f.steps.FirstIndex() || s > f.steps.LastIndex() {
		n := f.boundary(s).dim
		return cov.NewWeight(matrix.NaNs(n, n))
	}

	st := f.steps.Get(s)
	if st.Rdiag == nil || st.covariance == nil {
		return cov.NewWeight(matrix.NaNs(st.dim, st.dim))
	}
	if rows, _ := st.Rdiag.Dims(); rows != st.dim {
		return cov.NewWeight(matrix.NaNs(st.dim, st.dim))
	}

	return cov.NewWeight(mat.DenseCopyOf(st.covariance))
}

// Smooth restores full-information estimates for every live step with a
// single retrograde pass over the factor: back-substitution for the
// states, then a QR sweep that rotates each step's covariance factor into
// full-information form.
func (f *Filter) Smooth() {
	if f.steps.Size() == 0 {
		return
	}

	last := f.steps.LastIndex()
	first := f.steps.FirstIndex()

	var prevState *mat.Dense
	for si := last; si >= first; si-- {
		st := f.steps.Get(si)

		if st.Rdiag == nil || st.y == nil {
			st.state = matrix.NaNs(st.dim, 1)
			prevState = st.state
			continue
		}
		if rows, _ := st.Rdiag.Dims(); rows != st.dim {
			st.state = matrix.NaNs(st.dim, 1)
			prevState = st.state
			continue
		}

		v := mat.DenseCopyOf(st.y)
		if si < last {
			var t mat.Dense
			t.Mul(st.Rsupdiag, prevState)
			v.Sub(v, &t)
		}

		st.state = matrix.TriSolve(st.Rdiag, v)
		prevState = st.state
	}

	var r *mat.Dense
	var nNext int
	for si := last; si >= first; si-- {
		st := f.steps.Get(si)
		if st.Rdiag == nil {
			continue
		}

		if si == last {
			r = st.Rdiag
			nNext, _ = st.Rdiag.Dims()
			continue
		}

		nCur, cols := st.Rdiag.Dims()
		rRows, _ := r.Dims()

		a := matrix.VConcat(st.Rsupdiag, r)
		s := matrix.VConcat(st.Rdiag, mat.NewDense(rRows, cols, nil))

		_, outs := matrix.ReduceQR(a, s)

		st.covariance = matrix.Sub(outs[0], nNext, 0, nCur, nCur)
		r = st.covariance
		nNext = nCur
	}
}

// Rollback drops every step after s and returns step s to its state just
// after Evolve: the sealed blocks and estimates are discarded, the pending
// Rbar/ybar survive for a fresh Observe. Out-of-range indices are no-ops.
func (f *Filter) Rollback(s int) {
	if f.steps.Size() == 0 {
		return
	}
	if s > f.steps.LastIndex() || s < f.steps.FirstIndex() {
		return
	}

	for {
		st := f.steps.DropLast()
		if st.index == s {
			st.Rdiag = nil
			st.Rsupdiag = nil
			st.y = nil
			st.state = nil
			st.covariance = nil
			f.current = st
			break
		}
	}
}

// Forget drops every step up to and including s, but never the latest
// step; s < 0 selects everything but the latest step.
func (f *Filter) Forget(s int) {
	if f.steps.Size() == 0 {
		return
	}
	if s < 0 {
		s = f.steps.LastIndex() - 1
	}
	if s > f.steps.LastIndex()-1 {
		return
	}
	if s < f.steps.FirstIndex() {
		return
	}

	for f.steps.FirstIndex() <= s {
		f.steps.DropFirst()
	}
}

func (f *Filter) boundary(s int) *stepRec {
	if s < f.steps.FirstIndex() {
		return f.steps.GetFirst()
	}

	return f.steps.GetLast()
}

// identitySelector builds the [I|0] selector that equates the leading
// state components across a dimension change.
func identitySelector(rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows && i < cols; i++ {
		m.Set(i, i, 1)
	}

	return m
}

func colDense(v *mat.VecDense) *mat.Dense {
	d := mat.NewDense(v.Len(), 1, nil)
	d.ColView(0).(*mat.VecDense).CopyVec(v)

	return d
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}
