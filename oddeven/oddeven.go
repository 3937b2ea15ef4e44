// Package oddeven implements a batch smoother by odd-even (cyclic)
// reduction. It assembles the block-tridiagonal normal equations of the
// accumulated weighted least-squares system and eliminates odd-indexed
// states level by level; the eliminations within a level are independent
// and run on the parallel runtime. Back-substitution recovers the smoothed
// states together with the diagonal and adjacent off-diagonal blocks of
// the inverse, which are the smoothed covariances: by the Schur-complement
// property, the reduced system's inverse is exactly the corresponding
// sub-block of the full inverse.
package oddeven

import (
	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
	"github.com/giaminhhoang/ultimate-kalman/matrix"
	"github.com/giaminhhoang/ultimate-kalman/parallel"
	"github.com/giaminhhoang/ultimate-kalman/step"
)

// Smoother is the odd-even engine.
type Smoother struct {
	*step.Log
	rt *parallel.Runtime
}

// New returns an empty odd-even engine running on rt.
func New(rt *parallel.Runtime) *Smoother {
	if rt == nil {
		rt = parallel.Default()
	}
	s := &Smoother{Log: step.NewLog(), rt: rt}
	s.Log.Refresh = s.refresh

	return s
}

func (s *Smoother) refresh() {
	step.FilterPass(s.Log.Snapshot())
}

// tridiag is one level of the block-tridiagonal normal equations
// N*u = d: diagonal blocks D[i], superdiagonal coupling blocks U[i]
// between states i and i+1, and right-hand sides d[i].
type tridiag struct {
	D []*mat.Dense
	U []*mat.Dense
	d []*mat.Dense
}

// solution carries the states and the inverse blocks of one level:
// P[i] is the i-th diagonal block of N⁻¹ and Pc[i] its (i, i+1) block.
type solution struct {
	x  []*mat.Dense
	P  []*mat.Dense
	Pc []*mat.Dense
}

// Smooth assembles the normal equations and solves them by cyclic
// reduction, storing smoothed states and explicit covariances.
func (s *Smoother) Smooth() {
	eqs := s.Log.Snapshot()
	l := len(eqs)
	if l == 0 {
		return
	}

	sys := assemble(eqs)
	sol := s.reduce(sys)

	s.rt.ForEachRange(l, func(begin, end int) {
		for i := begin; i < end; i++ {
			eqs[i].State = colVec(sol.x[i])
			eqs[i].Covar = cov.NewExplicit(mat.DenseCopyOf(sol.P[i]))
		}
	})

	s.Log.MarkClean()
}

// assemble accumulates the whitened evolution and observation rows of
// every step into the block-tridiagonal Gram system.
func assemble(eqs []*step.Equation) *tridiag {
	l := len(eqs)
	sys := &tridiag{
		D: make([]*mat.Dense, l),
		U: make([]*mat.Dense, l-1),
		d: make([]*mat.Dense, l),
	}
	for i, eq := range eqs {
		sys.D[i] = mat.NewDense(eq.Dim, eq.Dim, nil)
		sys.d[i] = mat.NewDense(eq.Dim, 1, nil)
	}
	for i := 0; i < l-1; i++ {
		sys.U[i] = mat.NewDense(eqs[i].Dim, eqs[i+1].Dim, nil)
	}

	for i, eq := range eqs {
		if i > 0 {
			h := eq.H
			if h == nil {
				fRows, _ := eq.F.Dims()
				h = identitySelector(fRows, eq.Dim)
			}

			vh := eq.Q.Weigh(h)
			vf := eq.Q.Weigh(eq.F)
			vc := eq.Q.WeighVec(eq.Offset)

			// The row block is [-VF | VH] = Vc: it adds VFᵀVF and VHᵀVH on
			// the diagonals, -VFᵀVH on the coupling block, and the matching
			// projections of Vc on the right-hand sides.
			addMulT(sys.D[i-1], vf, vf, 1)
			addMulT(sys.D[i], vh, vh, 1)
			addMulT(sys.U[i-1], vf, vh, -1)
			addMulTVec(sys.d[i-1], vf, vc, -1)
			addMulTVec(sys.d[i], vh, vc, 1)
		}

		if eq.Obs != nil {
			wg := eq.R.Weigh(eq.G)
			wo := eq.R.WeighVec(eq.Obs)
			addMulT(sys.D[i], wg, wg, 1)
			addMulTVec(sys.d[i], wg, wo, 1)
		}
	}

	return sys
}

// elim holds the per-odd-state elimination record of one level:
// the inverse of the pivot block and the propagators to the neighbors.
type elim struct {
	Dinv  *mat.Dense
	mPrev *mat.Dense // Dinv * U[j-1]ᵀ
	mNext *mat.Dense // Dinv * U[j], nil at the tail
	u     *mat.Dense // Dinv * d[j]
}

// reduce eliminates the odd-indexed states of sys, recurses on the even
// system, and lifts the solution back.
func (s *Smoother) reduce(sys *tridiag) *solution {
	m := len(sys.D)
	if m == 1 {
		pinv := matrix.Inverse(sys.D[0])
		x := mat.NewDense(rowsOf(sys.d[0]), 1, nil)
		x.Mul(pinv, sys.d[0])

		return &solution{x: []*mat.Dense{x}, P: []*mat.Dense{pinv}}
	}

	odds := m / 2

	elims := make([]*elim, odds)
	s.rt.ForEachRange(odds, func(begin, end int) {
		for k := begin; k < end; k++ {
			j := 2*k + 1
			e := &elim{Dinv: matrix.Inverse(sys.D[j])}

			mp := mat.NewDense(rowsOf(sys.D[j]), rowsOf(sys.D[j-1]), nil)
			mp.Mul(e.Dinv, sys.U[j-1].T())
			e.mPrev = mp

			if j+1 < m {
				mn := mat.NewDense(rowsOf(sys.D[j]), rowsOf(sys.D[j+1]), nil)
				mn.Mul(e.Dinv, sys.U[j])
				e.mNext = mn
			}

			u := mat.NewDense(rowsOf(sys.D[j]), 1, nil)
			u.Mul(e.Dinv, sys.d[j])
			e.u = u

			elims[k] = e
		}
	})

	// Fold the Schur complements into the even system. The accumulation is
	// serial because adjacent odd states share an even neighbor.
	evens := (m + 1) / 2
	red := &tridiag{
		D: make([]*mat.Dense, evens),
		U: make([]*mat.Dense, evens-1),
		d: make([]*mat.Dense, evens),
	}
	for k := 0; k < evens; k++ {
		red.D[k] = mat.DenseCopyOf(sys.D[2*k])
		red.d[k] = mat.DenseCopyOf(sys.d[2*k])
	}
	for k, e := range elims {
		j := 2*k + 1

		// Left neighbor j-1: D -= U[j-1] Dinv U[j-1]ᵀ, d -= U[j-1] Dinv d[j].
		var t mat.Dense
		t.Mul(sys.U[j-1], e.mPrev)
		red.D[k].Sub(red.D[k], &t)

		var tv mat.Dense
		tv.Mul(sys.U[j-1], e.u)
		red.d[k].Sub(red.d[k], &tv)

		if e.mNext != nil {
			// Right neighbor j+1 and the new coupling (j-1, j+1).
			var t2 mat.Dense
			t2.Mul(sys.U[j].T(), e.mNext)
			red.D[k+1].Sub(red.D[k+1], &t2)

			var tv2 mat.Dense
			tv2.Mul(sys.U[j].T(), e.u)
			red.d[k+1].Sub(red.d[k+1], &tv2)

			var u mat.Dense
			u.Mul(sys.U[j-1], e.mNext)
			u.Scale(-1, &u)
			red.U[k] = mat.DenseCopyOf(&u)
		}
	}

	coarse := s.reduce(red)

	// Lift: evens carry over, odds back-substitute. Every fine-level slot
	// is written by exactly one iteration, so the lift runs in parallel.
	sol := &solution{
		x:  make([]*mat.Dense, m),
		P:  make([]*mat.Dense, m),
		Pc: make([]*mat.Dense, m-1),
	}
	for k := 0; k < evens; k++ {
		sol.x[2*k] = coarse.x[k]
		sol.P[2*k] = coarse.P[k]
	}

	s.rt.ForEachRange(odds, func(begin, end int) {
		for k := begin; k < end; k++ {
			j := 2*k + 1
			e := elims[k]

			x := mat.DenseCopyOf(e.u)
			var t mat.Dense
			t.Mul(e.mPrev, sol.x[j-1])
			x.Sub(x, &t)

			p := mat.DenseCopyOf(e.Dinv)
			var mpp mat.Dense
			mpp.Mul(e.mPrev, sol.P[j-1])
			var mppm mat.Dense
			mppm.Mul(&mpp, e.mPrev.T())
			p.Add(p, &mppm)

			// Cross block between j-1 and j: -P[j-1] mPrevᵀ - cross mNextᵀ.
			var pcPrev mat.Dense
			pcPrev.Mul(sol.P[j-1], e.mPrev.T())
			pcPrev.Scale(-1, &pcPrev)

			if e.mNext == nil {
				sol.x[j] = x
				sol.P[j] = p
				sol.Pc[j-1] = mat.DenseCopyOf(&pcPrev)
				continue
			}

			cross := coarse.Pc[k] // Cov(x[j-1], x[j+1]) in the fine system

			var tn mat.Dense
			tn.Mul(e.mNext, sol.x[j+1])
			x.Sub(x, &tn)
			sol.x[j] = x

			var mnp mat.Dense
			mnp.Mul(e.mNext, sol.P[j+1])
			var mnpm mat.Dense
			mnpm.Mul(&mnp, e.mNext.T())
			p.Add(p, &mnpm)

			var mc mat.Dense
			mc.Mul(e.mPrev, cross)
			var mcm mat.Dense
			mcm.Mul(&mc, e.mNext.T())
			p.Add(p, &mcm)
			var mcmT mat.Dense
			mcmT.CloneFrom(mcm.T())
			p.Add(p, &mcmT)
			sol.P[j] = p

			var cm mat.Dense
			cm.Mul(cross, e.mNext.T())
			pcPrev.Sub(&pcPrev, &cm)
			sol.Pc[j-1] = mat.DenseCopyOf(&pcPrev)

			// Cross block between j and j+1: -mPrev cross - mNext P[j+1].
			var pcNext mat.Dense
			pcNext.Mul(e.mPrev, cross)
			var np mat.Dense
			np.Mul(e.mNext, sol.P[j+1])
			pcNext.Add(&pcNext, &np)
			pcNext.Scale(-1, &pcNext)
			sol.Pc[j] = mat.DenseCopyOf(&pcNext)
		}
	})

	return sol
}

func addMulT(dst, a, b *mat.Dense, alpha float64) {
	var t mat.Dense
	t.Mul(a.T(), b)
	if alpha != 1 {
		t.Scale(alpha, &t)
	}
	dst.Add(dst, &t)
}

func addMulTVec(dst, a *mat.Dense, v *mat.VecDense, alpha float64) {
	var t mat.Dense
	t.Mul(a.T(), colDense(v))
	if alpha != 1 {
		t.Scale(alpha, &t)
	}
	dst.Add(dst, &t)
}

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

func colVec(m *mat.Dense) *mat.VecDense {
	rows, _ := m.Dims()
	v := mat.NewVecDense(rows, nil)
	v.CopyVec(m.ColView(0))

	return v
}

func rowsOf(m *mat.Dense) int {
	rows, _ := m.Dims()

	return rows
}
