// Package conventional implements the covariance-form Kalman filter with a
// Rauch-Tung-Striebel backward smoother over the shared step-equation log.
// It trades the numerical robustness of the orthogonal-transform engine for
// the textbook recursion, and serves as the plain-arithmetic cross-check
// for the other engines.
package conventional

import (
	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
	"github.com/giaminhhoang/ultimate-kalman/matrix"
	"github.com/giaminhhoang/ultimate-kalman/step"
)

// Smoother is the conventional engine.
type Smoother struct {
	*step.Log
}

// New returns an empty conventional engine.
func New() *Smoother {
	s := &Smoother{Log: step.NewLog()}
	s.Log.Refresh = s.refresh

	return s
}

func (s *Smoother) refresh() {
	step.FilterPass(s.Log.Snapshot())
}

// Smooth runs the forward filtering pass and then the RTS backward
// recursion, leaving the smoothed state and explicit covariance in every
// live equation.
func (s *Smoother) Smooth() {
	eqs := s.Log.Snapshot()
	l := len(eqs)
	if l == 0 {
		return
	}

	step.FilterPass(eqs)

	// Keep the filtered moments; the backward pass consumes them while the
	// equations are being overwritten with smoothed values.
	means := make([]*mat.VecDense, l)
	covs := make([]*mat.Dense, l)
	for i, eq := range eqs {
		means[i] = mat.VecDenseCopyOf(eq.State)
		covs[i] = eq.Covar.Explicit()
	}

	for i := l - 2; i >= 0; i-- {
		next := eqs[i+1]

		mPred, pPred := step.Predict(next, means[i], covs[i])

		// Ck = P_i * Feffᵀ * Ppred⁻¹ with Feff the evolution propagator
		// H⁻¹F, via the transposed solve Ppred * Ckᵀ = Feff * P_i.
		fEff := next.F
		if next.H != nil {
			fEff = matrix.Solve(next.H, next.F)
		}

		var fp mat.Dense
		fp.Mul(fEff, covs[i])
		ckT := matrix.Solve(pPred, &fp)
		ck := transposed(ckT)

		// State: xs_i = m_i + Ck (xs_{i+1} - mpred).
		diff := mat.NewDense(next.Dim, 1, nil)
		diff.Sub(colDense(next.State), colDense(mPred))
		var corr mat.Dense
		corr.Mul(ck, diff)
		xs := mat.NewDense(eqs[i].Dim, 1, nil)
		xs.Add(colDense(means[i]), &corr)

		// Covariance: Ps_i = P_i + Ck (Ps_{i+1} - Ppred) Ckᵀ.
		pDiff := mat.NewDense(next.Dim, next.Dim, nil)
		pDiff.Sub(next.Covar.Explicit(), pPred)
		var cp mat.Dense
		cp.Mul(ck, pDiff)
		var cpc mat.Dense
		cpc.Mul(&cp, ck.T())
		ps := mat.NewDense(eqs[i].Dim, eqs[i].Dim, nil)
		ps.Add(covs[i], &cpc)

		eqs[i].State = colVec(xs)
		eqs[i].Covar = cov.NewExplicit(ps)
	}

	s.Log.MarkClean()
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

func transposed(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	t := mat.NewDense(cols, rows, nil)
	t.Copy(m.T())

	return t
}
