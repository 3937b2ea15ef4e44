package step

import (
	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
	"github.com/giaminhhoang/ultimate-kalman/matrix"
)

// InitFromObservation computes the filtered state and covariance of an
// initial step directly from its observation by whitened least squares.
// The results are NaN-filled when the step has no observation or too few
// observation rows to determine the state.
func InitFromObservation(eq *Equation) (*mat.VecDense, *mat.Dense) {
	n := eq.Dim
	if eq.Obs == nil {
		return matrix.NaNVec(n), matrix.NaNs(n, n)
	}

	wg := eq.R.Weigh(eq.G)
	wo := eq.R.Weigh(colDense(eq.Obs))

	if rows, _ := wg.Dims(); rows < n {
		return matrix.NaNVec(n), matrix.NaNs(n, n)
	}

	r, outs := matrix.ReduceQR(wg, wo)
	rn := matrix.Chop(r, n, n)
	matrix.Triu(rn)
	qto := matrix.Chop(outs[0], n, 1)

	m0 := matrix.TriSolve(rn, qto)

	gram := mat.NewDense(n, n, nil)
	gram.Mul(rn.T(), rn)
	p0 := matrix.Inverse(gram)

	return colVec(m0), p0
}

// FilterPass runs the covariance-form Kalman recursion over the live
// equations, storing the filtered state and explicit covariance into each.
// Steps without observations are prediction-only; an initial step without
// an observation leaves the whole pass NaN-filled until information
// arrives downstream of a determined restart.
func FilterPass(eqs []*Equation) {
	var m *mat.VecDense
	var p *mat.Dense

	for i, eq := range eqs {
		if i == 0 {
			m, p = InitFromObservation(eq)
			eq.State = mat.VecDenseCopyOf(m)
			eq.Covar = cov.NewExplicit(mat.DenseCopyOf(p))
			continue
		}

		m, p = Predict(eq, m, p)

		if eq.Obs != nil {
			m, p = update(eq, m, p)
		}

		eq.State = mat.VecDenseCopyOf(m)
		eq.Covar = cov.NewExplicit(mat.DenseCopyOf(p))
	}
}

// Predict propagates a filtered state and covariance through eq's
// evolution equation: m' = H⁻¹(F*m + c), P' = H⁻¹(F*P*Fᵀ + Q)H⁻ᵀ.
// A nil H is the identity.
func Predict(eq *Equation, m *mat.VecDense, p *mat.Dense) (*mat.VecDense, *mat.Dense) {
	fm := mat.NewDense(rowsOf(eq.F), 1, nil)
	fm.Mul(eq.F, colDense(m))
	fm.Add(fm, colDense(eq.Offset))

	var fpf mat.Dense
	fpf.Mul(eq.F, p)
	var pPred mat.Dense
	pPred.Mul(&fpf, eq.F.T())
	pPred.Add(&pPred, eq.Q.Explicit())

	if eq.H == nil {
		return colVec(fm), &pPred
	}

	mNext := matrix.Solve(eq.H, fm)
	hp := matrix.Solve(eq.H, &pPred)
	pNext := matrix.Solve(eq.H, cloneTranspose(hp))

	return colVec(mNext), pNext
}

// update corrects a predicted state with eq's observation using the
// Joseph-form covariance update.
func update(eq *Equation, m *mat.VecDense, p *mat.Dense) (*mat.VecDense, *mat.Dense) {
	n := eq.Dim

	rExp := eq.R.Explicit()

	var gp mat.Dense
	gp.Mul(eq.G, p)
	var s mat.Dense
	s.Mul(&gp, eq.G.T())
	s.Add(&s, rExp)

	// K = P*Gᵀ*S⁻¹ via the transposed solve S*Kᵀ = G*P.
	kT := matrix.Solve(&s, &gp)
	k := cloneTranspose(kT)

	inn := mat.NewDense(eq.Obs.Len(), 1, nil)
	inn.Mul(eq.G, colDense(m))
	inn.Sub(colDense(eq.Obs), inn)

	var corr mat.Dense
	corr.Mul(k, inn)
	mNext := mat.NewDense(n, 1, nil)
	mNext.Add(colDense(m), &corr)

	// Joseph form: P = (I-KG)P(I-KG)ᵀ + KRKᵀ.
	var kg mat.Dense
	kg.Mul(k, eq.G)
	a := matrix.Identity(n)
	a.Sub(a, &kg)

	var ap mat.Dense
	ap.Mul(a, p)
	var apa mat.Dense
	apa.Mul(&ap, a.T())

	var kr mat.Dense
	kr.Mul(k, rExp)
	var krk mat.Dense
	krk.Mul(&kr, k.T())
	apa.Add(&apa, &krk)

	return colVec(mNext), &apa
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

func cloneTranspose(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	t := mat.NewDense(cols, rows, nil)
	t.Copy(m.T())

	return t
}

func rowsOf(m *mat.Dense) int {
	rows, _ := m.Dims()

	return rows
}
