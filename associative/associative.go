// Package associative implements the batch smoother of Sarkka and
// Garcia-Fernandez, "Temporal Parallelization of Bayesian Smoothers"
// (IEEE TAC 66(1), 2021). Filtering and smoothing are each expressed as an
// inclusive prefix scan over per-step elements under an associative
// product, so both passes run on the parallel runtime.
package associative

import (
	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
	"github.com/giaminhhoang/ultimate-kalman/matrix"
	"github.com/giaminhhoang/ultimate-kalman/parallel"
	"github.com/giaminhhoang/ultimate-kalman/step"
)

// element is the per-step scan payload. Z plays the role the article calls
// C, which is taken here by the observation covariance. A filtering element
// is (A, b, Z, e, J); a smoothing element is (E, g, L). F, c and Q are
// carried from the step equation because the smoothing elements need them.
type element struct {
	dim int

	F *mat.Dense
	c *mat.Dense
	Q cov.Factor

	A, b, Z *mat.Dense
	e, J    *mat.Dense

	E, g, L *mat.Dense

	state      *mat.Dense
	covariance *mat.Dense
}

// Smoother is the associative engine.
type Smoother struct {
	*step.Log
	rt *parallel.Runtime
}

// New returns an empty associative engine running on rt.
func New(rt *parallel.Runtime) *Smoother {
	if rt == nil {
		rt = parallel.Default()
	}
	s := &Smoother{Log: step.NewLog(), rt: rt}
	s.Log.Refresh = s.refresh

	return s
}

// refresh computes filtered estimates only: build the filtering elements
// and run the forward scan.
func (s *Smoother) refresh() {
	eqs := s.Log.Snapshot()
	if len(eqs) == 0 {
		return
	}
	s.filterForward(eqs)
}

// Smooth runs the forward filtering scan and the reverse smoothing scan,
// leaving smoothed states and explicit covariances in the equations.
func (s *Smoother) Smooth() {
	eqs := s.Log.Snapshot()
	l := len(eqs)
	if l == 0 {
		return
	}

	elems := s.filterForward(eqs)
	if l == 1 {
		s.Log.MarkClean()
		return
	}

	s.rt.ForEachRange(l, func(begin, end int) {
		for i := begin; i < end; i++ {
			buildSmoothingElement(elems, l, i)
		}
	})

	smoothed := make([]*element, l)
	bag := parallel.NewBag[*element](l)
	parallel.PrefixScan(s.rt, elems, smoothed, combineSmoothing(bag), -1)

	// The last step's smoothed estimate is its filtered estimate and was
	// already stored by the forward pass.
	s.rt.ForEachRange(l-1, func(begin, end int) {
		for j := begin; j < end; j++ {
			sm := smoothed[l-1-j]
			eqs[j].State = colVec(sm.g)
			eqs[j].Covar = cov.NewExplicit(mat.DenseCopyOf(sm.L))
		}
	})

	bag.ReleaseAll(nil)
	s.Log.MarkClean()
}

// filterForward builds the filtering elements, runs the forward scan, and
// stores filtered states and explicit covariances into the equations and
// the elements. It returns the elements for reuse by the smoothing pass.
func (s *Smoother) filterForward(eqs []*step.Equation) []*element {
	l := len(eqs)

	elems := make([]*element, l)
	s.rt.ForEachRange(l, func(begin, end int) {
		for i := begin; i < end; i++ {
			elems[i] = &element{dim: eqs[i].Dim}
		}
	})

	s.rt.ForEachRange(l, func(begin, end int) {
		for i := begin; i < end; i++ {
			buildFilteringElement(eqs, elems, i)
		}
	})

	if l == 1 {
		m0, p0 := step.InitFromObservation(eqs[0])
		eqs[0].State = m0
		eqs[0].Covar = cov.NewExplicit(p0)
		return elems
	}

	filtered := make([]*element, l-1)
	bag := parallel.NewBag[*element](l)
	parallel.PrefixScan(s.rt, elems[1:], filtered, combineFiltering(bag), +1)

	s.rt.ForEachRange(l-1, func(begin, end int) {
		for k := begin; k < end; k++ {
			flt := filtered[k]
			elems[k+1].state = mat.DenseCopyOf(flt.b)
			elems[k+1].covariance = mat.DenseCopyOf(flt.Z)
			eqs[k+1].State = colVec(flt.b)
			eqs[k+1].Covar = cov.NewExplicit(mat.DenseCopyOf(flt.Z))
		}
	})

	eqs[0].State = colVec(elems[0].state)
	eqs[0].Covar = cov.NewExplicit(mat.DenseCopyOf(elems[0].covariance))

	bag.ReleaseAll(nil)

	return elems
}

// buildFilteringElement fills elems[i] from the step equations. Step 0 is
// the anchor: its filtered moments come straight from its observation and
// are computed while building element 1, which also folds the prior
// covariance into its process noise.
func buildFilteringElement(eqs []*step.Equation, elems []*element, i int) {
	eq := eqs[i]
	el := elems[i]
	n := eq.Dim

	if eq.F != nil {
		el.F = mat.DenseCopyOf(eq.F)
	}
	if eq.Offset != nil {
		el.c = colDense(eq.Offset)
	}
	el.Q = eq.Q.Copy()

	if i == 0 {
		return
	}

	if i == 1 {
		m0, p0 := step.InitFromObservation(eqs[0])
		elems[0].state = colDense(m0)
		elems[0].covariance = p0
	}

	ki := eq.Q.Explicit()

	if i == 1 {
		p0 := elems[0].covariance
		var fp mat.Dense
		fp.Mul(eq.F, p0)
		var fpf mat.Dense
		fpf.Mul(&fp, eq.F.T())
		ki.Add(ki, &fpf)
	}

	if eq.Obs == nil {
		el.Z = ki
		if i == 1 {
			// The prior is absorbed into the element: the propagator
			// zeroes out and the offset carries the predicted mean
			// F*m0 + c, exactly as in the observed case below.
			el.A = mat.NewDense(n, n, nil)
			b := mat.NewDense(n, 1, nil)
			b.Mul(eq.F, elems[0].state)
			b.Add(b, el.c)
			el.b = b
		} else {
			el.A = mat.DenseCopyOf(eq.F)
			el.b = mat.DenseCopyOf(el.c)
		}
		return
	}

	g := eq.G
	o := colDense(eq.Obs)
	cExp := eq.R.Explicit()

	var kgt mat.Dense
	kgt.Mul(ki, g.T())
	var gkgt mat.Dense
	gkgt.Mul(g, &kgt)
	sInn := mat.DenseCopyOf(&gkgt)
	sInn.Add(sInn, cExp)

	// Gᵀ·S⁻¹, via the transposed problem Sᵀ·X = G.
	gtsInv := transposed(matrix.Solve(transposed(sInn), g))

	var k mat.Dense
	k.Mul(ki, gtsInv)

	if i == 1 {
		el.A = mat.NewDense(n, n, nil)

		m1 := mat.NewDense(n, 1, nil)
		m1.Mul(eq.F, elems[0].state)
		m1.Add(m1, el.c)

		var gm mat.Dense
		gm.Mul(g, m1)
		inn := mat.DenseCopyOf(o)
		inn.Sub(inn, &gm)
		var kInn mat.Dense
		kInn.Mul(&k, inn)
		b := mat.DenseCopyOf(m1)
		b.Add(b, &kInn)
		el.b = b

		var ks mat.Dense
		ks.Mul(&k, sInn)
		var ksk mat.Dense
		ksk.Mul(&ks, k.T())
		z := mat.DenseCopyOf(ki)
		z.Sub(z, &ksk)
		el.Z = z
	} else {
		var gf mat.Dense
		gf.Mul(g, eq.F)
		var kgf mat.Dense
		kgf.Mul(&k, &gf)
		a := mat.DenseCopyOf(eq.F)
		a.Sub(a, &kgf)
		el.A = a

		var gc mat.Dense
		gc.Mul(g, el.c)
		inn := mat.DenseCopyOf(o)
		inn.Sub(inn, &gc)
		var kInn mat.Dense
		kInn.Mul(&k, inn)
		b := mat.DenseCopyOf(el.c)
		b.Add(b, &kInn)
		el.b = b

		var kg mat.Dense
		kg.Mul(&k, g)
		var kgk mat.Dense
		kgk.Mul(&kg, ki)
		z := mat.DenseCopyOf(ki)
		z.Sub(z, &kgk)
		el.Z = z
	}

	var gc mat.Dense
	gc.Mul(g, el.c)
	inn := mat.DenseCopyOf(o)
	inn.Sub(inn, &gc)

	var ftg mat.Dense
	ftg.Mul(eq.F.T(), gtsInv)

	e := mat.NewDense(n, 1, nil)
	e.Mul(&ftg, inn)
	el.e = e

	var gf mat.Dense
	gf.Mul(g, eq.F)
	j := mat.NewDense(n, n, nil)
	j.Mul(&ftg, &gf)
	el.J = j
}

// buildSmoothingElement fills the smoothing payload of elems[i] from its
// filtered moments and the next step's evolution.
func buildSmoothingElement(elems []*element, l, i int) {
	el := elems[i]
	n := el.dim

	if i == l-1 {
		el.E = mat.NewDense(n, n, nil)
		el.g = mat.DenseCopyOf(el.state)
		el.L = mat.DenseCopyOf(el.covariance)
		return
	}

	x := el.state
	p := el.covariance
	next := elems[i+1]
	fNext := next.F
	q := next.Q.Explicit()
	c := next.c

	var pft mat.Dense
	pft.Mul(p, fNext.T())
	var fpft mat.Dense
	fpft.Mul(fNext, &pft)
	fpftQ := mat.DenseCopyOf(&fpft)
	fpftQ.Add(fpftQ, q)

	// E = (F·P·Fᵀ + Q)⁻ᵀ-solve against (P·Fᵀ)ᵀ, transposed back.
	eMat := transposed(matrix.Solve(transposed(fpftQ), transposed(&pft)))
	el.E = eMat

	var fx mat.Dense
	fx.Mul(fNext, x)
	fxc := mat.DenseCopyOf(&fx)
	fxc.Add(fxc, c)
	var efxc mat.Dense
	efxc.Mul(eMat, fxc)
	g := mat.DenseCopyOf(x)
	g.Sub(g, &efxc)
	el.g = g

	var ef mat.Dense
	ef.Mul(eMat, fNext)
	var efp mat.Dense
	efp.Mul(&ef, p)
	lMat := mat.DenseCopyOf(p)
	lMat.Sub(lMat, &efp)
	el.L = lMat
}

// combineFiltering returns the associative product of filtering elements.
// A nil operand is the identity. Elements without observations carry nil
// e and J, which enter the product as zeros.
func combineFiltering(bag *parallel.Bag[*element]) func(si, sj *element) *element {
	return func(si, sj *element) *element {
		if si == nil {
			return sj
		}
		if sj == nil {
			return si
		}

		ni, _ := si.b.Dims()
		eye := matrix.Identity(ni)

		ej := zeroIfNil(sj.e, ni, 1)
		jj := zeroIfNil(sj.J, ni, ni)
		ei := zeroIfNil(si.e, ni, 1)
		ji := zeroIfNil(si.J, ni, ni)

		// X = Aj (I + Zi·Jj)⁻¹, via the transposed solve.
		var zij mat.Dense
		zij.Mul(si.Z, jj)
		m := mat.DenseCopyOf(eye)
		m.Add(m, &zij)
		x := transposed(matrix.Solve(transposed(m), transposed(sj.A)))

		// Y = Aiᵀ (I + Jj·Zi)⁻¹, via the transposed solve.
		var jzi mat.Dense
		jzi.Mul(jj, si.Z)
		m2 := mat.DenseCopyOf(eye)
		m2.Add(m2, &jzi)
		y := transposed(matrix.Solve(transposed(m2), si.A))

		out := &element{dim: si.dim}

		a := mat.NewDense(ni, ni, nil)
		a.Mul(x, si.A)
		out.A = a

		var ze mat.Dense
		ze.Mul(si.Z, ej)
		zeb := mat.DenseCopyOf(&ze)
		zeb.Add(zeb, si.b)
		b := mat.NewDense(ni, 1, nil)
		b.Mul(x, zeb)
		b.Add(b, sj.b)
		out.b = b

		var xz mat.Dense
		xz.Mul(x, si.Z)
		z := mat.NewDense(ni, ni, nil)
		z.Mul(&xz, sj.A.T())
		z.Add(z, sj.Z)
		out.Z = z

		var jb mat.Dense
		jb.Mul(jj, si.b)
		ejb := mat.DenseCopyOf(ej)
		ejb.Sub(ejb, &jb)
		e := mat.NewDense(ni, 1, nil)
		e.Mul(y, ejb)
		e.Add(e, ei)
		out.e = e

		var ja mat.Dense
		ja.Mul(jj, si.A)
		j := mat.NewDense(ni, ni, nil)
		j.Mul(y, &ja)
		j.Add(j, ji)
		out.J = j

		bag.Put(out)

		return out
	}
}

// combineSmoothing returns the associative product of smoothing elements.
func combineSmoothing(bag *parallel.Bag[*element]) func(si, sj *element) *element {
	return func(si, sj *element) *element {
		if si == nil {
			return sj
		}
		if sj == nil {
			return si
		}

		ni, _ := si.g.Dims()
		out := &element{dim: si.dim}

		e := mat.NewDense(ni, ni, nil)
		e.Mul(sj.E, si.E)
		out.E = e

		g := mat.NewDense(ni, 1, nil)
		g.Mul(sj.E, si.g)
		g.Add(g, sj.g)
		out.g = g

		var el mat.Dense
		el.Mul(sj.E, si.L)
		l := mat.NewDense(ni, ni, nil)
		l.Mul(&el, sj.E.T())
		l.Add(l, sj.L)
		out.L = l

		bag.Put(out)

		return out
	}
}

func zeroIfNil(m *mat.Dense, rows, cols int) *mat.Dense {
	if m != nil {
		return m
	}

	return mat.NewDense(rows, cols, nil)
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
