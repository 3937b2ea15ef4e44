// Package step holds the raw step-equation records shared by the batch
// smoothing engines, the log that collects them, and the covariance-form
// forward filtering recursion they use for pre-smoothing estimates.
package step

import (
	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
	"github.com/giaminhhoang/ultimate-kalman/matrix"
	"github.com/giaminhhoang/ultimate-kalman/steplog"
)

// Equation is one step of the state-space model,
//
//	H*u_i = F*u_{i-1} + c + ε,  Cov(ε) given by Q
//	o     = G*u_i + δ,          Cov(δ) given by R
//
// together with the engine's current estimate of u_i. A nil H stands for
// an identity-shaped selector. A nil Obs means the step carries no
// observation.
type Equation struct {
	Index int
	Dim   int

	H      *mat.Dense
	F      *mat.Dense
	Offset *mat.VecDense
	Q      cov.Factor

	G   *mat.Dense
	Obs *mat.VecDense
	R   cov.Factor

	State *mat.VecDense
	Covar cov.Factor
}

// Log is the equation store behind the batch engines. Evolve opens a step,
// Observe seals it into the log. Estimate and Covariance refresh filtered
// estimates on demand through the engine-supplied Refresh hook whenever the
// log has been mutated since the last pass.
type Log struct {
	steps   *steplog.Log[*Equation]
	current *Equation
	dirty   bool

	// Refresh recomputes filtered State/Covar for every live equation.
	// The owning engine sets it at construction.
	Refresh func()
}

// NewLog returns an empty equation log.
func NewLog() *Log {
	return &Log{steps: steplog.New[*Equation](), dirty: true}
}

// Evolve opens step i with state dimension n. On the first step every
// matrix argument may be nil; afterwards F and c are mandatory.
func (l *Log) Evolve(n int, H, F *mat.Dense, c *mat.VecDense, Q cov.Factor) {
	cur := &Equation{Index: 0, Dim: n}
	l.current = cur

	if l.steps.Size() == 0 {
		return
	}

	prev := l.steps.GetLast()
	cur.Index = prev.Index + 1

	if F == nil || c == nil {
		panic("kalman: evolution inputs missing on a non-initial step")
	}

	if H != nil {
		cur.H = mat.DenseCopyOf(H)
	}
	cur.F = mat.DenseCopyOf(F)
	cur.Offset = mat.VecDenseCopyOf(c)
	cur.Q = Q.Copy()
}

// Observe seals the open step into the log, with the given observation or
// with none when o is nil.
func (l *Log) Observe(G *mat.Dense, o *mat.VecDense, R cov.Factor) {
	cur := l.current
	if cur == nil {
		panic("kalman: observe without a preceding evolve")
	}

	if o != nil {
		cur.G = mat.DenseCopyOf(G)
		cur.Obs = mat.VecDenseCopyOf(o)
		cur.R = R.Copy()
	} else {
		cur.G, cur.Obs, cur.R = nil, nil, cov.Factor{}
	}

	l.steps.Append(cur)
	l.current = nil
	l.dirty = true
}

// Earliest returns the logical index of the earliest live step, -1 if none.
func (l *Log) Earliest() int {
	return l.steps.FirstIndex()
}

// Latest returns the logical index of the latest live step, -1 if none.
func (l *Log) Latest() int {
	return l.steps.LastIndex()
}

// Estimate returns a copy of the state estimate of step s; s < 0 selects
// the latest step. The result is NaN-filled for an out-of-range s or an
// undetermined step, and nil when the log is empty.
func (l *Log) Estimate(s int) *mat.VecDense {
	if l.steps.Size() == 0 {
		return nil
	}
	if s < 0 {
		s = l.steps.LastIndex()
	}
	if s < l.steps.FirstIndex() || s > l.steps.LastIndex() {
		return matrix.NaNVec(l.boundary(s).Dim)
	}

	l.ensure()

	eq := l.steps.Get(s)
	if eq.State == nil {
		return matrix.NaNVec(eq.Dim)
	}

	return mat.VecDenseCopyOf(eq.State)
}

// Covariance returns a copy of the covariance of the estimate of step s,
// as a tagged factor; s < 0 selects the latest step.
func (l *Log) Covariance(s int) cov.Factor {
	if l.steps.Size() == 0 {
		return cov.Factor{}
	}
	if s < 0 {
		s = l.steps.LastIndex()
	}
	if s < l.steps.FirstIndex() || s > l.steps.LastIndex() {
		n := l.boundary(s).Dim
		return cov.NewExplicit(matrix.NaNs(n, n))
	}

	l.ensure()

	eq := l.steps.Get(s)
	if eq.Covar.IsZero() {
		return cov.NewExplicit(matrix.NaNs(eq.Dim, eq.Dim))
	}

	return eq.Covar.Copy()
}

// Rollback drops every step after s and reopens step s itself, discarding
// its observation. Out-of-range indices are no-ops.
func (l *Log) Rollback(s int) {
	if l.steps.Size() == 0 {
		return
	}
	if s > l.steps.LastIndex() || s < l.steps.FirstIndex() {
		return
	}

	for {
		eq := l.steps.DropLast()
		if eq.Index == s {
			eq.G, eq.Obs, eq.R = nil, nil, cov.Factor{}
			eq.State, eq.Covar = nil, cov.Factor{}
			l.current = eq
			break
		}
	}

	l.dirty = true
}

// Forget drops every step up to and including s, but never the latest
// step; s < 0 selects everything but the latest step.
func (l *Log) Forget(s int) {
	if l.steps.Size() == 0 {
		return
	}
	if s < 0 {
		s = l.steps.LastIndex() - 1
	}
	if s > l.steps.LastIndex()-1 {
		return
	}
	if s < l.steps.FirstIndex() {
		return
	}

	for l.steps.FirstIndex() <= s {
		l.steps.DropFirst()
	}

	l.dirty = true
}

// Snapshot returns the live equations in step order.
func (l *Log) Snapshot() []*Equation {
	return l.steps.Snapshot()
}

// MarkClean records that filtered or smoothed estimates are up to date.
func (l *Log) MarkClean() {
	l.dirty = false
}

func (l *Log) ensure() {
	if l.dirty && l.Refresh != nil {
		l.Refresh()
		l.dirty = false
	}
}

func (l *Log) boundary(s int) *Equation {
	if s < l.steps.FirstIndex() {
		return l.steps.GetFirst()
	}

	return l.steps.GetLast()
}
