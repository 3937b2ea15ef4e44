// Package sim provides the reference rotation scenario, pre-drawn and live
// Gaussian noise sources, and trajectory plotting for the filtering
// engines.
package sim

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
)

// Rotation is the reference scenario: a point rotating on the unit circle
// in sixteenth-turn steps, observed through a fixed observation matrix,
// with the fixed MATLAB deviate matrices as process and measurement noise.
// All four engines must estimate it identically.
type Rotation struct {
	// Steps is the trajectory length.
	Steps int
	// ObsDim is the number of observation rows per step.
	ObsDim int
	// F is the 2x2 rotation by 2*pi/16.
	F *mat.Dense
	// H is the identity evolution selector.
	H *mat.Dense
	// G is the ObsDim x 2 observation matrix.
	G *mat.Dense
	// Zero is the zero evolution offset.
	Zero *mat.VecDense
	// Q is the evolution noise factor, a 'W' weight with std 1e-3.
	Q cov.Factor
	// R is the observation noise factor, a 'W' weight with std 1e-1.
	R cov.Factor
	// States holds the simulated true states, one column per step.
	States *mat.Dense
	// Obs holds the simulated observations, one column per step.
	Obs *mat.Dense
}

// EvolutionStd and ObservationStd are the noise levels of the scenario.
const (
	EvolutionStd   = 1e-3
	ObservationStd = 1e-1
)

// observationRows is the pool of observation rows; a scenario uses the
// leading ObsDim of them.
var observationRows = []float64{
	1, 0,
	0, 1,
	1, 1,
	2, 1,
	1, 2,
	3, 1,
}

// NewRotation builds the 16-step reference scenario with two observation
// rows per step and synthesizes its trajectory and observations from the
// fixed deviates.
func NewRotation() *Rotation {
	const steps = 16
	const obsDim = 2

	alpha := 2 * math.Pi / float64(steps)
	f := mat.NewDense(2, 2, []float64{
		math.Cos(alpha), -math.Sin(alpha),
		math.Sin(alpha), math.Cos(alpha),
	})

	g := mat.DenseCopyOf(mat.NewDense(6, 2, observationRows).Slice(0, obsDim, 0, 2))

	r := &Rotation{
		Steps:  steps,
		ObsDim: obsDim,
		F:      f,
		H:      mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		G:      g,
		Zero:   mat.NewVecDense(2, nil),
		Q:      cov.NewWeightFromStd(2, EvolutionStd),
		R:      cov.NewWeightFromStd(obsDim, ObservationStd),
	}

	evolErrs := EvolErrs()
	obsErrs := ObsErrs()

	states := mat.NewDense(2, steps, nil)
	states.Set(0, 0, 1)
	states.Set(1, 0, 0)
	for i := 1; i < steps; i++ {
		var next mat.VecDense
		next.MulVec(f, states.ColView(i - 1))
		next.AddScaledVec(&next, EvolutionStd, evolErrs.ColView(i-1))
		states.ColView(i).(*mat.VecDense).CopyVec(&next)
	}
	r.States = states

	obs := mat.NewDense(obsDim, steps, nil)
	for i := 0; i < steps; i++ {
		var o mat.VecDense
		o.MulVec(g, states.ColView(i))
		o.AddScaledVec(&o, ObservationStd, obsErrs.ColView(i).(*mat.VecDense).SliceVec(0, obsDim))
		obs.ColView(i).(*mat.VecDense).CopyVec(&o)
	}
	r.Obs = obs

	return r
}

// Observation returns the observation of step i as a fresh vector.
func (r *Rotation) Observation(i int) *mat.VecDense {
	o := mat.NewVecDense(r.ObsDim, nil)
	o.CopyVec(r.Obs.ColView(i))

	return o
}
