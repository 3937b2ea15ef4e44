package ultimate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
	"github.com/giaminhhoang/ultimate-kalman/sim"
)

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func TestSingleStepIdentityFilter(t *testing.T) {
	f := New()

	f.Evolve(2, nil, nil, nil, cov.Factor{})
	f.Observe(identity(2), mat.NewVecDense(2, []float64{3, 4}), cov.NewWeightFromStd(2, 1e-1))

	assert.Equal(t, 0, f.Earliest())
	assert.Equal(t, 0, f.Latest())

	e := f.Estimate(0)
	assert.InDelta(t, 3.0, e.AtVec(0), 1e-12)
	assert.InDelta(t, 4.0, e.AtVec(1), 1e-12)

	w := f.Covariance(0)
	assert.Equal(t, cov.Weight, w.Kind)

	// The factor is upper triangular and its Gram inverse is the explicit
	// covariance of the estimate, diag(1e-2, 1e-2).
	assert.InDelta(t, 0.0, w.M.At(1, 0), 1e-15)
	c := w.Explicit()
	assert.InDelta(t, 1e-2, c.At(0, 0), 1e-12)
	assert.InDelta(t, 1e-2, c.At(1, 1), 1e-12)
	assert.InDelta(t, 0.0, c.At(0, 1), 1e-12)
}

func TestRotationPredictionOnly(t *testing.T) {
	scenario := sim.NewRotation()
	f := New()

	f.Evolve(2, nil, nil, nil, scenario.Q)
	f.Observe(identity(2), mat.NewVecDense(2, []float64{1, 0}), scenario.R)

	e0 := f.Estimate(0)
	assert.InDelta(t, 1.0, e0.AtVec(0), 1e-12)
	assert.InDelta(t, 0.0, e0.AtVec(1), 1e-12)

	for i := 1; i < scenario.Steps; i++ {
		f.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
		f.Observe(nil, nil, scenario.R)
	}

	// With no further observations the estimates are the pure rotation of
	// the initial state.
	want := mat.NewVecDense(2, []float64{1, 0})
	for i := 1; i < scenario.Steps; i++ {
		var next mat.VecDense
		next.MulVec(scenario.F, want)
		want.CopyVec(&next)
	}

	e := f.Estimate(15)
	assert.InDelta(t, want.AtVec(0), e.AtVec(0), 1e-9)
	assert.InDelta(t, want.AtVec(1), e.AtVec(1), 1e-9)
}

// runFiltered drives the reference scenario the way the driver does:
// predict everything from the first observation, roll back, then filter
// with every observation.
func runFiltered(f *Filter, scenario *sim.Rotation) {
	f.Evolve(2, nil, nil, nil, scenario.Q)
	f.Observe(scenario.G, scenario.Observation(0), scenario.R)

	for i := 1; i < scenario.Steps; i++ {
		f.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
		f.Observe(nil, nil, scenario.R)
	}

	f.Rollback(1)
	f.Observe(scenario.G, scenario.Observation(1), scenario.R)

	for i := 2; i < scenario.Steps; i++ {
		f.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
		f.Observe(scenario.G, scenario.Observation(i), scenario.R)
	}
}

func TestRollbackRoundTrip(t *testing.T) {
	scenario := sim.NewRotation()

	f := New()
	runFiltered(f, scenario)

	states := make([]*mat.VecDense, scenario.Steps)
	covs := make([]*mat.Dense, scenario.Steps)
	for i := 0; i < scenario.Steps; i++ {
		states[i] = f.Estimate(i)
		covs[i] = f.Covariance(i).Explicit()
	}

	// Roll back to step 1 and replay the same observations. The rolled
	// back step leaves the log until it is observed again.
	f.Rollback(1)
	assert.Equal(t, 0, f.Latest())

	f.Observe(scenario.G, scenario.Observation(1), scenario.R)
	for i := 2; i < scenario.Steps; i++ {
		f.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
		f.Observe(scenario.G, scenario.Observation(i), scenario.R)
	}

	for i := 0; i < scenario.Steps; i++ {
		again := f.Estimate(i)
		assert.True(t, mat.EqualApprox(states[i], again, 1e-10), "state %d drifted", i)

		covAgain := f.Covariance(i).Explicit()
		assert.True(t, mat.EqualApprox(covs[i], covAgain, 1e-10), "covariance %d drifted", i)
	}
}

func TestSmoothIdempotent(t *testing.T) {
	scenario := sim.NewRotation()

	f := New()
	runFiltered(f, scenario)
	f.Smooth()

	states := make([]*mat.VecDense, scenario.Steps)
	covs := make([]*mat.Dense, scenario.Steps)
	for i := 0; i < scenario.Steps; i++ {
		states[i] = f.Estimate(i)
		covs[i] = f.Covariance(i).Explicit()
	}

	f.Smooth()

	for i := 0; i < scenario.Steps; i++ {
		assert.True(t, mat.EqualApprox(states[i], f.Estimate(i), 1e-14), "state %d", i)
		assert.True(t, mat.EqualApprox(covs[i], f.Covariance(i).Explicit(), 1e-14), "covariance %d", i)
	}
}

func TestSmoothImprovesInteriorStates(t *testing.T) {
	scenario := sim.NewRotation()

	f := New()
	runFiltered(f, scenario)

	filtered := make([]*mat.VecDense, scenario.Steps)
	for i := 0; i < scenario.Steps; i++ {
		filtered[i] = f.Estimate(i)
	}

	f.Smooth()

	// The last step's smoothed estimate is its filtered estimate; earlier
	// steps change because later observations now inform them.
	last := f.Estimate(scenario.Steps - 1)
	assert.True(t, mat.EqualApprox(filtered[scenario.Steps-1], last, 1e-10))

	changed := false
	for i := 0; i < scenario.Steps-1; i++ {
		if !mat.EqualApprox(filtered[i], f.Estimate(i), 1e-12) {
			changed = true
		}
	}
	assert.True(t, changed)
}

func TestRdiagUpperTriangular(t *testing.T) {
	scenario := sim.NewRotation()

	f := New()
	f.Evolve(2, nil, nil, nil, scenario.Q)
	f.Observe(scenario.G, scenario.Observation(0), scenario.R)

	for i := 1; i < 5; i++ {
		f.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
		f.Observe(scenario.G, scenario.Observation(i), scenario.R)

		w := f.Covariance(i)
		assert.Equal(t, cov.Weight, w.Kind)
		assert.InDelta(t, 0.0, w.M.At(1, 0), 1e-15, "step %d", i)
	}
}

func TestUnderdeterminedStepIsNaN(t *testing.T) {
	f := New()

	f.Evolve(2, nil, nil, nil, cov.Factor{})
	// One observation row cannot determine a two-dimensional state.
	g := mat.NewDense(1, 2, []float64{1, 1})
	f.Observe(g, mat.NewVecDense(1, []float64{5}), cov.NewWeightFromStd(1, 1e-1))

	e := f.Estimate(0)
	assert.Equal(t, 2, e.Len())
	assert.True(t, math.IsNaN(e.AtVec(0)))
	assert.True(t, math.IsNaN(e.AtVec(1)))

	c := f.Covariance(0)
	assert.True(t, math.IsNaN(c.M.At(0, 0)))
}

func TestNoObservationFirstStep(t *testing.T) {
	f := New()

	f.Evolve(2, nil, nil, nil, cov.Factor{})
	f.Observe(nil, nil, cov.Factor{})

	// The step exists but nothing determines it.
	assert.Equal(t, 0, f.Latest())
	e := f.Estimate(0)
	assert.True(t, math.IsNaN(e.AtVec(0)))
}

func TestEstimateOutOfRange(t *testing.T) {
	f := New()
	assert.Nil(t, f.Estimate(-1))

	f.Evolve(2, nil, nil, nil, cov.Factor{})
	f.Observe(identity(2), mat.NewVecDense(2, []float64{1, 2}), cov.NewWeightFromStd(2, 1))

	e := f.Estimate(7)
	assert.True(t, math.IsNaN(e.AtVec(0)))

	c := f.Covariance(7)
	assert.True(t, math.IsNaN(c.M.At(0, 0)))
}

func TestForget(t *testing.T) {
	scenario := sim.NewRotation()

	f := New()
	runFiltered(f, scenario)

	f.Forget(4)
	assert.Equal(t, 5, f.Earliest())
	assert.Equal(t, 15, f.Latest())

	// Forgetting never removes the last step.
	f.Forget(-1)
	assert.Equal(t, 15, f.Earliest())
	assert.Equal(t, 15, f.Latest())
	f.Forget(15)
	assert.Equal(t, 15, f.Earliest())

	// Out-of-range forgets are no-ops.
	f.Forget(3)
	assert.Equal(t, 15, f.Earliest())

	// The surviving estimate is still readable.
	e := f.Estimate(15)
	assert.False(t, math.IsNaN(e.AtVec(0)))
}

func TestForgetThenContinue(t *testing.T) {
	scenario := sim.NewRotation()

	f := New()
	runFiltered(f, scenario)

	before := f.Estimate(15)

	f.Forget(9)
	assert.Equal(t, 10, f.Earliest())

	// Forgetting the head does not disturb the retained estimates.
	assert.True(t, mat.EqualApprox(before, f.Estimate(15), 1e-14))

	// And filtering continues from the retained factor.
	f.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
	f.Observe(nil, nil, scenario.R)
	e := f.Estimate(16)
	assert.False(t, math.IsNaN(e.AtVec(0)))
}

func TestRollbackOutOfRange(t *testing.T) {
	scenario := sim.NewRotation()

	f := New()
	runFiltered(f, scenario)
	f.Forget(4)

	// Rolling back before the earliest step is a no-op.
	f.Rollback(2)
	assert.Equal(t, 5, f.Earliest())
	assert.Equal(t, 15, f.Latest())

	f.Rollback(99)
	assert.Equal(t, 15, f.Latest())
}

func TestSmoothMatchesPredictionWhenUnobserved(t *testing.T) {
	// With a single observed step followed by unobserved steps, smoothing
	// cannot add information: smoothed states equal predicted states.
	scenario := sim.NewRotation()
	f := New()

	f.Evolve(2, nil, nil, nil, scenario.Q)
	f.Observe(identity(2), mat.NewVecDense(2, []float64{1, 0}), scenario.R)
	for i := 1; i < 8; i++ {
		f.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
		f.Observe(nil, nil, scenario.R)
	}

	predicted := make([]*mat.VecDense, 8)
	for i := 0; i < 8; i++ {
		predicted[i] = f.Estimate(i)
	}

	f.Smooth()

	for i := 0; i < 8; i++ {
		assert.True(t, mat.EqualApprox(predicted[i], f.Estimate(i), 1e-9), "step %d", i)
	}
}
