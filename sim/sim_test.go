package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestDeviateDimensions(t *testing.T) {
	rows, cols := EvolErrs().Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 15, cols)

	rows, cols = ObsErrs().Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 16, cols)

	// The deviates are the fixed MATLAB draw, not regenerated.
	assert.InDelta(t, -0.343003152130103, EvolErrs().At(0, 0), 1e-15)
	assert.InDelta(t, 1.725578381396231, ObsErrs().At(1, 15), 1e-15)
}

func TestRotationScenario(t *testing.T) {
	r := NewRotation()

	assert.Equal(t, 16, r.Steps)
	assert.Equal(t, 2, r.ObsDim)

	// F is orthogonal and rotates by one sixteenth of a turn.
	var ftf mat.Dense
	ftf.Mul(r.F.T(), r.F)
	assert.True(t, mat.EqualApprox(&ftf, mat.NewDense(2, 2, []float64{1, 0, 0, 1}), 1e-14))
	assert.InDelta(t, math.Cos(2*math.Pi/16), r.F.At(0, 0), 1e-15)

	// The trajectory starts on the unit circle.
	assert.Equal(t, 1.0, r.States.At(0, 0))
	assert.Equal(t, 0.0, r.States.At(1, 0))

	// Synthesis is deterministic.
	again := NewRotation()
	assert.True(t, mat.Equal(r.States, again.States))
	assert.True(t, mat.Equal(r.Obs, again.Obs))

	// Each state is the rotation of its predecessor plus the scaled
	// deviate.
	evolErrs := EvolErrs()
	for i := 1; i < r.Steps; i++ {
		var want mat.VecDense
		want.MulVec(r.F, r.States.ColView(i-1))
		want.AddScaledVec(&want, EvolutionStd, evolErrs.ColView(i-1))
		assert.True(t, mat.EqualApprox(&want, r.States.ColView(i), 1e-15), "step %d", i)
	}
}

func TestObservationCopies(t *testing.T) {
	r := NewRotation()

	o := r.Observation(3)
	assert.Equal(t, 2, o.Len())

	o.SetVec(0, 999)
	assert.NotEqual(t, 999.0, r.Obs.At(0, 3))
}

func TestGaussianNoise(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})

	g, err := NewGaussian(cov)
	assert.NoError(t, err)

	sample := g.Sample()
	assert.Equal(t, 2, sample.Len())
	assert.False(t, math.IsNaN(sample.AtVec(0)))

	assert.NoError(t, g.Reset())
}

func TestTrajectoryPlot(t *testing.T) {
	r := NewRotation()

	p, err := NewTrajectoryPlot(r.States, r.Obs, r.States)
	assert.NoError(t, err)
	assert.NotNil(t, p)

	_, err = NewTrajectoryPlot(nil, r.Obs, r.States)
	assert.Error(t, err)

	_, err = NewTrajectoryPlot(mat.NewDense(1, 3, nil), r.Obs, r.States)
	assert.Error(t, err)
}
