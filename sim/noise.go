package sim

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is a live zero-mean Gaussian noise source for simulations that
// do not use the pre-drawn reference deviates.
type Gaussian struct {
	// dist is a multivariate normal distribution
	dist *distmv.Normal
	// cov is the noise covariance
	cov mat.Symmetric
}

// NewGaussian creates a Gaussian noise source with the given covariance.
// It returns error if the covariance is not positive definite.
func NewGaussian(cov mat.Symmetric) (*Gaussian, error) {
	dist, ok := newGaussianDist(cov)
	if !ok {
		return nil, fmt.Errorf("failed to create Gaussian noise")
	}

	return &Gaussian{
		dist: dist,
		cov:  cov,
	}, nil
}

// Sample draws one sample.
func (g *Gaussian) Sample() *mat.VecDense {
	r := g.dist.Rand(nil)

	return mat.NewVecDense(len(r), r)
}

// Cov returns the noise covariance.
func (g *Gaussian) Cov() mat.Symmetric {
	return g.cov
}

// Reset reseeds the noise source.
// It returns error if it fails to reset the noise.
func (g *Gaussian) Reset() error {
	dist, ok := newGaussianDist(g.cov)
	if !ok {
		return fmt.Errorf("failed to reset Gaussian noise")
	}
	g.dist = dist

	return nil
}

func newGaussianDist(cov mat.Symmetric) (*distmv.Normal, bool) {
	seed := rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	size := cov.SymmetricDim()

	return distmv.NewNormal(make([]float64, size), cov, seed)
}
