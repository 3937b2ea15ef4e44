package kalman

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/cov"
)

// Perftest drives count evolve-observe-estimate-forget cycles with the
// given step equations and returns the average per-step wall time of each
// decimation bucket. The filter keeps only the latest step alive, so the
// loop measures steady-state streaming cost.
func Perftest(f Filter, h, fMat *mat.Dense, c *mat.VecDense, q cov.Factor,
	g *mat.Dense, o *mat.VecDense, r cov.Factor,
	count, decimation int) *mat.VecDense {

	_, n := g.Dims()

	t := mat.NewVecDense(count/decimation, nil)
	j := 0
	begin := time.Now()

	for i := 0; i < count; i++ {
		f.Evolve(n, h, fMat, c, q)
		f.Observe(g, o, r)
		f.Estimate(-1)
		f.Forget(-1)

		if i%decimation == decimation-1 {
			elapsed := time.Since(begin).Seconds()
			t.SetVec(j, elapsed/float64(decimation))
			j++
			begin = time.Now()
		}
	}

	return t
}
