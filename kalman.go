package kalman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/giaminhhoang/ultimate-kalman/associative"
	"github.com/giaminhhoang/ultimate-kalman/conventional"
	"github.com/giaminhhoang/ultimate-kalman/cov"
	"github.com/giaminhhoang/ultimate-kalman/oddeven"
	"github.com/giaminhhoang/ultimate-kalman/parallel"
	"github.com/giaminhhoang/ultimate-kalman/ultimate"
)

// Filter is the capability set shared by every filtering and smoothing
// engine. A client drives it with alternating Evolve and Observe calls,
// reads estimates with Estimate and Covariance, and may smooth, truncate
// the tail with Rollback or the head with Forget at any point.
type Filter interface {
	// Evolve opens step i with state dimension n and the evolution
	// equation H*u_i = F*u_{i-1} + c + ε with Cov(ε) given by Q. Every
	// matrix argument may be nil on the first step; a nil H on later
	// steps selects the identity-shaped selector.
	Evolve(n int, H, F *mat.Dense, c *mat.VecDense, Q cov.Factor)
	// Observe seals the open step, with an observation o = G*u_i + δ and
	// Cov(δ) given by R, or with no observation when o is nil.
	Observe(G *mat.Dense, o *mat.VecDense, R cov.Factor)
	// Estimate returns a copy of the estimate of step s; s < 0 selects
	// the latest step. Undetermined and out-of-range steps are NaN.
	Estimate(s int) *mat.VecDense
	// Covariance returns the covariance of the estimate of step s as a
	// tagged factor; s < 0 selects the latest step.
	Covariance(s int) cov.Factor
	// Smooth replaces every live estimate with its full-information
	// smoothed value.
	Smooth()
	// Rollback drops every step after s and reopens step s, discarding
	// its observation; out-of-range s is a no-op.
	Rollback(s int)
	// Forget drops every step up to and including s but never the latest
	// step; s < 0 selects everything but the latest step.
	Forget(s int)
	// Earliest returns the lowest live step index, -1 if none.
	Earliest() int
	// Latest returns the highest live step index, -1 if none.
	Latest() int
}

// Algorithm selects a filtering engine.
type Algorithm int

const (
	// Ultimate is the sequential Paige-Saunders engine.
	Ultimate Algorithm = iota
	// Conventional is the covariance-form filter with an RTS smoother.
	Conventional
	// OddEven is the batch cyclic-reduction smoother.
	OddEven
	// Associative is the batch prefix-scan smoother.
	Associative
)

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	switch a {
	case Ultimate:
		return "ultimate"
	case Conventional:
		return "conventional"
	case OddEven:
		return "oddeven"
	case Associative:
		return "associative"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// ParseAlgorithm maps a selector name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "ultimate":
		return Ultimate, nil
	case "conventional":
		return Conventional, nil
	case "oddeven":
		return OddEven, nil
	case "associative":
		return Associative, nil
	default:
		return Ultimate, fmt.Errorf("unknown algorithm %q", s)
	}
}

// New returns an empty filter running the selected algorithm. The runtime
// carries the parallel tunables for the batch engines; nil selects the
// default runtime. It panics on an unknown algorithm.
func New(a Algorithm, rt *parallel.Runtime) Filter {
	switch a {
	case Ultimate:
		return ultimate.New()
	case Conventional:
		return conventional.New()
	case OddEven:
		return oddeven.New(rt)
	case Associative:
		return associative.New(rt)
	default:
		panic(fmt.Sprintf("kalman: unknown algorithm %d", int(a)))
	}
}
