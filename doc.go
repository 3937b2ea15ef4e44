// Package kalman provides Kalman filtering and smoothing of discrete-time
// linear time-varying state-space systems. State dimensions may vary per
// step, evolution and observation blocks may be rectangular or rank
// deficient, and estimates come with their covariances.
//
// Four engines implement the same Filter capability set. The Ultimate
// engine is a streaming filter that maintains the Paige-Saunders
// block-bidiagonal triangular factor of the accumulated weighted
// least-squares system through orthogonal transformations only, which
// keeps it stable on singular and ill-conditioned problems; observation,
// rollback and retrospective smoothing are local updates of adjacent
// blocks of that factor. The Conventional engine is the textbook
// covariance recursion with a Rauch-Tung-Striebel smoother. The OddEven
// and Associative engines are batch smoothers built for the data-parallel
// runtime in the parallel package: the former solves the block-tridiagonal
// normal equations by cyclic reduction, the latter runs the two
// associative prefix scans of Sarkka and Garcia-Fernandez.
//
// A filter is driven with alternating Evolve and Observe calls:
//
//	f := kalman.New(kalman.Ultimate, nil)
//	f.Evolve(2, nil, nil, nil, cov.Factor{})
//	f.Observe(g, o, cov.NewWeightFromStd(2, 0.1))
//	state := f.Estimate(-1)
//
// Covariances are tagged factors (package cov): the tag says whether the
// matrix is the covariance itself, a whitening factor, a triangular
// factor, or a diagonal weight, and travels with the matrix through every
// operation.
package kalman
