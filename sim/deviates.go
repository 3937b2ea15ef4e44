package sim

import "gonum.org/v1/gonum/mat"

// Gaussian deviates drawn once in MATLAB so that simulations and estimates
// reproduce the reference implementation exactly:
//
//	rng(5); for j=2:16; evolErrs(1:2,j-1) = randn(2,1); end
//	for j=1:16; obsErrs(1:2,j) = randn(2,1); end
var evolErrsRowwise = []float64{
	-0.343003152130103, -0.766711794483284, -0.016814112314737, 0.684339759945504, -1.401783282955619, -1.521660304521858, -0.127785244107286, 0.602860572524585, -0.139677982915557, 0.407768714902350, 0.397539533883833, -0.317539749169638, -0.779285825610984, -1.935513755513929, 0.678730596165904,
	1.666349045016822, 2.635481573310387, 0.304155468427342, 0.055808274805755, -1.360112379179931, 1.054743814037827, -1.410338023439304, -0.456929290517258, -0.983310072206319, 0.242994841538368, -0.175692485792199, -1.101615186229668, -1.762205119649466, 1.526915548584107, -2.277161011565906,
}

var obsErrsRowwise = []float64{
	-1.428567988496096, 0.913205695955837, -1.576872295738796, -1.888336147279610, 1.116853507009928, 1.615888145666843, -0.102585012191329, -0.192732954692481, 0.160906008337421, -0.024849020282298, -1.001561909251739, -0.314462113181954, 0.276865687293751, 0.175430340572582, 0.746792737753047, 1.648965874319728,
	-1.114618464565160, 0.976371425014641, 0.204080086636545, 0.736193913185726, 0.743379272133998, -1.666530392059792, 0.622727541956653, 0.794595441386172, 0.539084689771962, -2.548385761079745, -1.161623730001803, 1.066876935479899, 1.748562141782206, 0.362976707912966, 0.842263598054067, 1.725578381396231,
}

// EvolErrs returns the 2x15 evolution deviate matrix of the reference
// scenario.
func EvolErrs() *mat.Dense {
	return mat.NewDense(2, 15, evolErrsRowwise)
}

// ObsErrs returns the 2x16 observation deviate matrix of the reference
// scenario.
func ObsErrs() *mat.Dense {
	return mat.NewDense(2, 16, obsErrsRowwise)
}
