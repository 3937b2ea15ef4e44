// Command rotation runs the reference rotation scenario: predict the whole
// trajectory from the first observation, roll back and filter with every
// observation, then smooth. The printed sequences are identical across the
// four algorithms and match the reference MATLAB rotation(UltimateKalman,5,2).
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg"

	kalman "github.com/giaminhhoang/ultimate-kalman"
	"github.com/giaminhhoang/ultimate-kalman/parallel"
	"github.com/giaminhhoang/ultimate-kalman/sim"
)

var (
	algorithmFlag = flag.String("algorithm", "ultimate", "ultimate|conventional|oddeven|associative")
	nthreadsFlag  = flag.Int("nthreads", -1, "worker thread limit (-1 = library default)")
	blocksizeFlag = flag.Int("blocksize", -1, "scan block size (-1 = library default)")
	plotFlag      = flag.String("plot", "", "write a trajectory plot to this PNG file")
)

func init() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true})
}

func main() {
	flag.Parse()

	algorithm, err := kalman.ParseAlgorithm(*algorithmFlag)
	if err != nil {
		log.Error(err)
		os.Exit(2)
	}

	log.Infof("rotation algorithm=%s nthreads=%d blocksize=%d (-1 means do not set)",
		algorithm, *nthreadsFlag, *blocksizeFlag)

	rt := parallel.New(parallel.Config{MaxThreads: *nthreadsFlag, BlockSize: *blocksizeFlag})

	scenario := sim.NewRotation()
	k := scenario.Steps

	fmt.Printf("F = %v\n", mat.Formatted(scenario.F, mat.Prefix("    ")))
	fmt.Printf("G = %v\n", mat.Formatted(scenario.G, mat.Prefix("    ")))
	fmt.Printf("states = %v\n", mat.Formatted(scenario.States, mat.Prefix("         ")))
	fmt.Printf("obs = %v\n", mat.Formatted(scenario.Obs, mat.Prefix("      ")))

	predicted := mat.NewDense(2, k, nil)
	filtered := mat.NewDense(2, k, nil)
	smoothed := mat.NewDense(2, k, nil)

	filter := kalman.New(algorithm, rt)

	// Predict the whole trajectory from the first observation.
	filter.Evolve(2, nil, nil, nil, scenario.Q)
	filter.Observe(scenario.G, scenario.Observation(0), scenario.R)
	storeColumn(predicted, 0, filter.Estimate(0))

	for i := 1; i < k; i++ {
		filter.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
		filter.Observe(nil, nil, scenario.R)
		storeColumn(predicted, i, filter.Estimate(i))
	}
	log.Infof("earliest->latest %d->%d", filter.Earliest(), filter.Latest())

	// Roll back to the second step and filter with every observation.
	filter.Rollback(1)
	filter.Observe(scenario.G, scenario.Observation(1), scenario.R)
	storeColumn(filtered, 0, filter.Estimate(0))
	storeColumn(filtered, 1, filter.Estimate(1))

	for i := 2; i < k; i++ {
		filter.Evolve(2, scenario.H, scenario.F, scenario.Zero, scenario.Q)
		filter.Observe(scenario.G, scenario.Observation(i), scenario.R)
		storeColumn(filtered, i, filter.Estimate(i))
	}

	// Smooth.
	filter.Smooth()
	for i := 0; i < k; i++ {
		storeColumn(smoothed, i, filter.Estimate(i))
	}

	w := filter.Covariance(0)
	fmt.Printf("covariance of smoothed estimate of state 0 = %v\n",
		mat.Formatted(w.Explicit(), mat.Prefix("    ")))

	fmt.Printf("predicted = %v\n", mat.Formatted(predicted, mat.Prefix("            ")))
	fmt.Printf("filtered = %v\n", mat.Formatted(filtered, mat.Prefix("           ")))
	fmt.Printf("smoothed = %v\n", mat.Formatted(smoothed, mat.Prefix("           ")))

	if *plotFlag != "" {
		p, err := sim.NewTrajectoryPlot(scenario.States, scenario.Obs, smoothed)
		if err != nil {
			log.Error(err)
			os.Exit(1)
		}
		if err := p.Save(6*vg.Inch, 6*vg.Inch, *plotFlag); err != nil {
			log.Error(err)
			os.Exit(1)
		}
		log.Infof("trajectory plot written to %s", *plotFlag)
	}

	log.Info("rotation done")
}

func storeColumn(dst *mat.Dense, i int, v *mat.VecDense) {
	dst.ColView(i).(*mat.VecDense).CopyVec(v)
}
