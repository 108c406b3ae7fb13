// Package opt wraps the evaluator in a shuffled-complex-evolution search of
// the static parameter space.
package opt

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/maseology/glbopt"
	"github.com/maseology/ihbv"
	mrg63k3a "github.com/maseology/goRNG/MRG63k3a"
)

// expand maps one sampled (0,1) row to the raw array shape: the logit
// pre-image of every value, shared across basins and time slices.
func expand(ut []float64, nt, ng int) [][][]float64 {
	row := make([]float64, len(ut))
	for j, u := range ut {
		row[j] = math.Log(u / (1. - u))
	}
	raw := make([][][]float64, nt)
	gs := make([][]float64, ng)
	for g := range gs {
		gs[g] = row
	}
	for t := range raw {
		raw[t] = gs
	}
	return raw
}

// Calibrate searches the static parameter space with SCE, maximizing mean
// KGE over the gauged basins, and returns the best (0,1) sample with its
// score. Dynamic parameters are incompatible with a static search.
func Calibrate(ev *ihbv.Evaluator, obs *ihbv.Observations, ncmplx int, seed int64) ([]float64, float64, error) {
	cfg := ev.Cfg
	if len(cfg.DyParams) > 0 {
		return nil, 0., fmt.Errorf("opt: calibration requires a static parameterization")
	}
	nt, ng := ev.Frc.Dims()
	ndim := ev.Mpr.RawWidth()
	offset := cfg.WarmUp
	if cfg.KeepWarmUp && !cfg.WarmUpStates {
		offset = 0
	}

	gen := func(u []float64) float64 {
		o, err := ev.Run(expand(u, nt, ng), nil, nil)
		if err != nil {
			return math.MaxFloat64
		}
		s, n := 0., 0
		for _, kge := range obs.KGE(o.Flow, offset) {
			if !math.IsNaN(kge) {
				s += kge
				n++
			}
		}
		if n == 0 {
			return math.MaxFloat64
		}
		return 1. - s/float64(n) // minimized
	}

	rng := rand.New(mrg63k3a.New())
	if seed != 0 {
		rng.Seed(seed)
	} else {
		rng.Seed(time.Now().UnixNano())
	}
	fmt.Println(" optimizing..")
	uFinal, yFinal := glbopt.SCE(ncmplx, ndim, rng, gen, true)
	return uFinal, 1. - yFinal, nil
}
