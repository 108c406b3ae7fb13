package ihbv

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/maseology/mmio"
	"github.com/maseology/montecarlo/smpln"
	mrg63k3a "github.com/maseology/goRNG/MRG63k3a"
)

func logit(u float64) float64 { return math.Log(u / (1. - u)) }

// rawStatic expands one sampled (0,1) parameter row to the raw array shape:
// the logit pre-image of every value, shared across basins and time slices.
func rawStatic(ut []float64, nt, ng int) [][][]float64 {
	row := make([]float64, len(ut))
	for j, u := range ut {
		row[j] = logit(u)
	}
	raw := make([][][]float64, nt)
	gs := make([][]float64, ng)
	for g := range gs {
		gs[g] = row // read-only downstream
	}
	for t := range raw {
		raw[t] = gs
	}
	return raw
}

// GenerateSamples draws n latin-hypercube samples of the static parameter
// space, runs each through the explicit model over nwrkrs workers, and
// writes the sample space and per-basin KGE scores as csv, prefixed by a
// date-stamped batch number under outdir.
func GenerateSamples(cfg *Config, frc *Forcing, obs *Observations, n, nwrkrs int, outdir string) error {
	mpr, err := NewMapper(cfg)
	if err != nil {
		return err
	}
	nt, ng := frc.Dims()
	p := mpr.RawWidth()

	// build sampling plan
	rng := rand.New(mrg63k3a.New())
	if cfg.Seed != 0 {
		rng.Seed(cfg.Seed)
	} else {
		rng.Seed(time.Now().UnixNano())
	}
	sp := smpln.NewLHC(rng, n, p, false)

	outdirbatch := outdir + time.Now().Format("060102150405") // batch number = date
	func() { // save sample space
		lns := make([]string, n)
		for k := 0; k < n; k++ {
			lns[k] = fmt.Sprint(k)
			for j := 0; j < p; j++ {
				lns[k] += fmt.Sprintf(",%f", sp.U[j][k])
			}
		}
		mmio.WriteLines(outdirbatch+".samplespace.csv", lns)
	}()

	// set up workers, each with its own evaluator
	offset := cfg.WarmUp // index of the first output row in the observation series
	if cfg.KeepWarmUp && !cfg.WarmUpStates {
		offset = 0
	}
	scores := make([][]float64, n)
	smpls := make(chan int, nwrkrs)
	var wg sync.WaitGroup
	var werr error
	var mu sync.Mutex
	for w := 0; w < nwrkrs; w++ {
		ev, err := NewEvaluator(cfg, frc)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(ev *Evaluator) {
			defer wg.Done()
			for k := range smpls {
				ut := make([]float64, p)
				for j := 0; j < p; j++ {
					ut[j] = sp.U[j][k]
				}
				o, err := ev.Run(rawStatic(ut, nt, ng), nil, nil)
				if err != nil {
					mu.Lock()
					werr = err
					mu.Unlock()
					continue
				}
				scores[k] = obs.KGE(o.Flow, offset)
			}
		}(ev)
	}
	for k := 0; k < n; k++ {
		smpls <- k
	}
	close(smpls)
	wg.Wait()
	if werr != nil {
		return werr
	}

	lns := make([]string, n)
	for k := 0; k < n; k++ {
		lns[k] = fmt.Sprint(k)
		for _, v := range scores[k] {
			lns[k] += fmt.Sprintf(",%f", v)
		}
	}
	mmio.WriteLines(outdirbatch+".kge.csv", lns)
	return nil
}
