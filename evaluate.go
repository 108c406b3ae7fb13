package ihbv

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/maseology/ihbv/hbv"
	mrg63k3a "github.com/maseology/goRNG/MRG63k3a"
)

// Evaluator runs forward evaluations of the bucket model for one forcing
// set. The time loop is strictly sequential; all per-step arithmetic is
// batched over basin×realization elements.
type Evaluator struct {
	Cfg *Config
	Frc *Forcing
	Mpr *Mapper

	// Progress draws a uiprogress bar over the time loop when set.
	Progress bool

	nt, ng, nb int
	rng        *rand.Rand
}

// NewEvaluator validates the configuration and forcing shapes eagerly and
// prepares the mapper and RNG stream.
func NewEvaluator(cfg *Config, frc *Forcing) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := frc.Check(); err != nil {
		return nil, err
	}
	nt, ng := frc.Dims()
	if cfg.WarmUp >= nt {
		return nil, fmt.Errorf("ihbv: warm-up %d >= forcing length %d", cfg.WarmUp, nt)
	}
	mpr, err := NewMapper(cfg)
	if err != nil {
		return nil, err
	}
	rng := rand.New(mrg63k3a.New())
	if cfg.Seed != 0 {
		rng.Seed(cfg.Seed)
	} else {
		rng.Seed(time.Now().UnixNano())
	}
	return &Evaluator{Cfg: cfg, Frc: frc, Mpr: mpr, nt: nt, ng: ng, nb: ng * cfg.Nmul, rng: rng}, nil
}

// model expands the forcing to the merged batch dimension (e = m*ng + g)
// and binds the bounds table of the configured variant.
func (ev *Evaluator) model() *hbv.Model {
	nm := ev.Cfg.Nmul
	expand := func(src [][]float64) [][]float64 {
		out := make([][]float64, ev.nt)
		for t := range src {
			row := make([]float64, ev.nb)
			for m := 0; m < nm; m++ {
				copy(row[m*ev.ng:(m+1)*ev.ng], src[t])
			}
			out[t] = row
		}
		return out
	}
	return &hbv.Model{
		Prc: expand(ev.Frc.P), Tmp: expand(ev.Frc.Tm), Pet: expand(ev.Frc.Ep),
		B:         hbv.ParamBounds(ev.Cfg.Capillary),
		Capillary: ev.Cfg.Capillary,
		Floor:     smFloor,
	}
}

// reduce collapses the realization dimension: mean, or muwts-weighted when
// weights are supplied.
func (ev *Evaluator) reduce(v []float64, muwts []float64, out []float64) {
	nm := ev.Cfg.Nmul
	for g := 0; g < ev.ng; g++ {
		acc := 0.
		for m := 0; m < nm; m++ {
			if muwts == nil {
				acc += v[m*ev.ng+g] / float64(nm)
			} else {
				acc += v[m*ev.ng+g] * muwts[m]
			}
		}
		out[g] = acc
	}
}

func (ev *Evaluator) bar(n int) (*uiprogress.Bar, func()) {
	if !ev.Progress {
		return nil, func() {}
	}
	uiprogress.Start()
	b := uiprogress.AddBar(n).AppendCompleted().PrependElapsed()
	return b, uiprogress.Stop
}

// Run advances the model explicitly over the whole forcing series and
// returns the reduced output bundle. Forward-only: gradients require the
// implicit path (RunImplicit). mask, when non-nil, replaces the Bernoulli
// dynamic-parameter draw; muwts, when non-nil, weights the realization
// reduction.
func (ev *Evaluator) Run(raw [][][]float64, muwts []float64, mask map[string][]float64) (*Output, error) {
	cfg := ev.Cfg
	if muwts != nil && len(muwts) != cfg.Nmul {
		return nil, fmt.Errorf("ihbv: muwts length %d, want %d", len(muwts), cfg.Nmul)
	}
	ps, err := ev.Mpr.Build(raw, cfg.WarmUp, ev.rng, mask)
	if err != nil {
		return nil, err
	}
	m := ev.model()

	x := make([]float64, ev.nb*hbv.NState)
	for i := range x {
		x[i] = cfg.NearZero
	}

	t0 := 0
	if cfg.WarmUpStates && cfg.WarmUp > 0 {
		// equilibrate states over the warm-up prefix; discard fluxes
		fx := hbv.NewFluxes(ev.nb)
		for t := 0; t < cfg.WarmUp; t++ {
			m.Step(t, x, ps.Phy[t], fx)
		}
		t0 = cfg.WarmUp
	}

	nout := ev.nt - t0
	o := &Output{
		Flow: newSeries(nout, ev.ng), FlowNoRout: newSeries(nout, ev.ng),
		Q0NoRout: newSeries(nout, ev.ng), Q1NoRout: newSeries(nout, ev.ng), Q2NoRout: newSeries(nout, ev.ng),
		AET: newSeries(nout, ev.ng), PET: newSeries(nout, ev.ng), SWE: newSeries(nout, ev.ng),
		Recharge: newSeries(nout, ev.ng), Excess: newSeries(nout, ev.ng), EvapFactor: newSeries(nout, ev.ng),
		ToSoil: newSeries(nout, ev.ng), Perc: newSeries(nout, ev.ng), Capillary: newSeries(nout, ev.ng),
	}

	qmu := make([][]float64, nout) // per-element flow retained for comprout
	fx := hbv.NewFluxes(ev.nb)
	bar, stop := ev.bar(nout)
	for t := t0; t < ev.nt; t++ {
		m.Step(t, x, ps.Phy[t], fx)
		j := t - t0

		qmu[j] = make([]float64, ev.nb)
		for i := 0; i < ev.nb; i++ {
			qmu[j][i] = fx.Qtot(i)
		}
		ev.reduce(qmu[j], muwts, o.FlowNoRout[j])
		ev.reduce(fx.Q0, nil, o.Q0NoRout[j])
		ev.reduce(fx.Q1, nil, o.Q1NoRout[j])
		ev.reduce(fx.Q2, nil, o.Q2NoRout[j])
		ev.reduce(fx.AET, nil, o.AET[j])
		ev.reduce(fx.SWE, nil, o.SWE[j])
		ev.reduce(fx.Recharge, nil, o.Recharge[j])
		ev.reduce(fx.Excess, nil, o.Excess[j])
		ev.reduce(fx.EvapFactor, nil, o.EvapFactor[j])
		ev.reduce(fx.ToSoil, nil, o.ToSoil[j])
		ev.reduce(fx.Perc, nil, o.Perc[j])
		ev.reduce(fx.Capillary, nil, o.Capillary[j])
		copy(o.PET[j], ev.Frc.Ep[t])
		if bar != nil {
			bar.Incr()
		}
	}
	stop()

	if cfg.Routing {
		ev.route(o, ps, qmu, muwts)
	} else {
		for j := range o.Flow {
			copy(o.Flow[j], o.FlowNoRout[j])
		}
	}

	if !cfg.KeepWarmUp && t0 == 0 {
		o.truncate(cfg.WarmUp)
	}
	return o, nil
}

// route builds the per-basin gamma kernel and convolves the mean flow and
// each component; comprout instead routes every realization then averages.
func (ev *Evaluator) route(o *Output, ps *ParamSet, qmu [][]float64, muwts []float64) {
	cfg := ev.Cfg
	nout := len(o.FlowNoRout)
	nr := len(ev.Mpr.Rout)
	o.Q0, o.Q1, o.Q2 = newSeries(nout, ev.ng), newSeries(nout, ev.ng), newSeries(nout, ev.ng)
	o.BFI = make([]float64, ev.ng)

	for g := 0; g < ev.ng; g++ {
		a := boundOf(ev.Mpr.Rout[0], ps.Rout[g*nr])
		b := boundOf(ev.Mpr.Rout[1], ps.Rout[g*nr+1])
		w := uhGamma(a, b, cfg.UHLen)

		var qr []float64
		if cfg.CompRout {
			// route each realization, then reduce
			qr = make([]float64, nout)
			for m := 0; m < cfg.Nmul; m++ {
				q := make([]float64, nout)
				for j := 0; j < nout; j++ {
					q[j] = qmu[j][m*ev.ng+g]
				}
				rq := convCausal(q, w)
				wt := 1. / float64(cfg.Nmul)
				if muwts != nil {
					wt = muwts[m]
				}
				for j := range qr {
					qr[j] += rq[j] * wt
				}
			}
		} else {
			qr = convCausal(column(o.FlowNoRout, g), w)
		}
		r0 := convCausal(column(o.Q0NoRout, g), w)
		r1 := convCausal(column(o.Q1NoRout, g), w)
		r2 := convCausal(column(o.Q2NoRout, g), w)

		sq, s2 := 0., 0.
		for j := 0; j < nout; j++ {
			o.Flow[j][g] = qr[j]
			o.Q0[j][g] = r0[j]
			o.Q1[j][g] = r1[j]
			o.Q2[j][g] = r2[j]
			sq += qr[j]
			s2 += r2[j]
		}
		o.BFI[g] = 100. * s2 / (sq + cfg.NearZero)
	}
}
