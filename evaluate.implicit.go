package ihbv

import (
	"fmt"

	"github.com/maseology/ihbv/hbv"
	"github.com/maseology/ihbv/mol"
)

// Run is a completed implicit forward evaluation. It retains, per time step,
// only the converged state and the two Jacobians the adjoint rule needs;
// Gradient consumes them in a single reverse sweep.
type Run struct {
	Out *Output

	ev   *Evaluator
	m    *hbv.Model
	ps   *ParamSet
	tape []*mol.Step

	// routing kernels and their parameter partials, per basin
	kern, dkda, dkdb [][]float64

	// Divergences counts Newton steps that hit the iteration cap.
	Divergences int

	ntRaw, width int
}

// RunImplicit advances the model with the backward-Euler Newton solver over
// warm-up and simulation windows, retaining the adjoint working set. Output
// series cover the post-warm-up window. mask as in Run.
func (ev *Evaluator) RunImplicit(raw [][][]float64, mask map[string][]float64) (*Run, error) {
	cfg := ev.Cfg
	ps, err := ev.Mpr.Build(raw, cfg.WarmUp, ev.rng, mask)
	if err != nil {
		return nil, err
	}
	m := ev.model()

	opts := mol.Options{Dt: cfg.Dt, Tol: cfg.Tol, MaxIter: cfg.MaxIter}
	if cfg.Trapezoidal {
		opts.Scheme = mol.Trapezoidal
	}
	if cfg.FailDiverge {
		opts.OnDivergence = mol.Fail
	}
	slv := mol.NewSolver(m, ev.nb, opts)

	x := make([]float64, ev.nb*hbv.NState) // zero initial storages
	tape := make([]*mol.Step, ev.nt)
	bar, stop := ev.bar(ev.nt)
	for t := 0; t < ev.nt; t++ {
		st, err := slv.Step(t, x, ps.Phy[t])
		if err != nil {
			stop()
			return nil, fmt.Errorf("ihbv: implicit evaluation: %w", err)
		}
		tape[t] = st
		x = st.X
		if bar != nil {
			bar.Incr()
		}
	}
	stop()

	nout := ev.nt - cfg.WarmUp
	o := &Output{
		Flow: newSeries(nout, ev.ng), FlowNoRout: newSeries(nout, ev.ng),
		Q0NoRout: newSeries(nout, ev.ng), Q1NoRout: newSeries(nout, ev.ng), Q2NoRout: newSeries(nout, ev.ng),
		AET: newSeries(nout, ev.ng), PET: newSeries(nout, ev.ng), SWE: newSeries(nout, ev.ng),
		Recharge: newSeries(nout, ev.ng), Excess: newSeries(nout, ev.ng), EvapFactor: newSeries(nout, ev.ng),
		ToSoil: newSeries(nout, ev.ng), Perc: newSeries(nout, ev.ng), Capillary: newSeries(nout, ev.ng),
	}

	qsim := make([]float64, ev.nb)
	fx := hbv.NewFluxes(ev.nb)
	for j := 0; j < nout; j++ {
		t := cfg.WarmUp + j
		m.Fluxes(t, tape[t].X, ps.Phy[t], fx)
		for i := 0; i < ev.nb; i++ {
			qsim[i] = fx.Qtot(i) * cfg.Dt
		}
		ev.reduce(qsim, nil, o.FlowNoRout[j])
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
	}

	r := &Run{
		Out: o, ev: ev, m: m, ps: ps, tape: tape,
		Divergences: slv.Divergences,
		ntRaw:       len(raw), width: ev.Mpr.RawWidth(),
	}

	if cfg.Routing {
		nr := len(ev.Mpr.Rout)
		r.kern = make([][]float64, ev.ng)
		r.dkda = make([][]float64, ev.ng)
		r.dkdb = make([][]float64, ev.ng)
		o.Q0, o.Q1, o.Q2 = newSeries(nout, ev.ng), newSeries(nout, ev.ng), newSeries(nout, ev.ng)
		o.BFI = make([]float64, ev.ng)
		for g := 0; g < ev.ng; g++ {
			a := boundOf(ev.Mpr.Rout[0], ps.Rout[g*nr])
			b := boundOf(ev.Mpr.Rout[1], ps.Rout[g*nr+1])
			r.kern[g], r.dkda[g], r.dkdb[g] = uhGammaGrad(a, b, cfg.UHLen)

			qr := convCausal(column(o.FlowNoRout, g), r.kern[g])
			r0 := convCausal(column(o.Q0NoRout, g), r.kern[g])
			r1 := convCausal(column(o.Q1NoRout, g), r.kern[g])
			r2 := convCausal(column(o.Q2NoRout, g), r.kern[g])
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
	} else {
		for j := range o.Flow {
			copy(o.Flow[j], o.FlowNoRout[j])
		}
	}

	return r, nil
}

func column(s [][]float64, g int) []float64 {
	q := make([]float64, len(s))
	for j := range s {
		q[j] = s[j][g]
	}
	return q
}
