package ihbv

import (
	"fmt"

	"github.com/maseology/ihbv/hbv"
	"github.com/viterin/vek"
)

// Gradient back-propagates an upstream gradient on the routed flow series
// (dLdFlow[j][g], over the post-warm-up window) to the raw parameter array,
// returning an array of the same shape as the RunImplicit input. The chain
// runs: routing convolution → per-step flux outputs → adjoint rule of each
// implicit step (newest first, carrying the previous-state term) → dynamic/
// static masking → logistic squash.
func (r *Run) Gradient(dLdFlow [][]float64) ([][][]float64, error) {
	ev, cfg := r.ev, r.ev.Cfg
	nout := ev.nt - cfg.WarmUp
	if len(dLdFlow) != nout {
		return nil, fmt.Errorf("ihbv: gradient window %d, want %d", len(dLdFlow), nout)
	}
	for j := range dLdFlow {
		if len(dLdFlow[j]) != ev.ng {
			return nil, fmt.Errorf("ihbv: gradient basin count %d at row %d, want %d", len(dLdFlow[j]), j, ev.ng)
		}
	}

	graw := make([][][]float64, r.ntRaw)
	for t := range graw {
		graw[t] = make([][]float64, ev.ng)
		for g := range graw[t] {
			graw[t][g] = make([]float64, r.width)
		}
	}

	// routing backward: kernel-weighted redistribution of the upstream
	// gradient, plus the kernel's own parameter gradients
	dQmean := newSeries(nout, ev.ng)
	if cfg.Routing {
		np, nm, nr := ev.Mpr.NParam(), cfg.Nmul, len(ev.Mpr.Rout)
		for g := 0; g < ev.ng; g++ {
			up := column(dLdFlow, g)
			q := column(r.Out.FlowNoRout, g)
			dq, dw := convBackward(up, q, r.kern[g])
			for j := 0; j < nout; j++ {
				dQmean[j][g] = dq[j]
			}
			da := vek.Dot(dw, r.dkda[g])
			db := vek.Dot(dw, r.dkdb[g])
			// chain to the raw routing entries of the final time slice
			ua, ub := r.ps.Rout[g*nr], r.ps.Rout[g*nr+1]
			graw[r.ntRaw-1][g][np*nm] += da * (ev.Mpr.Rout[0].Hi - ev.Mpr.Rout[0].Lo) * ua * (1. - ua)
			graw[r.ntRaw-1][g][np*nm+1] += db * (ev.Mpr.Rout[1].Hi - ev.Mpr.Rout[1].Lo) * ub * (1. - ub)
		}
	} else {
		for j := 0; j < nout; j++ {
			copy(dQmean[j], dLdFlow[j])
		}
	}

	// reverse time sweep over the retained steps
	np := ev.Mpr.NParam()
	carry := make([]float64, ev.nb*hbv.NState)
	gq := make([]float64, ev.nb)
	gth := make([]float64, ev.nb*np)
	for t := ev.nt - 1; t >= 0; t-- {
		gx := carry
		for i := range gth {
			gth[i] = 0.
		}
		if t >= cfg.WarmUp {
			// direct output-path contribution through the flux bundle
			j := t - cfg.WarmUp
			for m := 0; m < cfg.Nmul; m++ {
				for g := 0; g < ev.ng; g++ {
					gq[m*ev.ng+g] = dQmean[j][g] * cfg.Dt / float64(cfg.Nmul)
				}
			}
			r.m.QtotVJP(t, r.tape[t].X, r.ps.Phy[t], gq, gx, gth)
		}

		dth, dxprev, err := r.tape[t].Backward(gx)
		if err != nil {
			return nil, err
		}
		for i := range gth {
			gth[i] += dth[i]
		}
		r.scatter(t, gth, graw)
		carry = dxprev
	}
	// the remaining carry is the gradient w.r.t. the (fixed, zero) initial
	// state and is dropped

	return graw, nil
}

// scatter routes the per-step raw-scaled parameter gradient gth back onto
// the raw array: dynamic parameters to their own time slice, everything
// else to the static slice, through the logistic derivative.
func (r *Run) scatter(t int, gth []float64, graw [][][]float64) {
	ev, cfg := r.ev, r.ev.Cfg
	np, nm := ev.Mpr.NParam(), cfg.Nmul
	pt := r.ps.Phy[t]
	for k := 0; k < np; k++ {
		dyn := r.ps.dy[k]
		var msk []float64
		if dyn {
			msk = r.ps.Mask[ev.Mpr.Phy[k].Name]
		}
		for g := 0; g < ev.ng; g++ {
			ts := r.ps.StaticIdx
			if t >= cfg.WarmUp && dyn && msk[g] == 0. {
				ts = t
			}
			for m := 0; m < nm; m++ {
				e := m*ev.ng + g
				v := pt[e*np+k] // logistic-squashed value actually used
				graw[ts][g][k*nm+m] += gth[e*np+k] * v * (1. - v)
			}
		}
	}
}
