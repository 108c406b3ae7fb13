package hbv

import (
	"math"

	"github.com/maseology/mmaths"
)

// Model is the continuous-time HBV residual function over a batch of
// basin×realization elements. Forcings are pre-expanded to the batch
// dimension; parameters arrive raw in (0,1) and are rescaled to their
// physical bounds on every evaluation so that parameter Jacobians are
// taken with respect to the raw values.
type Model struct {
	Prc, Tmp, Pet [][]float64 // forcings [timestep][element]
	B             []Bound     // ordered physical parameter bounds
	Capillary     bool        // HBV1.1p capillary rise modification
	Floor         float64     // near-zero floor protecting soil-moisture divisions
}

func (m *Model) NState() int { return NState }
func (m *Model) NParam() int { return len(m.B) }

// RHS computes the state derivative dxdt (length nb*5) at time step t.
func (m *Model) RHS(t int, x, th, dxdt []float64) { m.eval(t, x, th, dxdt, nil, nil) }

// JacState computes ∂rhs/∂x (length nb*5*5, row-major per element).
func (m *Model) JacState(t int, x, th, jx []float64) { m.eval(t, x, th, nil, jx, nil) }

// JacParam computes ∂rhs/∂θ (length nb*5*np) w.r.t. the raw (0,1) parameters.
func (m *Model) JacParam(t int, x, th, jp []float64) { m.eval(t, x, th, nil, nil, jp) }

// eval computes the HBV right-hand side and, when requested, its closed-form
// Jacobians. Derivatives follow the subgradient convention of the clamped
// flux forms: indicator-gated, zero at the clamp boundary.
func (m *Model) eval(t int, x, th []float64, dxdt, jx, jp []float64) {
	np := len(m.B)
	nb := len(x) / NState
	prc, tmp, pet := m.Prc[t], m.Tmp[t], m.Pet[t]

	for i := 0; i < nb; i++ {
		xi := x[i*NState : (i+1)*NState]
		ti := th[i*np : (i+1)*np]

		// bounded parameters
		beta := mmaths.LinearTransform(m.B[PBeta].Lo, m.B[PBeta].Hi, ti[PBeta])
		fc := mmaths.LinearTransform(m.B[PFC].Lo, m.B[PFC].Hi, ti[PFC])
		k0 := mmaths.LinearTransform(m.B[PK0].Lo, m.B[PK0].Hi, ti[PK0])
		k1 := mmaths.LinearTransform(m.B[PK1].Lo, m.B[PK1].Hi, ti[PK1])
		k2 := mmaths.LinearTransform(m.B[PK2].Lo, m.B[PK2].Hi, ti[PK2])
		lp := mmaths.LinearTransform(m.B[PLP].Lo, m.B[PLP].Hi, ti[PLP])
		prc8 := mmaths.LinearTransform(m.B[PPerc].Lo, m.B[PPerc].Hi, ti[PPerc])
		uzl := mmaths.LinearTransform(m.B[PUZL].Lo, m.B[PUZL].Hi, ti[PUZL])
		tt := mmaths.LinearTransform(m.B[PTT].Lo, m.B[PTT].Hi, ti[PTT])
		cfmax := mmaths.LinearTransform(m.B[PCFMax].Lo, m.B[PCFMax].Hi, ti[PCFMax])
		cfr := mmaths.LinearTransform(m.B[PCFR].Lo, m.B[PCFR].Hi, ti[PCFR])
		cwh := mmaths.LinearTransform(m.B[PCWH].Lo, m.B[PCWH].Hi, ti[PCWH])
		betaet := mmaths.LinearTransform(m.B[PBetaET].Lo, m.B[PBetaET].Hi, ti[PBetaET])
		var cp float64
		if m.Capillary {
			cp = mmaths.LinearTransform(m.B[PC].Lo, m.B[PC].Hi, ti[PC])
		}

		// stores, floored; gates carry the clamp subgradient
		sp, gsp := clampGate(xi[ISnowpack], 0.)
		mw, gmw := clampGate(xi[IMeltwater], 0.)
		sm, gsm := clampGate(xi[ISoil], m.Floor)
		uz, guz := clampGate(xi[IUpper], 0.)
		lz, glz := clampGate(xi[ILower], 0.)

		p, tC, ep := prc[i], tmp[i], pet[i]
		var rain, snow float64
		if tC >= tt {
			rain = p
		} else {
			snow = p
		}

		// snowmelt
		melt, dMdSP, dMdCFMAX, dMdTT := 0., 0., 0., 0.
		if mr := cfmax * (tC - tt); mr > 0. {
			if mr > sp {
				melt, dMdSP = sp, 1.
			} else {
				melt, dMdCFMAX, dMdTT = mr, tC-tt, -cfmax
			}
		}

		// refreeze
		refr, dRdMW, dRdCFR, dRdCFMAX, dRdTT := 0., 0., 0., 0., 0.
		if rr := cfr * cfmax * (tt - tC); rr > 0. {
			if rr > mw {
				refr, dRdMW = mw, 1.
			} else {
				refr = rr
				dRdCFR = cfmax * (tt - tC)
				dRdCFMAX = cfr * (tt - tC)
				dRdTT = cfr * cfmax
			}
		}

		// meltwater release to soil
		tosoil, tOn := 0., 0.
		if ts := mw - cwh*sp; ts > 0. {
			tosoil, tOn = ts, 1.
		}

		// soil wetness
		wraw := math.Pow(sm/fc, beta)
		w, dWdSM, dWdFC, dWdB := wraw, 0., 0., 0.
		if wraw >= 1. {
			w = 1.
		} else if wraw > 0. {
			dWdSM = beta * wraw / sm
			dWdFC = -beta * wraw / fc
			dWdB = wraw * math.Log(sm/fc)
		}
		peff := (rain + tosoil) * w

		// excess above field capacity
		ex, eOn := 0., 0.
		if sm > fc {
			ex, eOn = sm-fc, 1.
		}

		// evapotranspiration
		efraw := math.Pow(sm/(lp*fc), betaet)
		ef := math.Min(efraw, 1.)
		et, dEdSM, dEdFC, dEdLP, dEdBET := ep*ef, 0., 0., 0., 0.
		if et > sm { // supply-limited
			et, dEdSM = sm, 1.
		} else if efraw > 0. && efraw < 1. {
			dEdSM = ep * betaet * efraw / sm
			dEdFC = -ep * betaet * efraw / fc
			dEdLP = -ep * betaet * efraw / lp
			dEdBET = ep * efraw * math.Log(sm/(lp*fc))
		}

		// capillary rise (HBV1.1p)
		cap, dCdSM, dCdLZ, dCdFC, dCdC := 0., 0., 0., 0., 0.
		if m.Capillary {
			z, dZdSM, dZdFC := 0., 0., 0.
			if sm < fc {
				z = 1. - sm/fc
				dZdSM = -1. / fc
				dZdFC = sm / fc / fc
			}
			if cr := cp * lz * z; cr > lz {
				cap, dCdLZ = lz, 1.
			} else {
				cap = cr
				dCdLZ = cp * z
				dCdSM = cp * lz * dZdSM
				dCdFC = cp * lz * dZdFC
				dCdC = lz * z
			}
		}

		// percolation
		perc, dPdUZ, dPdP := 0., 0., 0.
		if uz < prc8 {
			perc, dPdUZ = uz, 1.
		} else {
			perc, dPdP = prc8, 1.
		}

		// near-surface flow
		q0, qOn := 0., 0.
		if uz > uzl {
			q0, qOn = k0*(uz-uzl), 1.
		}

		if dxdt != nil {
			d := dxdt[i*NState : (i+1)*NState]
			d[ISnowpack] = snow + refr - melt
			d[IMeltwater] = melt - refr - tosoil
			d[ISoil] = tosoil + rain - peff - ex - et + cap
			d[IUpper] = peff + ex - perc - q0 - k1*uz
			d[ILower] = perc - k2*lz - cap
		}

		if jx != nil {
			j := jx[i*NState*NState : (i+1)*NState*NState]
			for k := range j {
				j[k] = 0.
			}
			dTdSP := -cwh * tOn // ∂tosoil/∂sp
			set := func(r, c int, v, gate float64) { j[r*NState+c] = v * gate }

			set(ISnowpack, ISnowpack, -dMdSP, gsp)
			set(ISnowpack, IMeltwater, dRdMW, gmw)

			set(IMeltwater, ISnowpack, dMdSP-dTdSP, gsp)
			set(IMeltwater, IMeltwater, -dRdMW-tOn, gmw)

			set(ISoil, ISnowpack, (1.-w)*dTdSP, gsp)
			set(ISoil, IMeltwater, (1.-w)*tOn, gmw)
			set(ISoil, ISoil, -(rain+tosoil)*dWdSM-eOn-dEdSM+dCdSM, gsm)
			set(ISoil, ILower, dCdLZ, glz)

			set(IUpper, ISnowpack, w*dTdSP, gsp)
			set(IUpper, IMeltwater, w*tOn, gmw)
			set(IUpper, ISoil, (rain+tosoil)*dWdSM+eOn, gsm)
			set(IUpper, IUpper, -dPdUZ-k0*qOn-k1, guz)

			set(ILower, IUpper, dPdUZ, guz)
			set(ILower, ISoil, -dCdSM, gsm)
			set(ILower, ILower, -k2-dCdLZ, glz)
		}

		if jp != nil {
			j := jp[i*NState*np : (i+1)*NState*np]
			for k := range j {
				j[k] = 0.
			}
			add := func(r, k int, v float64) { j[r*np+k] += v * (m.B[k].Hi - m.B[k].Lo) }

			dPeffdB := (rain + tosoil) * dWdB
			add(ISoil, PBeta, -dPeffdB)
			add(IUpper, PBeta, dPeffdB)

			dPeffdFC := (rain + tosoil) * dWdFC
			add(ISoil, PFC, -dPeffdFC+eOn-dEdFC+dCdFC)
			add(IUpper, PFC, dPeffdFC-eOn)
			add(ILower, PFC, -dCdFC)

			add(IUpper, PK0, -qOn*(uz-uzl))
			add(IUpper, PK1, -uz)
			add(ILower, PK2, -lz)

			add(ISoil, PLP, -dEdLP)

			add(IUpper, PPerc, -dPdP)
			add(ILower, PPerc, dPdP)

			add(IUpper, PUZL, k0*qOn)

			add(ISnowpack, PTT, dRdTT-dMdTT)
			add(IMeltwater, PTT, dMdTT-dRdTT)

			add(ISnowpack, PCFMax, dRdCFMAX-dMdCFMAX)
			add(IMeltwater, PCFMax, dMdCFMAX-dRdCFMAX)

			add(ISnowpack, PCFR, dRdCFR)
			add(IMeltwater, PCFR, -dRdCFR)

			add(IMeltwater, PCWH, sp*tOn)
			add(ISoil, PCWH, -(1.-w)*sp*tOn)
			add(IUpper, PCWH, -w*sp*tOn)

			add(ISoil, PBetaET, -dEdBET)

			if m.Capillary {
				add(ISoil, PC, dCdC)
				add(ILower, PC, -dCdC)
			}
		}
	}
}

func clampGate(v, floor float64) (float64, float64) {
	if v > floor {
		return v, 1.
	}
	return floor, 0.
}
