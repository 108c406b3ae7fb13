package hbv

import (
	"math"

	"github.com/maseology/mmaths"
)

// Step advances the batch state x (length nb*5) one time step with the
// explicit sequential HBV update: snow, then soil and evaporation, then
// capillary rise (variant), then the groundwater boxes, clamping storages
// non-negative after every sub-update. Fluxes are written to fx.
func (m *Model) Step(t int, x, th []float64, fx *Fluxes) {
	np := len(m.B)
	nb := len(x) / NState
	prc, tmp, pet := m.Prc[t], m.Tmp[t], m.Pet[t]

	for i := 0; i < nb; i++ {
		xi := x[i*NState : (i+1)*NState]
		ti := th[i*np : (i+1)*np]

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

		snowpack, meltwater := xi[ISnowpack], xi[IMeltwater]
		sm, suz, slz := xi[ISoil], xi[IUpper], xi[ILower]

		var rain, snow float64
		if tmp[i] >= tt {
			rain = prc[i]
		} else {
			snow = prc[i]
		}

		// snow
		snowpack += snow
		melt := math.Min(math.Max(cfmax*(tmp[i]-tt), 0.), snowpack)
		meltwater += melt
		snowpack -= melt
		refr := math.Min(math.Max(cfr*cfmax*(tt-tmp[i]), 0.), meltwater)
		snowpack += refr
		meltwater -= refr
		tosoil := math.Max(meltwater-cwh*snowpack, 0.)
		meltwater -= tosoil

		// soil and evaporation
		wetness := math.Min(math.Max(math.Pow(sm/fc, beta), 0.), 1.)
		recharge := (rain + tosoil) * wetness
		sm += rain + tosoil - recharge
		excess := math.Max(sm-fc, 0.)
		sm -= excess
		evapfactor := math.Min(math.Max(math.Pow(sm/(lp*fc), betaet), 0.), 1.)
		etact := math.Min(sm, pet[i]*evapfactor)
		sm = math.Max(sm-etact, m.Floor)

		// capillary rise
		var capillary float64
		if m.Capillary {
			cp := mmaths.LinearTransform(m.B[PC].Lo, m.B[PC].Hi, ti[PC])
			capillary = math.Min(slz, cp*slz*(1.-math.Min(sm/fc, 1.)))
			sm = math.Max(sm+capillary, m.Floor)
			slz = math.Max(slz-capillary, m.Floor)
		}

		// groundwater boxes
		suz += recharge + excess
		perc := math.Min(suz, prc8)
		suz -= perc
		q0 := k0 * math.Max(suz-uzl, 0.)
		suz -= q0
		q1 := k1 * suz
		suz -= q1
		slz += perc
		q2 := k2 * slz
		slz -= q2

		xi[ISnowpack], xi[IMeltwater] = snowpack, meltwater
		xi[ISoil], xi[IUpper], xi[ILower] = sm, suz, slz

		fx.Q0[i], fx.Q1[i], fx.Q2[i] = q0, q1, q2
		fx.AET[i] = etact
		fx.Recharge[i] = recharge
		fx.Excess[i] = excess
		fx.EvapFactor[i] = evapfactor
		fx.ToSoil[i] = tosoil
		fx.Perc[i] = perc
		fx.Capillary[i] = capillary
		fx.SWE[i] = snowpack
	}
}
