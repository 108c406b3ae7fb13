package hbv

import (
	"math"

	"github.com/maseology/mmaths"
)

// Fluxes bundles the diagnostic fluxes at one time step, each of batch length.
type Fluxes struct {
	Q0, Q1, Q2 []float64 // near-surface, interflow, baseflow [mm]
	AET        []float64 // actual evapotranspiration [mm]
	Recharge   []float64 // effective precipitation to the upper zone [mm]
	Excess     []float64 // soil moisture above field capacity [mm]
	EvapFactor []float64
	ToSoil     []float64 // meltwater released to soil [mm]
	Perc       []float64 // upper- to lower-zone percolation [mm]
	Capillary  []float64 // lower-zone to soil-moisture return [mm]
	SWE        []float64 // snow water equivalent [mm]
}

// NewFluxes allocates a flux bundle for nb elements.
func NewFluxes(nb int) *Fluxes {
	return &Fluxes{
		Q0: make([]float64, nb), Q1: make([]float64, nb), Q2: make([]float64, nb),
		AET: make([]float64, nb), Recharge: make([]float64, nb), Excess: make([]float64, nb),
		EvapFactor: make([]float64, nb), ToSoil: make([]float64, nb), Perc: make([]float64, nb),
		Capillary: make([]float64, nb), SWE: make([]float64, nb),
	}
}

// Qtot returns Q0+Q1+Q2 for element i.
func (f *Fluxes) Qtot(i int) float64 { return f.Q0[i] + f.Q1[i] + f.Q2[i] }

// Fluxes evaluates the diagnostic bundle at state x and raw parameters th.
// It mirrors eval but reports flux magnitudes rather than derivatives.
func (m *Model) Fluxes(t int, x, th []float64, fx *Fluxes) {
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
		cwh := mmaths.LinearTransform(m.B[PCWH].Lo, m.B[PCWH].Hi, ti[PCWH])
		betaet := mmaths.LinearTransform(m.B[PBetaET].Lo, m.B[PBetaET].Hi, ti[PBetaET])

		sp, _ := clampGate(xi[ISnowpack], 0.)
		mw, _ := clampGate(xi[IMeltwater], 0.)
		sm, _ := clampGate(xi[ISoil], m.Floor)
		uz, _ := clampGate(xi[IUpper], 0.)
		lz, _ := clampGate(xi[ILower], 0.)

		var rain float64
		if tmp[i] >= tt {
			rain = prc[i]
		}

		fx.ToSoil[i] = math.Max(mw-cwh*sp, 0.)
		w := math.Min(math.Pow(sm/fc, beta), 1.)
		fx.Recharge[i] = (rain + fx.ToSoil[i]) * w
		fx.Excess[i] = math.Max(sm-fc, 0.)
		fx.EvapFactor[i] = math.Min(math.Pow(sm/(lp*fc), betaet), 1.)
		fx.AET[i] = math.Min(sm, pet[i]*fx.EvapFactor[i])
		fx.Perc[i] = math.Min(uz, prc8)
		fx.Q0[i] = k0 * math.Max(uz-uzl, 0.)
		fx.Q1[i] = k1 * uz
		fx.Q2[i] = k2 * lz
		fx.SWE[i] = sp
		if m.Capillary {
			cp := mmaths.LinearTransform(m.B[PC].Lo, m.B[PC].Hi, ti[PC])
			fx.Capillary[i] = math.Min(lz, cp*lz*(1.-math.Min(sm/fc, 1.)))
		}
	}
}

// QtotVJP back-propagates an upstream gradient g (length nb) on the total
// outflow Q0+Q1+Q2 into the state gradient gx (length nb*5) and raw-parameter
// gradient gth (length nb*np), accumulating in place.
func (m *Model) QtotVJP(t int, x, th, g, gx, gth []float64) {
	np := len(m.B)
	nb := len(g)
	for i := 0; i < nb; i++ {
		if g[i] == 0. {
			continue
		}
		xi := x[i*NState : (i+1)*NState]
		ti := th[i*np : (i+1)*np]

		k0 := mmaths.LinearTransform(m.B[PK0].Lo, m.B[PK0].Hi, ti[PK0])
		k1 := mmaths.LinearTransform(m.B[PK1].Lo, m.B[PK1].Hi, ti[PK1])
		k2 := mmaths.LinearTransform(m.B[PK2].Lo, m.B[PK2].Hi, ti[PK2])
		uzl := mmaths.LinearTransform(m.B[PUZL].Lo, m.B[PUZL].Hi, ti[PUZL])

		uz, guz := clampGate(xi[IUpper], 0.)
		lz, glz := clampGate(xi[ILower], 0.)

		qOn := 0.
		if uz > uzl {
			qOn = 1.
		}

		gx[i*NState+IUpper] += g[i] * (k0*qOn + k1) * guz
		gx[i*NState+ILower] += g[i] * k2 * glz

		gthi := gth[i*np : (i+1)*np]
		gthi[PK0] += g[i] * math.Max(uz-uzl, 0.) * (m.B[PK0].Hi - m.B[PK0].Lo)
		gthi[PK1] += g[i] * uz * (m.B[PK1].Hi - m.B[PK1].Lo)
		gthi[PK2] += g[i] * lz * (m.B[PK2].Hi - m.B[PK2].Lo)
		gthi[PUZL] += g[i] * -k0 * qOn * (m.B[PUZL].Hi - m.B[PUZL].Lo)
	}
}
