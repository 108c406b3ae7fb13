package ihbv

import (
	"errors"
	"math"
	"testing"

	"github.com/maseology/ihbv/mol"
	"github.com/stretchr/testify/require"
)

func cloneRaw(raw [][][]float64) [][][]float64 {
	o := make([][][]float64, len(raw))
	for t := range raw {
		o[t] = make([][]float64, len(raw[t]))
		for g := range raw[t] {
			o[t][g] = append([]float64{}, raw[t][g]...)
		}
	}
	return o
}

func gradientFixture(t *testing.T, dy []string) (*Evaluator, [][][]float64) {
	cfg := DefaultConfig()
	cfg.WarmUp = 2
	cfg.Routing = true
	cfg.Implicit = true
	cfg.Tol = 1e-10
	cfg.MaxIter = 30 // tight tolerance so finite differences are clean
	cfg.Seed = 7
	cfg.DyParams = dy

	nt, ng := 6, 1
	frc := testForcing(nt, ng, []float64{5., 0., 8., 2., 0., 1.})
	ev, err := NewEvaluator(&cfg, frc)
	require.NoError(t, err)

	raw := make([][][]float64, nt)
	for ts := range raw {
		raw[ts] = make([][]float64, ng)
		for g := range raw[ts] {
			row := make([]float64, ev.Mpr.RawWidth())
			for k := range row {
				row[k] = 0.1*float64(k%5) - 0.2 + 0.03*float64(ts)
			}
			raw[ts][g] = row
		}
	}
	return ev, raw
}

func sumFlow(t *testing.T, ev *Evaluator, raw [][][]float64, mask map[string][]float64) float64 {
	r, err := ev.RunImplicit(raw, mask)
	require.NoError(t, err)
	s := 0.
	for j := range r.Out.Flow {
		s += r.Out.Flow[j][0]
	}
	return s
}

func TestImplicitGradientMatchesFiniteDifference(t *testing.T) {
	ev, raw := gradientFixture(t, nil)
	r, err := ev.RunImplicit(raw, nil)
	require.NoError(t, err)
	require.Equal(t, 0, r.Divergences)

	nout := len(r.Out.Flow)
	dLdFlow := make([][]float64, nout)
	for j := range dLdFlow {
		dLdFlow[j] = []float64{1.}
	}
	graw, err := r.Gradient(dLdFlow)
	require.NoError(t, err)

	// static physical parameters live on the last warm-up slice, routing
	// parameters on the final slice; every other slot stays zero
	for ts := range graw {
		for k := 0; k < ev.Mpr.NParam(); k++ {
			if ts != 1 {
				require.Zerof(t, graw[ts][0][k], "slice %d col %d", ts, k)
			}
		}
	}

	const eps = 1e-4
	check := func(ts, k int) {
		rp := cloneRaw(raw)
		rp[ts][0][k] += eps
		rm := cloneRaw(raw)
		rm[ts][0][k] -= eps
		fd := (sumFlow(t, ev, rp, nil) - sumFlow(t, ev, rm, nil)) / (2. * eps)
		tol := math.Max(1e-6, 1e-3*math.Abs(fd))
		require.InDeltaf(t, fd, graw[ts][0][k], tol, "slice %d col %d", ts, k)
	}
	np := ev.Mpr.NParam()
	for k := 0; k < np; k++ {
		check(1, k) // static physical
	}
	check(5, np)   // routing shape
	check(5, np+1) // routing scale
}

func TestImplicitGradientDynamicParameter(t *testing.T) {
	ev, raw := gradientFixture(t, []string{"parBETA"})
	mask := map[string][]float64{"parBETA": {0.}} // free to vary
	r, err := ev.RunImplicit(raw, mask)
	require.NoError(t, err)

	nout := len(r.Out.Flow)
	dLdFlow := make([][]float64, nout)
	for j := range dLdFlow {
		dLdFlow[j] = []float64{1.}
	}
	graw, err := r.Gradient(dLdFlow)
	require.NoError(t, err)

	kBeta := 0 // parBETA is the leading parameter column
	const eps = 1e-4
	for _, ts := range []int{2, 4} { // post-warm-up slices carry their own gradient
		rp := cloneRaw(raw)
		rp[ts][0][kBeta] += eps
		rm := cloneRaw(raw)
		rm[ts][0][kBeta] -= eps
		fd := (sumFlow(t, ev, rp, mask) - sumFlow(t, ev, rm, mask)) / (2. * eps)
		tol := math.Max(1e-6, 1e-3*math.Abs(fd))
		require.InDeltaf(t, fd, graw[ts][0][kBeta], tol, "slice %d", ts)
	}
}

func TestImplicitRunMatchesWindow(t *testing.T) {
	ev, raw := gradientFixture(t, nil)
	r, err := ev.RunImplicit(raw, nil)
	require.NoError(t, err)
	require.Len(t, r.Out.Flow, 4) // post-warm-up window only
	require.Len(t, r.Out.BFI, 1)
	for j := range r.Out.Flow {
		require.GreaterOrEqual(t, r.Out.Flow[j][0], 0.)
	}
	for _, st := range r.tape { // stores stay non-negative to solver tolerance
		for _, v := range st.X {
			require.GreaterOrEqual(t, v, -1e-6)
		}
	}

	g, err := r.Gradient(make([][]float64, 3)) // wrong window length
	require.Nil(t, g)
	require.Error(t, err)
}

func TestTrapezoidalRunRefusesGradient(t *testing.T) {
	ev, raw := gradientFixture(t, nil)
	ev.Cfg.Trapezoidal = true
	r, err := ev.RunImplicit(raw, nil) // forward integration is fine
	require.NoError(t, err)
	require.Len(t, r.Out.Flow, 4)

	dLdFlow := make([][]float64, 4)
	for j := range dLdFlow {
		dLdFlow[j] = []float64{1.}
	}
	g, err := r.Gradient(dLdFlow)
	require.Nil(t, g)
	require.True(t, errors.Is(err, mol.ErrUnsupportedScheme))
}
