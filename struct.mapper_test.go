package ihbv

import (
	"math/rand"
	"testing"

	mrg63k3a "github.com/maseology/goRNG/MRG63k3a"
	"github.com/stretchr/testify/require"
)

func testRaw(nt, ng, width int) [][][]float64 {
	raw := make([][][]float64, nt)
	for t := range raw {
		raw[t] = make([][]float64, ng)
		for g := range raw[t] {
			raw[t][g] = make([]float64, width)
			for k := range raw[t][g] {
				raw[t][g][k] = 0.1*float64(t) - 0.05*float64(k%5) + 0.02*float64(g)
			}
		}
	}
	return raw
}

func TestMapperRejectsUnknownDynamicName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DyParams = []string{"NOPE"}
	_, err := NewMapper(&cfg)
	require.Error(t, err)
}

func TestMapperStaticSliceSelection(t *testing.T) {
	cfg := DefaultConfig()
	mp, err := NewMapper(&cfg)
	require.NoError(t, err)

	rng := rand.New(mrg63k3a.New())
	raw := testRaw(6, 2, mp.RawWidth())

	// with warm-up, static values come from the last warm-up slice
	ps, err := mp.Build(raw, 2, rng, nil)
	require.NoError(t, err)
	require.Equal(t, 1, ps.StaticIdx)
	np := mp.NParam()
	for tt := 0; tt < 6; tt++ {
		for k := 0; k < np; k++ {
			require.Equal(t, sigmoid(raw[1][0][k]), ps.Phy[tt][k])
		}
	}

	// without warm-up, they come from the final slice
	ps, err = mp.Build(raw, 0, rng, nil)
	require.NoError(t, err)
	require.Equal(t, 5, ps.StaticIdx)
	require.Equal(t, sigmoid(raw[5][0][0]), ps.Phy[3][0])
}

func TestMapperDynamicMaskingIsReproducible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DyParams = []string{"parBETA", "parK1"}
	cfg.DyDrop = 0.5
	mp, err := NewMapper(&cfg)
	require.NoError(t, err)

	ng := 40
	raw := testRaw(5, ng, mp.RawWidth())
	rng := rand.New(mrg63k3a.New())
	rng.Seed(7)
	ps1, err := mp.Build(raw, 1, rng, nil)
	require.NoError(t, err)

	// re-building with the drawn mask injected reproduces the trajectories
	ps2, err := mp.Build(raw, 1, rng, ps1.Mask)
	require.NoError(t, err)
	require.Equal(t, ps1.Phy, ps2.Phy)

	// with ~half the basins pinned, both mask states should be present
	n1 := 0
	for _, v := range ps1.Mask["parBETA"] {
		if v == 1. {
			n1++
		}
	}
	require.Greater(t, n1, 0)
	require.Less(t, n1, ng)

	// a pinned basin holds its static value through time; a free one varies
	kBeta := mp.index("parBETA")
	np := mp.NParam()
	for g := 0; g < ng; g++ {
		pinned := ps1.Mask["parBETA"][g] == 1.
		for tt := 1; tt < 5; tt++ {
			want := sigmoid(raw[tt][g][kBeta*cfg.Nmul])
			if pinned {
				want = sigmoid(raw[ps1.StaticIdx][g][kBeta*cfg.Nmul])
			}
			require.Equal(t, want, ps1.Phy[tt][g*np+kBeta])
		}
	}
}

func TestMapperRejectsShapeMismatch(t *testing.T) {
	cfg := DefaultConfig()
	mp, err := NewMapper(&cfg)
	require.NoError(t, err)
	rng := rand.New(mrg63k3a.New())

	raw := testRaw(4, 2, mp.RawWidth()-1) // short row
	_, err = mp.Build(raw, 1, rng, nil)
	require.Error(t, err)

	raw = testRaw(3, 2, mp.RawWidth())
	_, err = mp.Build(raw, 3, rng, nil) // warm-up swallows the series
	require.Error(t, err)
}
