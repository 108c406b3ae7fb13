package ihbv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObservationScoring(t *testing.T) {
	frc := testForcing(5, 2, []float64{1., 2., 3., 4., 5.})
	obs := NewObservations(frc)
	for j := 0; j < 5; j++ {
		obs.Oq[j][0] = float64(j) + 1.
	}
	obs.Oq[2][0] = math.NaN() // gap mid-record
	// basin 1 left entirely unobserved

	sim := [][]float64{{2., 2.}, {3., 3.}, {4., 4.}} // offset by 2
	kge := obs.KGE(sim, 2)
	require.Len(t, kge, 2)
	require.False(t, math.IsNaN(kge[0]))
	require.True(t, math.IsNaN(kge[1]))

	// a perfect simulation scores a perfect KGE
	perfect := [][]float64{{3., 0.}, {4., 0.}, {5., 0.}}
	kge = obs.KGE(perfect, 2)
	require.InDelta(t, 1., kge[0], 1e-9)
}
