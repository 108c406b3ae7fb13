package ihbv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGammaKernelUnitVolume(t *testing.T) {
	for _, c := range [][2]float64{{1.2, 2.3}, {0., 0.}, {2.9, 6.5}, {0.4, 5.}} {
		w := uhGamma(c[0], c[1], 15)
		require.Len(t, w, 15)
		s := 0.
		for _, v := range w {
			require.GreaterOrEqual(t, v, 0.)
			s += v
		}
		require.InDelta(t, 1., s, 1e-9)
	}
}

func TestGammaKernelGradientMatchesFiniteDifference(t *testing.T) {
	const eps = 1e-6
	for _, c := range [][2]float64{{1.2, 2.3}, {0.7, 4.1}, {2.5, 0.9}} {
		a, b := c[0], c[1]
		w, dwda, dwdb := uhGammaGrad(a, b, 15)
		wp := uhGamma(a+eps, b, 15)
		wm := uhGamma(a-eps, b, 15)
		for k := range w {
			require.InDeltaf(t, (wp[k]-wm[k])/(2.*eps), dwda[k], 1e-6, "dwda tap %d", k)
		}
		wp = uhGamma(a, b+eps, 15)
		wm = uhGamma(a, b-eps, 15)
		for k := range w {
			require.InDeltaf(t, (wp[k]-wm[k])/(2.*eps), dwdb[k], 1e-6, "dwdb tap %d", k)
		}
	}
}

func TestConvolutionIsCausal(t *testing.T) {
	w := uhGamma(1.5, 2., 15)
	q := make([]float64, 30)
	q[10] = 3. // unit pulse scaled
	out := convCausal(q, w)
	for j := 0; j < 10; j++ {
		require.Equal(t, 0., out[j]) // nothing before the pulse
	}
	require.InDelta(t, 3.*w[0], out[10], 1e-12)
	require.InDelta(t, 3.*w[5], out[15], 1e-12)
}

func TestConvolutionBackward(t *testing.T) {
	w := uhGamma(1.1, 1.7, 8)
	q := []float64{1., 0., 2., 5., 3., 0.5, 1.5, 0., 2.5, 4.}
	up := []float64{.3, -.1, .7, .2, -.4, .9, .1, .6, -.2, .5}

	loss := func(q, w []float64) float64 {
		out := convCausal(q, w)
		s := 0.
		for j := range out {
			s += up[j] * out[j]
		}
		return s
	}

	dq, dw := convBackward(up, q, w)
	const eps = 1e-6
	for j := range q {
		qp := append([]float64{}, q...)
		qp[j] += eps
		qm := append([]float64{}, q...)
		qm[j] -= eps
		require.InDeltaf(t, (loss(qp, w)-loss(qm, w))/(2.*eps), dq[j], 1e-9, "dq %d", j)
	}
	for k := range w {
		wp := append([]float64{}, w...)
		wp[k] += eps
		wm := append([]float64{}, w...)
		wm[k] -= eps
		require.InDeltaf(t, (loss(q, wp)-loss(q, wm))/(2.*eps), dw[k], 1e-9, "dw %d", k)
	}
}
