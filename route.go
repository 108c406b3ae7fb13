package ihbv

import (
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// uhGamma discretizes a gamma-density unit hydrograph at unit lags
// (sampled mid-interval) and renormalizes to unit volume. a sets the shape,
// b the scale; both are physical (already rescaled) routing parameters.
func uhGamma(a, b float64, n int) []float64 {
	alpha := math.Max(a, 0.) + 0.1
	theta := math.Max(b, 0.) + 0.5
	g := distuv.Gamma{Alpha: alpha, Beta: 1. / theta}
	w := make([]float64, n)
	for k := 0; k < n; k++ {
		w[k] = g.Prob(float64(k) + 0.5)
	}
	s := vek.Sum(w)
	vek.DivNumber_Inplace(w, s)
	return w
}

// uhGammaGrad returns the kernel along with its partials w.r.t. the two
// physical routing parameters. The shape partial carries a digamma term;
// renormalization couples every tap to every other.
func uhGammaGrad(a, b float64, n int) (w, dwda, dwdb []float64) {
	alpha := math.Max(a, 0.) + 0.1
	theta := math.Max(b, 0.) + 0.5
	g := distuv.Gamma{Alpha: alpha, Beta: 1. / theta}
	w = make([]float64, n)
	la := make([]float64, n) // ∂ln f_k/∂α
	lb := make([]float64, n) // ∂ln f_k/∂θ
	psi := mathext.Digamma(alpha)
	for k := 0; k < n; k++ {
		tk := float64(k) + 0.5
		w[k] = g.Prob(tk)
		la[k] = math.Log(tk) - math.Log(theta) - psi
		lb[k] = tk/theta/theta - alpha/theta
	}
	s := vek.Sum(w)
	vek.DivNumber_Inplace(w, s)

	mla := vek.Dot(w, la)
	mlb := vek.Dot(w, lb)
	dwda = make([]float64, n)
	dwdb = make([]float64, n)
	for k := 0; k < n; k++ {
		dwda[k] = w[k] * (la[k] - mla)
		dwdb[k] = w[k] * (lb[k] - mlb)
	}
	return w, dwda, dwdb
}

// convCausal applies the causal unit-hydrograph convolution: routed flow at
// step t is the kernel-weighted sum of simulated flow at steps ≤ t.
func convCausal(q, w []float64) []float64 {
	nt, n := len(q), len(w)
	out := make([]float64, nt)
	for t := 0; t < nt; t++ {
		acc := 0.
		for k := 0; k < n && k <= t; k++ {
			acc += w[k] * q[t-k]
		}
		out[t] = acc
	}
	return out
}

// convBackward back-propagates an upstream gradient through convCausal,
// returning gradients on the flow series and on the kernel taps.
func convBackward(up, q, w []float64) (dq, dw []float64) {
	nt, n := len(q), len(w)
	dq = make([]float64, nt)
	dw = make([]float64, n)
	for t := 0; t < nt; t++ {
		m := n
		if nt-t < m {
			m = nt - t
		}
		dq[t] = vek.Dot(w[:m], up[t:t+m])
	}
	for k := 0; k < n && k < nt; k++ {
		dw[k] = vek.Dot(q[:nt-k], up[k:])
	}
	return dq, dw
}
