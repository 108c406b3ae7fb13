package mol

// Central-difference Jacobians for black-box residuals. Elements are
// independent, so each state (or parameter) component is perturbed across
// the whole batch at once: 2·ny (or 2·np) RHS evaluations total. Used to
// verify closed-form Jacobians; too slow for the integration loop itself.

// NumJacState estimates ∂rhs/∂x (length nb*ny*ny).
func NumJacState(f Residual, t int, x, th []float64, eps float64) []float64 {
	ny := f.NState()
	nb := len(x) / ny
	jx := make([]float64, nb*ny*ny)
	xp := make([]float64, len(x))
	fp := make([]float64, len(x))
	fm := make([]float64, len(x))
	for c := 0; c < ny; c++ {
		copy(xp, x)
		for i := 0; i < nb; i++ {
			xp[i*ny+c] = x[i*ny+c] + eps
		}
		f.RHS(t, xp, th, fp)
		for i := 0; i < nb; i++ {
			xp[i*ny+c] = x[i*ny+c] - eps
		}
		f.RHS(t, xp, th, fm)
		for i := 0; i < nb; i++ {
			xp[i*ny+c] = x[i*ny+c]
			for r := 0; r < ny; r++ {
				jx[i*ny*ny+r*ny+c] = (fp[i*ny+r] - fm[i*ny+r]) / (2. * eps)
			}
		}
	}
	return jx
}

// NumJacParam estimates ∂rhs/∂θ (length nb*ny*np).
func NumJacParam(f Residual, t int, x, th []float64, eps float64) []float64 {
	ny, np := f.NState(), f.NParam()
	nb := len(x) / ny
	jp := make([]float64, nb*ny*np)
	tp := make([]float64, len(th))
	fp := make([]float64, len(x))
	fm := make([]float64, len(x))
	for c := 0; c < np; c++ {
		copy(tp, th)
		for i := 0; i < nb; i++ {
			tp[i*np+c] = th[i*np+c] + eps
		}
		f.RHS(t, x, tp, fp)
		for i := 0; i < nb; i++ {
			tp[i*np+c] = th[i*np+c] - eps
		}
		f.RHS(t, x, tp, fm)
		for i := 0; i < nb; i++ {
			tp[i*np+c] = th[i*np+c]
			for r := 0; r < ny; r++ {
				jp[i*ny*np+r*np+c] = (fp[i*ny+r] - fm[i*ny+r]) / (2. * eps)
			}
		}
	}
	return jp
}
