package mol

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Backward is the custom reverse-mode rule for one implicit step. Given the
// upstream gradient dLdx on the step's output state, it solves the adjoint
// system Jᵀλ = dL/dx with the retained converged Jacobian and returns
//
//	dLdp     = -λᵀ·∂G/∂θ         (gradient w.r.t. the step's parameters)
//	dLdxprev =  λ/Δt             (gradient carried to the previous state)
//
// No Newton iterate history is consulted; memory is O(1) in the iteration
// count. The previous-state term is the analytic -I/Δt block of ∂G/∂xprev,
// valid for backward Euler only; a step integrated under any other scheme
// (whose ∂G/∂xprev and ∂G/∂θ carry extra rhs(xprev) terms) is refused with
// ErrUnsupportedScheme rather than returning a silently wrong gradient.
func (st *Step) Backward(dLdx []float64) (dLdp, dLdxprev []float64, err error) {
	if st.scheme != BackwardEuler {
		return nil, nil, fmt.Errorf("mol: backward step %d: %w", st.T, ErrUnsupportedScheme)
	}
	nb := len(st.X) / st.ny
	if len(dLdx) != nb*st.ny {
		return nil, nil, fmt.Errorf("mol: backward step %d: upstream gradient length %d, want %d", st.T, len(dLdx), nb*st.ny)
	}

	dLdp = make([]float64, nb*st.np)
	dLdxprev = make([]float64, nb*st.ny)

	if st.ny == 1 {
		for i := 0; i < nb; i++ {
			lam := dLdx[i] / st.JacG[i]
			for k := 0; k < st.np; k++ {
				dLdp[i*st.np+k] = -lam * st.JacP[i*st.np+k]
			}
			dLdxprev[i] = lam / st.dt
		}
		return dLdp, dLdxprev, nil
	}

	var lu mat.LU
	var lam mat.VecDense
	for i := 0; i < nb; i++ {
		ji := mat.NewDense(st.ny, st.ny, st.JacG[i*st.ny*st.ny:(i+1)*st.ny*st.ny])
		gi := mat.NewVecDense(st.ny, dLdx[i*st.ny:(i+1)*st.ny])
		lu.Factorize(ji)
		if err := lu.SolveVecTo(&lam, true, gi); err != nil {
			return nil, nil, fmt.Errorf("mol: backward step %d adjoint solve, element %d: %v", st.T, i, err)
		}
		jp := st.JacP[i*st.ny*st.np : (i+1)*st.ny*st.np]
		for k := 0; k < st.np; k++ {
			acc := 0.
			for r := 0; r < st.ny; r++ {
				acc += lam.AtVec(r) * jp[r*st.np+k]
			}
			dLdp[i*st.np+k] = -acc
		}
		for r := 0; r < st.ny; r++ {
			dLdxprev[i*st.ny+r] = lam.AtVec(r) / st.dt
		}
	}
	return dLdp, dLdxprev, nil
}
