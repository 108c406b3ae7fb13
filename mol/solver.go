package mol

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// Solver advances a batched state one implicit step at a time. It owns all
// per-step working memory; a Solver is not safe for concurrent use.
type Solver struct {
	f          Residual
	nb, ny, np int
	o          Options

	// per-step working set, reused across steps
	gg, jac, rhs, rhsPrev []float64
	resnorm, resnorm0     []float64
	ratio                 []float64

	// Divergences counts steps that exhausted the iteration cap under the
	// Proceed policy.
	Divergences int
}

// Step is the retained record of one converged implicit step: the solution
// and the Jacobians the adjoint rule needs. Everything else from the solve
// is discarded at step exit.
type Step struct {
	T         int
	X         []float64 // converged state, nb*ny
	JacG      []float64 // ∂G/∂x at the converged state, nb*ny*ny
	JacP      []float64 // ∂G/∂θ at the converged state, nb*ny*np
	Iters     int
	Converged bool
	dt        float64
	ny, np    int
	scheme    Scheme
}

// NewSolver builds a solver for nb independent elements of residual f.
func NewSolver(f Residual, nb int, o Options) *Solver {
	d := DefaultOptions()
	if o.Dt <= 0. {
		o.Dt = d.Dt
	}
	if o.Tol <= 0. {
		o.Tol = d.Tol
	}
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.ReuseRatio <= 0. {
		o.ReuseRatio = d.ReuseRatio
	}
	ny, np := f.NState(), f.NParam()
	return &Solver{
		f: f, nb: nb, ny: ny, np: np, o: o,
		gg:       make([]float64, nb*ny),
		jac:      make([]float64, nb*ny*ny),
		rhs:      make([]float64, nb*ny),
		rhsPrev:  make([]float64, nb*ny),
		resnorm:  make([]float64, nb),
		resnorm0: make([]float64, nb),
		ratio:    make([]float64, nb),
	}
}

// residual fills s.gg with G(x) = (x-xprev)/Δt - rhs (backward Euler) or the
// trapezoidal average, and refreshes the per-element residual inf-norms.
func (s *Solver) residual(t int, x, xprev, th []float64) {
	s.f.RHS(t, x, th, s.rhs)
	w := 1.
	if s.o.Scheme == Trapezoidal {
		w = 0.5
	}
	for i := range s.gg {
		g := (x[i]-xprev[i])/s.o.Dt - w*s.rhs[i]
		if s.o.Scheme == Trapezoidal {
			g -= w * s.rhsPrev[i]
		}
		s.gg[i] = g
	}
	for i := 0; i < s.nb; i++ {
		nrm := 0.
		for k := 0; k < s.ny; k++ {
			if a := math.Abs(s.gg[i*s.ny+k]); a > nrm {
				nrm = a
			}
		}
		s.resnorm[i] = nrm
	}
}

// jacobian fills s.jac with ∂G/∂x = I/Δt - w*∂rhs/∂x.
func (s *Solver) jacobian(t int, x, th []float64) error {
	s.f.JacState(t, x, th, s.jac)
	w := 1.
	if s.o.Scheme == Trapezoidal {
		w = 0.5
	}
	for i := 0; i < s.nb; i++ {
		ji := s.jac[i*s.ny*s.ny : (i+1)*s.ny*s.ny]
		for r := 0; r < s.ny; r++ {
			for c := 0; c < s.ny; c++ {
				v := -w * ji[r*s.ny+c]
				if r == c {
					v += 1. / s.o.Dt
				}
				ji[r*s.ny+c] = v
			}
		}
	}
	return checkFinite(s.jac)
}

// Step solves for the state at time step t given the previous converged
// state. Convergence is global: iteration continues until the maximum
// residual inf-norm over the whole batch meets tolerance or the cap is hit.
func (s *Solver) Step(t int, xprev, th []float64) (*Step, error) {
	if len(xprev) != s.nb*s.ny || len(th) != s.nb*s.np {
		return nil, fmt.Errorf("mol: step %d dimension mismatch: state %d, params %d", t, len(xprev), len(th))
	}

	x := make([]float64, len(xprev))
	copy(x, xprev)

	if s.o.Scheme == Trapezoidal {
		s.f.RHS(t, xprev, th, s.rhsPrev)
	}

	s.residual(t, x, xprev, th)
	if err := s.jacobian(t, x, th); err != nil {
		return nil, fmt.Errorf("mol: step %d: %w", t, err)
	}
	for i, v := range s.resnorm {
		s.resnorm0[i] = 100. * v
	}

	iters := 0
	for vek.Max(s.resnorm) > s.o.Tol && iters <= s.o.MaxIter {
		iters++

		for i := range s.ratio {
			s.ratio[i] = s.resnorm[i] / s.resnorm0[i]
		}
		if vek.Max(s.ratio) > s.o.ReuseRatio {
			if err := s.jacobian(t, x, th); err != nil {
				return nil, fmt.Errorf("mol: step %d: %w", t, err)
			}
		}

		if err := s.newtonUpdate(x); err != nil {
			return nil, fmt.Errorf("mol: step %d: %w", t, err)
		}

		copy(s.resnorm0, s.resnorm)
		s.residual(t, x, xprev, th)
	}

	converged := vek.Max(s.resnorm) <= s.o.Tol
	if !converged {
		if s.o.OnDivergence == Fail {
			return nil, fmt.Errorf("mol: step %d residual %g: %w", t, vek.Max(s.resnorm), ErrDiverged)
		}
		s.Divergences++
	}

	// retained quantities for the adjoint: Jacobians at the accepted state,
	// computed once, after the iteration.
	st := &Step{
		T: t, X: x, Iters: iters, Converged: converged,
		JacG: make([]float64, s.nb*s.ny*s.ny),
		JacP: make([]float64, s.nb*s.ny*s.np),
		dt:   s.o.Dt, ny: s.ny, np: s.np, scheme: s.o.Scheme,
	}
	if err := s.jacobian(t, x, th); err != nil {
		return nil, fmt.Errorf("mol: step %d: %w", t, err)
	}
	copy(st.JacG, s.jac)

	s.f.JacParam(t, x, th, st.JacP)
	w := 1.
	if s.o.Scheme == Trapezoidal {
		w = 0.5
	}
	for i := range st.JacP {
		st.JacP[i] *= -w // ∂G/∂θ = -w*∂rhs/∂θ
	}
	if err := checkFinite(st.JacP); err != nil {
		return nil, fmt.Errorf("mol: step %d: %w", t, err)
	}

	return st, nil
}

// newtonUpdate solves J·Δx = G per element and applies x -= Δx. A scalar
// state divides instead of factorizing.
func (s *Solver) newtonUpdate(x []float64) error {
	if s.ny == 1 {
		for i := 0; i < s.nb; i++ {
			x[i] -= s.gg[i] / s.jac[i]
		}
		return nil
	}
	var lu mat.LU
	var dx mat.VecDense
	for i := 0; i < s.nb; i++ {
		ji := mat.NewDense(s.ny, s.ny, s.jac[i*s.ny*s.ny:(i+1)*s.ny*s.ny])
		gi := mat.NewVecDense(s.ny, s.gg[i*s.ny:(i+1)*s.ny])
		lu.Factorize(ji)
		if err := lu.SolveVecTo(&dx, false, gi); err != nil {
			return fmt.Errorf("linear solve, element %d: %v", i, err)
		}
		for k := 0; k < s.ny; k++ {
			x[i*s.ny+k] -= dx.AtVec(k)
		}
	}
	return nil
}

func checkFinite(a []float64) error {
	for _, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFinite
		}
	}
	return nil
}
