// Package mol is a batched method-of-lines time integrator: it advances a
// small fixed-dimension state one step at a time by solving the nonlinear
// equation G(x) = (x-xprev)/Δt - rhs(x,θ,t) = 0 with a damped-free Newton
// iteration, and attaches a reverse-mode sensitivity rule that recovers
// parameter gradients from the converged Jacobians alone (implicit function
// theorem), with no stored iteration history.
package mol

import "errors"

// Residual is the capability an integrable model must provide: the
// continuous-time right-hand side of the state equation and its closed-form
// (or otherwise exact) Jacobians, batched over independent elements.
type Residual interface {
	NState() int
	NParam() int
	// RHS writes dx/dt (length nb*ny) for state x at time step t.
	RHS(t int, x, th, dxdt []float64)
	// JacState writes ∂rhs/∂x (length nb*ny*ny, row-major per element).
	JacState(t int, x, th, jx []float64)
	// JacParam writes ∂rhs/∂θ (length nb*ny*np, row-major per element).
	JacParam(t int, x, th, jp []float64)
}

// Scheme selects the time discretization.
type Scheme int

const (
	BackwardEuler Scheme = iota
	Trapezoidal
)

// DivergencePolicy selects what happens when the Newton iteration exhausts
// its cap without meeting tolerance.
type DivergencePolicy int

const (
	Proceed DivergencePolicy = iota // keep the last iterate (legacy behaviour)
	Fail                            // abort the step
)

// Options configures a Solver. Zero-value fields are replaced by the
// defaults of DefaultOptions.
type Options struct {
	Dt           float64
	Tol          float64 // convergence tolerance on the batch-max residual inf-norm
	MaxIter      int     // Newton iteration cap
	ReuseRatio   float64 // recompute the Jacobian only when resnorm/resnorm0 exceeds this
	Scheme       Scheme
	OnDivergence DivergencePolicy
}

// DefaultOptions mirrors the daily-model settings: unit step, loose residual
// tolerance, three Newton iterations, quasi-Newton Jacobian reuse.
func DefaultOptions() Options {
	return Options{Dt: 1., Tol: 1e-3, MaxIter: 3, ReuseRatio: 0.2, Scheme: BackwardEuler, OnDivergence: Proceed}
}

// ErrNonFinite reports a NaN or Inf entry in a computed Jacobian. It is
// fatal to the step and must not be retried.
var ErrNonFinite = errors.New("mol: non-finite jacobian")

// ErrDiverged reports Newton non-convergence under the Fail policy.
var ErrDiverged = errors.New("mol: newton iteration failed to converge")

// ErrUnsupportedScheme reports a Backward call on a step integrated with a
// scheme the adjoint rule does not cover.
var ErrUnsupportedScheme = errors.New("mol: adjoint rule supports backward Euler only")
