package mol_test

import (
	"errors"
	"math"
	"testing"

	"github.com/maseology/ihbv/mol"
	"github.com/stretchr/testify/require"
)

// scalar linear residual: rhs = b - a*x per element, th = [a, b]
type linear struct{}

func (linear) NState() int { return 1 }
func (linear) NParam() int { return 2 }
func (linear) RHS(t int, x, th, dxdt []float64) {
	for i := range dxdt {
		dxdt[i] = th[2*i+1] - th[2*i]*x[i]
	}
}
func (linear) JacState(t int, x, th, jx []float64) {
	for i := range jx {
		jx[i] = -th[2*i]
	}
}
func (linear) JacParam(t int, x, th, jp []float64) {
	for i := 0; i < len(x); i++ {
		jp[2*i] = -x[i]
		jp[2*i+1] = 1.
	}
}

func TestScalarNewtonSolvesLinearResidual(t *testing.T) {
	for _, nb := range []int{1, 10, 1000} {
		s := mol.NewSolver(linear{}, nb, mol.Options{Tol: 1e-12})
		xprev := make([]float64, nb)
		th := make([]float64, 2*nb)
		for i := 0; i < nb; i++ {
			th[2*i] = 0.5 + 0.3*float64(i%7)/7.
			th[2*i+1] = 1. + float64(i%11)
		}
		st, err := s.Step(0, xprev, th)
		require.NoError(t, err)
		require.True(t, st.Converged)
		require.Equal(t, 1, st.Iters) // linear: one update

		for i := 0; i < nb; i++ {
			a, b := th[2*i], th[2*i+1]
			require.InDeltaf(t, b/(1.+a), st.X[i], 1e-12, "nb=%d element %d", nb, i)
		}
	}
}

func TestScalarAdjointGradients(t *testing.T) {
	// backward Euler with dt=1 and xprev=0 roots (1+a)x = b, so
	// dx/da = -b/(1+a)^2, dx/db = 1/(1+a), dx/dxprev = 1/(1+a)
	nb := 4
	s := mol.NewSolver(linear{}, nb, mol.Options{Tol: 1e-12})
	xprev := make([]float64, nb)
	th := make([]float64, 2*nb)
	for i := 0; i < nb; i++ {
		th[2*i] = 0.4 + 0.1*float64(i)
		th[2*i+1] = 2. - 0.25*float64(i)
	}
	st, err := s.Step(0, xprev, th)
	require.NoError(t, err)

	dLdx := make([]float64, nb)
	for i := range dLdx {
		dLdx[i] = 1.
	}
	dLdp, dLdxprev, err := st.Backward(dLdx)
	require.NoError(t, err)
	for i := 0; i < nb; i++ {
		a, b := th[2*i], th[2*i+1]
		require.InDelta(t, -b/(1.+a)/(1.+a), dLdp[2*i], 1e-12)
		require.InDelta(t, 1./(1.+a), dLdp[2*i+1], 1e-12)
		require.InDelta(t, 1./(1.+a), dLdxprev[i], 1e-12)
	}
}

func TestTrapezoidalSolvesForwardButRefusesAdjoint(t *testing.T) {
	// trapezoidal root of rhs = b - a*x with dt=1, xprev=0: x(1+a/2) = b
	s := mol.NewSolver(linear{}, 1, mol.Options{Tol: 1e-12, Scheme: mol.Trapezoidal})
	a, b := 0.8, 2.3
	st, err := s.Step(0, []float64{0.}, []float64{a, b})
	require.NoError(t, err)
	require.True(t, st.Converged)
	require.InDelta(t, b/(1.+a/2.), st.X[0], 1e-12)

	// the retained record omits the rhs(xprev) terms the trapezoid's
	// reverse rule would need, so Backward must refuse it
	_, _, err = st.Backward([]float64{1.})
	require.Error(t, err)
	require.True(t, errors.Is(err, mol.ErrUnsupportedScheme))
}

// coupled two-state linear residual: rhs = b - A*x with
// A = [[a, .2], [.1, a]], th = [a]
type linear2 struct{}

func (linear2) NState() int { return 2 }
func (linear2) NParam() int { return 1 }
func (linear2) RHS(t int, x, th, dxdt []float64) {
	nb := len(x) / 2
	for i := 0; i < nb; i++ {
		a := th[i]
		dxdt[2*i] = 1. - (a*x[2*i] + .2*x[2*i+1])
		dxdt[2*i+1] = 2. - (.1*x[2*i] + a*x[2*i+1])
	}
}
func (linear2) JacState(t int, x, th, jx []float64) {
	nb := len(x) / 2
	for i := 0; i < nb; i++ {
		a := th[i]
		j := jx[4*i : 4*i+4]
		j[0], j[1], j[2], j[3] = -a, -.2, -.1, -a
	}
}
func (linear2) JacParam(t int, x, th, jp []float64) {
	nb := len(x) / 2
	for i := 0; i < nb; i++ {
		jp[2*i] = -x[2*i]
		jp[2*i+1] = -x[2*i+1]
	}
}

func solve2(a float64) (x0, x1 float64) {
	// (I + A) x = b
	m00, m01, m10, m11 := 1.+a, .2, .1, 1.+a
	det := m00*m11 - m01*m10
	x0 = (1.*m11 - 2.*m01) / det
	x1 = (2.*m00 - 1.*m10) / det
	return
}

func TestMatrixNewtonAndAdjoint(t *testing.T) {
	nb := 3
	s := mol.NewSolver(linear2{}, nb, mol.Options{Tol: 1e-12})
	xprev := make([]float64, 2*nb)
	th := []float64{0.3, 0.6, 0.9}
	st, err := s.Step(0, xprev, th)
	require.NoError(t, err)
	require.True(t, st.Converged)
	for i := 0; i < nb; i++ {
		x0, x1 := solve2(th[i])
		require.InDelta(t, x0, st.X[2*i], 1e-10)
		require.InDelta(t, x1, st.X[2*i+1], 1e-10)
	}

	// adjoint on L = sum(x0) vs central differences of the re-solved root
	dLdx := make([]float64, 2*nb)
	for i := 0; i < nb; i++ {
		dLdx[2*i] = 1.
	}
	dLdp, _, err := st.Backward(dLdx)
	require.NoError(t, err)
	const eps = 1e-6
	for i := 0; i < nb; i++ {
		xp, _ := solve2(th[i] + eps)
		xm, _ := solve2(th[i] - eps)
		require.InDeltaf(t, (xp-xm)/(2.*eps), dLdp[i], 1e-7, "element %d", i)
	}
}

// cubic residual converging too slowly for the iteration cap
type cubic struct{}

func (cubic) NState() int { return 1 }
func (cubic) NParam() int { return 1 }
func (cubic) RHS(t int, x, th, dxdt []float64) {
	for i := range dxdt {
		dxdt[i] = 10. - x[i]*x[i]*x[i]
	}
}
func (cubic) JacState(t int, x, th, jx []float64) {
	for i := range jx {
		jx[i] = -3. * x[i] * x[i]
	}
}
func (cubic) JacParam(t int, x, th, jp []float64) {
	for i := range jp {
		jp[i] = 0.
	}
}

func TestIterationCapPolicies(t *testing.T) {
	// default policy proceeds with the best iterate and counts the miss
	s := mol.NewSolver(cubic{}, 1, mol.Options{Tol: 1e-10, MaxIter: 3})
	st, err := s.Step(0, []float64{0.}, []float64{0.})
	require.NoError(t, err)
	require.False(t, st.Converged)
	require.Equal(t, 1, s.Divergences)

	// fail policy raises instead
	s = mol.NewSolver(cubic{}, 1, mol.Options{Tol: 1e-10, MaxIter: 3, OnDivergence: mol.Fail})
	_, err = s.Step(0, []float64{0.}, []float64{0.})
	require.Error(t, err)
	require.True(t, errors.Is(err, mol.ErrDiverged))
}

// residual whose state Jacobian is not finite
type broken struct{}

func (broken) NState() int { return 1 }
func (broken) NParam() int { return 1 }
func (broken) RHS(t int, x, th, dxdt []float64) {
	for i := range dxdt {
		dxdt[i] = 1.
	}
}
func (broken) JacState(t int, x, th, jx []float64) {
	for i := range jx {
		jx[i] = math.NaN()
	}
}
func (broken) JacParam(t int, x, th, jp []float64) {}

func TestNonFiniteJacobianFails(t *testing.T) {
	s := mol.NewSolver(broken{}, 2, mol.Options{})
	_, err := s.Step(0, []float64{0., 0.}, []float64{0., 0.})
	require.Error(t, err)
	require.True(t, errors.Is(err, mol.ErrNonFinite))
}
