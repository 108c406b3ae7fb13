// Package ihbv simulates the HBV bucket model over many independent basins
// (and parallel parameter realizations per basin) and computes gradients of
// its outputs with respect to the raw parameter array by the adjoint method,
// making the simulator usable inside an external gradient-based calibration
// loop. Time integration is either explicit (forward-only) or implicit
// backward-Euler through the mol Newton solver.
package ihbv

import (
	"github.com/maseology/ihbv/hbv"
	"github.com/maseology/mmaths"
)

const (
	nearzero  = 1e-5 // default near-zero storage floor
	uhLen     = 15   // default unit-hydrograph window length
	smFloor   = 1e-8 // soil-moisture floor protecting divisions in the residual
	defaultDt = 1.   // daily model
)

// boundOf rescales a (0,1) value to its physical range.
func boundOf(b hbv.Bound, u float64) float64 { return mmaths.LinearTransform(b.Lo, b.Hi, u) }
