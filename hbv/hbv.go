// Package hbv holds the HBV bucket-model flux equations in two forms: a
// continuous-time right-hand-side (with closed-form Jacobians) for implicit
// integration, and the classic sequential explicit step. State and parameter
// layouts are flat batched slices so the same code serves any number of
// basin×realization elements.
package hbv

// state vector indices
const (
	ISnowpack = iota // snowpack [mm]
	IMeltwater       // liquid water held in snow [mm]
	ISoil            // soil moisture [mm]
	IUpper           // upper-zone storage [mm]
	ILower           // lower-zone storage [mm]
	NState           // = 5
)

// parameter indices, order fixed by the bounds table
const (
	PBeta = iota
	PFC
	PK0
	PK1
	PK2
	PLP
	PPerc
	PUZL
	PTT
	PCFMax
	PCFR
	PCWH
	PBetaET
	PC // capillary rise scaling, variant only
)

// Bound declares a parameter's name and its physical range. Raw values in
// (0,1) map to Lo + u*(Hi-Lo).
type Bound struct {
	Name   string
	Lo, Hi float64
}

// ParamBounds returns the ordered physical parameter bounds table.
func ParamBounds(capillary bool) []Bound {
	b := []Bound{
		{"parBETA", 1.0, 6.0},
		{"parFC", 50., 1000.},
		{"parK0", 0.05, 0.9},
		{"parK1", 0.01, 0.5},
		{"parK2", 0.001, 0.2},
		{"parLP", 0.2, 1.},
		{"parPERC", 0., 10.},
		{"parUZL", 0., 100.},
		{"parTT", -2.5, 2.5},
		{"parCFMAX", 0.5, 10.},
		{"parCFR", 0., 0.1},
		{"parCWH", 0., 0.2},
		{"parBETAET", 0.3, 5.},
	}
	if capillary {
		b = append(b, Bound{"parC", 0., 1.})
	}
	return b
}

// RoutingBounds returns the gamma unit-hydrograph parameter bounds.
func RoutingBounds() []Bound {
	return []Bound{
		{"rout_a", 0., 2.9},
		{"rout_b", 0., 6.5},
	}
}
