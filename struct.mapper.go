package ihbv

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/maseology/ihbv/hbv"
)

// Mapper converts the raw unconstrained parameter array produced externally
// (e.g. by a neural network) into the model's (0,1)-scaled parameter slices:
// logistic squash, dynamic/static masking, routing parameters taken from the
// final time slice. Physical rescaling to [lo,hi] happens inside the
// residual function so that gradients are taken w.r.t. the raw values.
type Mapper struct {
	Phy     []hbv.Bound
	Rout    []hbv.Bound
	Dy      []string
	DyDrop  float64
	Nmul    int
	Routing bool
}

// NewMapper builds a mapper for the configured model variant, failing
// eagerly on any dynamic-parameter name absent from the bounds table.
func NewMapper(cfg *Config) (*Mapper, error) {
	mp := &Mapper{
		Phy:     hbv.ParamBounds(cfg.Capillary),
		Rout:    hbv.RoutingBounds(),
		Dy:      cfg.DyParams,
		DyDrop:  cfg.DyDrop,
		Nmul:    cfg.Nmul,
		Routing: cfg.Routing,
	}
	for _, nm := range mp.Dy {
		if mp.index(nm) < 0 {
			return nil, fmt.Errorf("ihbv: unknown dynamic parameter %q", nm)
		}
	}
	return mp, nil
}

func (mp *Mapper) index(name string) int {
	for k, b := range mp.Phy {
		if b.Name == name {
			return k
		}
	}
	return -1
}

// NParam returns the physical parameter count of the variant.
func (mp *Mapper) NParam() int { return len(mp.Phy) }

// RawWidth returns the expected raw-array row width per basin.
func (mp *Mapper) RawWidth() int {
	w := len(mp.Phy) * mp.Nmul
	if mp.Routing {
		w += len(mp.Rout)
	}
	return w
}

// ParamSet is the mapped parameter trajectory for one forward evaluation:
// immutable once built. Element ordering merges realizations into the batch
// dimension as e = m*ng + g.
type ParamSet struct {
	Phy       [][]float64          // [timestep][nb*np], logistic-squashed, masked
	Rout      []float64            // [ng*len(Rout)], logistic-squashed
	Mask      map[string][]float64 // per dynamic parameter, per basin; 1 = pinned static
	StaticIdx int                  // raw time slice all static values are drawn from
	dy        []bool               // per parameter index
}

// Build maps the raw array raw[t][g][·] (width NParam*Nmul, plus routing
// columns when enabled) onto a ParamSet for a run with the given warm-up
// length. The Bernoulli mask is drawn once per basin per dynamic parameter
// and reused across time; supplying a non-nil mask skips the draw (the
// trajectories are then bit-identical to a fresh build with the same mask).
func (mp *Mapper) Build(raw [][][]float64, warmup int, rng *rand.Rand, mask map[string][]float64) (*ParamSet, error) {
	nt := len(raw)
	if nt == 0 || warmup >= nt {
		return nil, fmt.Errorf("ihbv: raw parameter array has %d steps, warm-up %d", nt, warmup)
	}
	ng := len(raw[0])
	np, nm := len(mp.Phy), mp.Nmul
	nb := ng * nm
	for t := range raw {
		if len(raw[t]) != ng {
			return nil, fmt.Errorf("ihbv: raw parameter basin-count mismatch at step %d", t)
		}
		for g := range raw[t] {
			if len(raw[t][g]) != mp.RawWidth() {
				return nil, fmt.Errorf("ihbv: raw parameter width %d at (%d,%d), want %d", len(raw[t][g]), t, g, mp.RawWidth())
			}
		}
	}

	ps := &ParamSet{
		Phy:  make([][]float64, nt),
		Mask: map[string][]float64{},
		dy:   make([]bool, np),
	}
	if warmup > 0 {
		ps.StaticIdx = warmup - 1
	} else {
		ps.StaticIdx = nt - 1
	}

	for _, dnm := range mp.Dy {
		ps.dy[mp.index(dnm)] = true
		if mask != nil {
			if len(mask[dnm]) != ng {
				return nil, fmt.Errorf("ihbv: injected mask %q length %d, want %d", dnm, len(mask[dnm]), ng)
			}
			ps.Mask[dnm] = mask[dnm]
			continue
		}
		dr := make([]float64, ng)
		for g := range dr {
			if rng.Float64() < mp.DyDrop {
				dr[g] = 1.
			}
		}
		ps.Mask[dnm] = dr
	}

	for t := 0; t < nt; t++ {
		pt := make([]float64, nb*np)
		for g := 0; g < ng; g++ {
			for k := 0; k < np; k++ {
				nmk := mp.Phy[k].Name
				for m := 0; m < nm; m++ {
					e := m*ng + g
					ts := ps.StaticIdx
					if t >= warmup && ps.dy[k] && ps.Mask[nmk][g] == 0. {
						ts = t
					}
					pt[e*np+k] = sigmoid(raw[ts][g][k*nm+m])
				}
			}
		}
		ps.Phy[t] = pt
	}

	if mp.Routing {
		nr := len(mp.Rout)
		ps.Rout = make([]float64, ng*nr)
		for g := 0; g < ng; g++ {
			for r := 0; r < nr; r++ {
				ps.Rout[g*nr+r] = sigmoid(raw[nt-1][g][np*nm+r])
			}
		}
	}
	return ps, nil
}

func sigmoid(v float64) float64 { return 1. / (1. + math.Exp(-v)) }

func (mp *Mapper) SaveGob(fp string) error {
	f, err := os.Create(fp)
	if err != nil {
		return fmt.Errorf(" mapper.SaveGob %v", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(mp); err != nil {
		return fmt.Errorf(" mapper.SaveGob %v", err)
	}
	return nil
}

func LoadGobMapper(fp string) (*Mapper, error) {
	var mp Mapper
	f, err := os.Open(fp)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&mp); err != nil {
		return nil, err
	}
	return &mp, nil
}
