package ihbv

import (
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"github.com/maseology/goHydro/pet"
)

// Forcing holds the exogenous input series, ordered by time, one column per
// basin: precipitation [mm], mean air temperature [°C] and potential
// evapotranspiration [mm]. Length = warm-up + simulation steps.
type Forcing struct {
	T         []time.Time // optional timestamps, used only for reporting
	P, Tm, Ep [][]float64 // [timestep][basin]
}

// Dims returns (time steps, basins).
func (frc *Forcing) Dims() (int, int) {
	if len(frc.P) == 0 {
		return 0, 0
	}
	return len(frc.P), len(frc.P[0])
}

// Check verifies the forcing arrays agree in shape.
func (frc *Forcing) Check() error {
	nt, ng := frc.Dims()
	if nt == 0 || ng == 0 {
		return fmt.Errorf("ihbv: empty forcing")
	}
	if len(frc.Tm) != nt || len(frc.Ep) != nt {
		return fmt.Errorf("ihbv: forcing series length mismatch: P %d, Tm %d, Ep %d", nt, len(frc.Tm), len(frc.Ep))
	}
	for j := 0; j < nt; j++ {
		if len(frc.P[j]) != ng || len(frc.Tm[j]) != ng || len(frc.Ep[j]) != ng {
			return fmt.Errorf("ihbv: forcing basin-count mismatch at step %d", j)
		}
	}
	if frc.T != nil && len(frc.T) != nt {
		return fmt.Errorf("ihbv: timestamp length %d != %d", len(frc.T), nt)
	}
	return nil
}

// FillPET estimates missing potential evapotranspiration with the Makkink
// radiation-based formulation, given global radiation kg [W/m²] per step and
// basin. Existing positive Ep entries are left untouched.
func (frc *Forcing) FillPET(kg [][]float64) error {
	nt, ng := frc.Dims()
	if len(kg) != nt {
		return fmt.Errorf("ihbv: FillPET radiation series length %d != %d", len(kg), nt)
	}
	if frc.Ep == nil {
		frc.Ep = make([][]float64, nt)
		for j := range frc.Ep {
			frc.Ep[j] = make([]float64, ng)
		}
	}
	for j := 0; j < nt; j++ {
		for i := 0; i < ng; i++ {
			if frc.Ep[j][i] > 0. {
				continue
			}
			frc.Ep[j][i] = pet.Makkink(kg[j][i], frc.Tm[j][i], 101300., .61, -1.2e-4) * 1000. // [m/d] to [mm/d]
		}
	}
	return nil
}

func (frc *Forcing) SaveGob(fp string) error {
	f, err := os.Create(fp)
	if err != nil {
		return fmt.Errorf(" forcing.SaveGob %v", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(frc); err != nil {
		return fmt.Errorf(" forcing.SaveGob %v", err)
	}
	return nil
}

func LoadGobForcing(fp string) (*Forcing, error) {
	var frc Forcing
	f, err := os.Open(fp)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&frc); err != nil {
		return nil, err
	}
	return &frc, nil
}
