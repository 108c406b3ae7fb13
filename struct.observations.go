package ihbv

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/maseology/mmio"
	"github.com/maseology/objfunc"
)

// Observations holds observed discharge aligned to the forcing series,
// one column per basin. Missing records are NaN and skipped when scoring.
type Observations struct {
	Td []time.Time
	Oq [][]float64 // [date ID][basin]
}

// NewObservations allocates an all-NaN record for the forcing dates.
func NewObservations(frc *Forcing) *Observations {
	nt, ng := frc.Dims()
	obs := &Observations{Td: frc.T, Oq: make([][]float64, nt)}
	for t := range obs.Oq {
		obs.Oq[t] = make([]float64, ng)
		for g := range obs.Oq[t] {
			obs.Oq[t][g] = math.NaN()
		}
	}
	return obs
}

// AddObservation reads a csv file of "Date","Flow","Flag" into basin column g.
func (obs *Observations) AddObservation(csvfp string, g int) error {
	if g < 0 || len(obs.Oq) == 0 || g >= len(obs.Oq[0]) {
		return fmt.Errorf("ihbv: observation column %d out of range", g)
	}
	c, err := mmio.ReadCsvDateFloat(csvfp)
	if err != nil {
		return fmt.Errorf(" Observations.AddObservation %v", err)
	}
	dd := func(t time.Time) time.Time {
		year, month, day := t.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
	}
	for i, t := range obs.Td {
		if v, ok := c[dd(t).Unix()]; ok {
			obs.Oq[i][g] = v
		}
	}
	return nil
}

// KGE scores a simulated series against the record, per basin. offset is the
// index of sim[0] within the observation series (the warm-up length when the
// simulation window excludes warm-up). NaN records are dropped pairwise.
func (obs *Observations) KGE(sim [][]float64, offset int) []float64 {
	return obs.score(sim, offset, objfunc.KGE)
}

// NSE scores as KGE does, with the Nash-Sutcliffe efficiency.
func (obs *Observations) NSE(sim [][]float64, offset int) []float64 {
	return obs.score(sim, offset, objfunc.NSE)
}

func (obs *Observations) score(sim [][]float64, offset int, fn func(o, s []float64) float64) []float64 {
	ng := len(obs.Oq[0])
	out := make([]float64, ng)
	for g := 0; g < ng; g++ {
		var o, s []float64
		for j := range sim {
			if v := obs.Oq[offset+j][g]; !math.IsNaN(v) {
				o = append(o, v)
				s = append(s, sim[j][g])
			}
		}
		if len(o) == 0 {
			out[g] = math.NaN()
			continue
		}
		out[g] = fn(o, s)
	}
	return out
}

func (obs *Observations) SaveGob(fp string) error {
	f, err := os.Create(fp)
	if err != nil {
		return fmt.Errorf(" Observations.SaveGob %v", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(obs); err != nil {
		return fmt.Errorf(" Observations.SaveGob %v", err)
	}
	return nil
}

func LoadGobObservations(fp string) (*Observations, error) {
	var obs Observations
	f, err := os.Open(fp)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&obs); err != nil {
		return nil, err
	}
	return &obs, nil
}
