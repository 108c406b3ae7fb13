package ihbv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

func writeFloats(fp string, f []float64) error {
	f32 := func() []float32 {
		o := make([]float32, len(f))
		for i, v := range f {
			o[i] = float32(v)
		}
		return o
	}()
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, f32); err != nil {
		return fmt.Errorf("writeFloats failed: %v", err)
	}
	if err := os.WriteFile(fp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writeFloats failed: %v", err)
	}
	return nil
}

// flatten packs a [timestep][basin] series row-major for the binary writers.
func flatten(s [][]float64) []float64 {
	if len(s) == 0 {
		return nil
	}
	ng := len(s[0])
	o := make([]float64, len(s)*ng)
	for t, row := range s {
		copy(o[t*ng:], row)
	}
	return o
}

// SaveBins dumps the output bundle as little-endian float32 rasters of shape
// [nt][ng], one file per series, prefixed by outdirprfx.
func (o *Output) SaveBins(outdirprfx string) error {
	sers := []struct {
		nam string
		dat [][]float64
	}{
		{"hyd", o.Flow}, {"hydnr", o.FlowNoRout},
		{"q0", o.Q0}, {"q1", o.Q1}, {"q2", o.Q2},
		{"aet", o.AET}, {"pet", o.PET}, {"swe", o.SWE},
		{"rch", o.Recharge}, {"exs", o.Excess}, {"evf", o.EvapFactor},
		{"tsl", o.ToSoil}, {"prc", o.Perc}, {"cap", o.Capillary},
	}
	for _, s := range sers {
		if s.dat == nil {
			continue
		}
		if err := writeFloats(outdirprfx+s.nam+".bin", flatten(s.dat)); err != nil {
			return err
		}
	}
	if o.BFI != nil {
		if err := writeFloats(outdirprfx+"bfi.bin", o.BFI); err != nil {
			return err
		}
	}
	return nil
}
