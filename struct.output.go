package ihbv

// Output bundles the reduced (ensemble-mean or weighted) simulation series,
// one column per basin. Routed components are nil when routing is disabled.
type Output struct {
	Flow                         [][]float64 // routed streamflow (or unrouted mean when routing is off)
	Q0, Q1, Q2                   [][]float64 // routed flow components
	FlowNoRout                   [][]float64
	Q0NoRout, Q1NoRout, Q2NoRout [][]float64
	AET, PET, SWE                [][]float64
	Recharge, Excess, EvapFactor [][]float64
	ToSoil, Perc, Capillary      [][]float64
	BFI                          []float64   // baseflow index [%] per basin
}

func newSeries(nt, ng int) [][]float64 {
	s := make([][]float64, nt)
	for j := range s {
		s[j] = make([]float64, ng)
	}
	return s
}

// truncate drops the first n rows of every series.
func (o *Output) truncate(n int) {
	cut := func(s [][]float64) [][]float64 {
		if s == nil || n <= 0 || n >= len(s) {
			return s
		}
		return s[n:]
	}
	o.Flow = cut(o.Flow)
	o.Q0, o.Q1, o.Q2 = cut(o.Q0), cut(o.Q1), cut(o.Q2)
	o.FlowNoRout = cut(o.FlowNoRout)
	o.Q0NoRout, o.Q1NoRout, o.Q2NoRout = cut(o.Q0NoRout), cut(o.Q1NoRout), cut(o.Q2NoRout)
	o.AET, o.PET, o.SWE = cut(o.AET), cut(o.PET), cut(o.SWE)
	o.Recharge, o.Excess, o.EvapFactor = cut(o.Recharge), cut(o.Excess), cut(o.EvapFactor)
	o.ToSoil, o.Perc, o.Capillary = cut(o.ToSoil), cut(o.Perc), cut(o.Capillary)
}
