package indicator

// MACDPeriods configures the MACD triple. Zero values fall back to the
// conventional 12/26/9.
type MACDPeriods struct {
	Fast   int
	Slow   int
	Signal int
}

func (p MACDPeriods) withDefaults() MACDPeriods {
	if p.Fast <= 0 {
		p.Fast = 12
	}
	if p.Slow <= 0 {
		p.Slow = 26
	}
	if p.Signal <= 0 {
		p.Signal = 9
	}
	return p
}

// MACDResult holds the three aligned output series.
type MACDResult struct {
	DIF  []float64 // EMA(fast) - EMA(slow)
	DEA  []float64 // signal line: EMA(signal) over DIF
	Hist []float64 // 2 * (DIF - DEA)
}

// MACD computes the trend-oscillator triple. DIF follows the EMA rule and is
// defined from index 0. DEA runs the same EMA recursion over DIF but stays
// undefined until `signal` DIF values exist; the histogram is undefined
// wherever DEA is.
func MACD(values []float64, p MACDPeriods) MACDResult {
	p = p.withDefaults()
	n := len(values)

	fast := EMA(values, p.Fast)
	slow := EMA(values, p.Slow)

	dif := make([]float64, n)
	for i := 0; i < n; i++ {
		dif[i] = fast[i] - slow[i]
	}

	dea := EMA(dif, p.Signal)
	hist := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < p.Signal-1 {
			dea[i] = undefined()
			hist[i] = undefined()
			continue
		}
		hist[i] = 2 * (dif[i] - dea[i])
	}

	return MACDResult{DIF: dif, DEA: dea, Hist: hist}
}
