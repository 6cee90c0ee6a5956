package indicator

// EMA computes the exponential moving average with multiplier 2/(period+1).
// The first output equals the first input (no warm-up span): each subsequent
// value is input*alpha + prev*(1-alpha).
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if period <= 0 {
		period = 1
	}
	alpha := 2.0 / float64(period+1)

	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}
