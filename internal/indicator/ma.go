package indicator

// MA computes the simple moving average with the given period.
// Output[i] is NaN for i < period-1, otherwise the arithmetic mean of the
// last period inputs. A rolling sum keeps the pass O(n).
func MA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		period = 1
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i < period-1 {
			out[i] = undefined()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}
