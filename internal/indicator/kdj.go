package indicator

// KDJResult holds the stochastic oscillator output series, aligned with the
// input. J is unbounded and may leave [0,100].
type KDJResult struct {
	K   []float64
	D   []float64
	J   []float64
	RSV []float64
}

// KDJ computes the stochastic oscillator over the given period (default 9).
// Outputs are NaN for i < period-1. RSV measures the close position within
// the period's high/low range; a flat range (max == min) yields RSV = 0 so
// no non-finite value can propagate. K and D are smoothed 2:1 against the
// previous value and both seed from 50 at the first valid index.
func KDJ(high, low, close []float64, period int) KDJResult {
	if period <= 0 {
		period = 9
	}
	n := len(close)
	res := KDJResult{
		K:   make([]float64, n),
		D:   make([]float64, n),
		J:   make([]float64, n),
		RSV: make([]float64, n),
	}

	prevK, prevD := 50.0, 50.0
	for i := 0; i < n; i++ {
		if i < period-1 {
			res.K[i] = undefined()
			res.D[i] = undefined()
			res.J[i] = undefined()
			res.RSV[i] = undefined()
			continue
		}

		hi, lo := high[i], low[i]
		for j := i - period + 1; j < i; j++ {
			if high[j] > hi {
				hi = high[j]
			}
			if low[j] < lo {
				lo = low[j]
			}
		}

		rsv := 0.0
		if hi != lo {
			rsv = (close[i] - lo) / (hi - lo) * 100
		}

		k := (2*prevK + rsv) / 3
		d := (2*prevD + k) / 3

		res.RSV[i] = rsv
		res.K[i] = k
		res.D[i] = d
		res.J[i] = 3*k - 2*d

		prevK, prevD = k, d
	}
	return res
}
