package indicator

import (
	"strconv"

	"marketstream/internal/model"
)

// Config selects which indicators the engine derives from a series group.
type Config struct {
	MAPeriods []int       // periods for both MA and EMA outputs
	MACD      MACDPeriods // fast/slow/signal
	KDJPeriod int

	// Series roles within a group. High/Low fall back to the primary
	// series when the group does not carry them.
	PrimarySeries string
	HighSeries    string
	LowSeries     string
}

func (c Config) withDefaults() Config {
	if len(c.MAPeriods) == 0 {
		c.MAPeriods = []int{5, 10, 20}
	}
	c.MACD = c.MACD.withDefaults()
	if c.KDJPeriod <= 0 {
		c.KDJPeriod = 9
	}
	if c.PrimarySeries == "" {
		c.PrimarySeries = "price"
	}
	if c.HighSeries == "" {
		c.HighSeries = "high"
	}
	if c.LowSeries == "" {
		c.LowSeries = "low"
	}
	return c
}

// Engine evaluates the configured indicator set over series group snapshots.
// Stateless: every call recomputes the full derived sequence from scratch.
// Cost is O(n) per call, bounded by the buffer capacity upstream, so it is
// constant in steady state.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine. Zero-value config fields take defaults
// (MA 5/10/20, MACD 12/26/9, KDJ 9, series price/high/low).
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// ComputeGroup derives every configured indicator from one group's series
// snapshots. Returns named output series aligned with the primary series;
// nil when the group has no primary series.
//
// Output names: MA<p>, EMA<p> per configured period, MACD_DIF / MACD_DEA /
// MACD_HIST, KDJ_K / KDJ_D / KDJ_J / KDJ_RSV.
func (e *Engine) ComputeGroup(series map[string][]model.Point) map[string][]float64 {
	primary, ok := series[e.cfg.PrimarySeries]
	if !ok || len(primary) == 0 {
		return nil
	}

	closeVals := valuesOf(primary)
	highVals := roleValues(series, e.cfg.HighSeries, closeVals)
	lowVals := roleValues(series, e.cfg.LowSeries, closeVals)

	out := make(map[string][]float64, 2*len(e.cfg.MAPeriods)+7)
	for _, p := range e.cfg.MAPeriods {
		out["MA"+strconv.Itoa(p)] = MA(closeVals, p)
		out["EMA"+strconv.Itoa(p)] = EMA(closeVals, p)
	}

	macd := MACD(closeVals, e.cfg.MACD)
	out["MACD_DIF"] = macd.DIF
	out["MACD_DEA"] = macd.DEA
	out["MACD_HIST"] = macd.Hist

	kdj := KDJ(highVals, lowVals, closeVals, e.cfg.KDJPeriod)
	out["KDJ_K"] = kdj.K
	out["KDJ_D"] = kdj.D
	out["KDJ_J"] = kdj.J
	out["KDJ_RSV"] = kdj.RSV

	return out
}

// PrimarySeries returns the configured primary series name.
func (e *Engine) PrimarySeries() string {
	return e.cfg.PrimarySeries
}

func valuesOf(points []model.Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// roleValues extracts a role series if present and length-aligned with the
// primary, otherwise falls back to the primary values.
func roleValues(series map[string][]model.Point, name string, fallback []float64) []float64 {
	pts, ok := series[name]
	if !ok || len(pts) != len(fallback) {
		return fallback
	}
	return valuesOf(pts)
}
