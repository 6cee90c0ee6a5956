package indicator

import (
	"testing"

	"marketstream/internal/model"
)

func series(vals ...float64) []model.Point {
	out := make([]model.Point, len(vals))
	for i, v := range vals {
		out[i] = model.Point{TS: int64(i + 1), Value: v}
	}
	return out
}

func TestEngine_ComputeGroupOutputs(t *testing.T) {
	eng := NewEngine(Config{
		MAPeriods: []int{3},
		MACD:      MACDPeriods{Fast: 2, Slow: 3, Signal: 2},
		KDJPeriod: 3,
	})

	group := map[string][]model.Point{
		"price": series(10, 12, 11, 13, 15),
		"high":  series(11, 13, 12, 14, 16),
		"low":   series(9, 11, 10, 12, 14),
	}
	out := eng.ComputeGroup(group)

	wantKeys := []string{
		"MA3", "EMA3",
		"MACD_DIF", "MACD_DEA", "MACD_HIST",
		"KDJ_K", "KDJ_D", "KDJ_J", "KDJ_RSV",
	}
	for _, k := range wantKeys {
		derived, ok := out[k]
		if !ok {
			t.Fatalf("missing output series %q", k)
		}
		if len(derived) != 5 {
			t.Fatalf("%s: expected 5 values aligned with source, got %d", k, len(derived))
		}
	}

	if IsDefined(out["MA3"][1]) {
		t.Error("MA3 should be undefined inside its warm-up span")
	}
	if !IsDefined(out["EMA3"][0]) {
		t.Error("EMA3 should be defined from index 0")
	}
}

func TestEngine_HighLowFallbackToPrimary(t *testing.T) {
	eng := NewEngine(Config{KDJPeriod: 3})

	closes := series(10, 11, 9, 12)
	withRoles := eng.ComputeGroup(map[string][]model.Point{
		"price": closes,
		"high":  closes,
		"low":   closes,
	})
	primaryOnly := eng.ComputeGroup(map[string][]model.Point{
		"price": closes,
	})

	for i := range closes {
		a, b := withRoles["KDJ_K"][i], primaryOnly["KDJ_K"][i]
		if IsDefined(a) != IsDefined(b) || (IsDefined(a) && !approx(a, b)) {
			t.Fatalf("index %d: fallback KDJ differs: %v vs %v", i, a, b)
		}
	}
}

func TestEngine_NoPrimarySeries(t *testing.T) {
	eng := NewEngine(Config{})
	if out := eng.ComputeGroup(map[string][]model.Point{"volume": series(1, 2)}); out != nil {
		t.Fatalf("expected nil output without a primary series, got %v", out)
	}
}

func TestEngine_Defaults(t *testing.T) {
	eng := NewEngine(Config{})
	out := eng.ComputeGroup(map[string][]model.Point{"price": series(1, 2, 3)})

	for _, k := range []string{"MA5", "MA10", "MA20", "EMA5", "EMA10", "EMA20"} {
		if _, ok := out[k]; !ok {
			t.Errorf("expected default period output %q", k)
		}
	}
	if eng.PrimarySeries() != "price" {
		t.Errorf("expected default primary series price, got %q", eng.PrimarySeries())
	}
}
