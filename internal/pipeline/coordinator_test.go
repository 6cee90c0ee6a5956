package pipeline

import (
	"reflect"
	"testing"

	"marketstream/internal/buffer"
	"marketstream/internal/indicator"
	"marketstream/internal/model"
)

type fakeRenderer struct {
	calls []map[string][]model.Point
	hook  func() // runs inside Render, for re-entrancy tests
}

func (r *fakeRenderer) Render(series map[string][]model.Point) {
	r.calls = append(r.calls, series)
	if r.hook != nil {
		r.hook()
	}
}

type fakePersistence struct {
	batches [][]model.Record
}

func (p *fakePersistence) Save(records []model.Record) {
	p.batches = append(p.batches, records)
}

func testEngine() *indicator.Engine {
	return indicator.NewEngine(indicator.Config{
		MAPeriods: []int{2},
		MACD:      indicator.MACDPeriods{Fast: 2, Slow: 3, Signal: 2},
		KDJPeriod: 3,
	})
}

func packet(seq int64, values ...float64) model.DataPacket {
	pts := make([]model.Point, len(values))
	vol := make([]model.Point, len(values))
	for i, v := range values {
		ts := seq*1000 + int64(i)
		pts[i] = model.Point{TS: ts, Value: v}
		vol[i] = model.Point{TS: ts, Value: 1}
	}
	return model.DataPacket{
		Meta: model.PacketMeta{Timestamp: seq * 1000, SequenceID: seq},
		Groups: map[string]map[string][]model.Point{
			"trade": {"price": pts, "volume": vol},
		},
	}
}

func TestHandlePacket_AppendsComputesAndForwards(t *testing.T) {
	buf := buffer.New(100)
	rnd := &fakeRenderer{}
	per := &fakePersistence{}
	c := New(buf, testEngine(), rnd, per)

	c.HandlePacket(packet(1, 10, 12, 11))

	if got := buf.Len("trade:price"); got != 3 {
		t.Fatalf("expected 3 buffered price points, got %d", got)
	}

	if len(rnd.calls) != 1 {
		t.Fatalf("expected 1 render call, got %d", len(rnd.calls))
	}
	out := rnd.calls[0]
	if _, ok := out["trade:price"]; !ok {
		t.Error("render output missing raw series trade:price")
	}
	ma, ok := out["trade:MA2"]
	if !ok {
		t.Fatal("render output missing derived series trade:MA2")
	}
	// MA2 over [10,12,11]: warm-up index skipped, then 11, 11.5.
	if len(ma) != 2 || ma[0].Value != 11 || ma[1].Value != 11.5 {
		t.Errorf("unexpected MA2 points: %+v", ma)
	}

	if len(per.batches) != 1 {
		t.Fatalf("expected 1 persistence batch, got %d", len(per.batches))
	}
	if len(per.batches[0]) != 6 { // 3 price + 3 volume records
		t.Errorf("expected 6 records, got %d", len(per.batches[0]))
	}
	r := per.batches[0][0]
	if r.Group != "trade" || r.TS == 0 {
		t.Errorf("record missing group or timestamp: %+v", r)
	}
}

func TestPause_PacketsAreLostNotQueued(t *testing.T) {
	buf := buffer.New(100)
	c := New(buf, testEngine(), nil, nil)

	c.HandlePacket(packet(1, 10, 11))
	before := buf.Snapshot("trade:price")

	c.Pause()
	for seq := int64(2); seq <= 6; seq++ {
		c.HandlePacket(packet(seq, float64(seq)))
	}
	after := buf.Snapshot("trade:price")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("paused packets must not mutate the buffer: %v vs %v", before, after)
	}

	// Unpausing and replaying the same packets matches a never-paused run.
	c.Resume()
	for seq := int64(2); seq <= 6; seq++ {
		c.HandlePacket(packet(seq, float64(seq)))
	}

	fresh := buffer.New(100)
	c2 := New(fresh, testEngine(), nil, nil)
	for seq := int64(1); seq <= 6; seq++ {
		if seq == 1 {
			c2.HandlePacket(packet(1, 10, 11))
		} else {
			c2.HandlePacket(packet(seq, float64(seq)))
		}
	}
	if !reflect.DeepEqual(buf.Snapshot("trade:price"), fresh.Snapshot("trade:price")) {
		t.Fatal("replay after resume should match a never-paused run")
	}
}

func TestOverlappingCycleDropped(t *testing.T) {
	buf := buffer.New(100)
	var dropped int
	rnd := &fakeRenderer{}
	c := New(buf, testEngine(), rnd, nil)
	c.OnDroppedCycle = func() { dropped++ }

	// Re-enter from inside the render callback: the inner cycle must be
	// dropped, not queued.
	rnd.hook = func() {
		rnd.hook = nil
		c.HandlePacket(packet(99, 42))
	}
	c.HandlePacket(packet(1, 10))

	if dropped != 1 {
		t.Fatalf("expected 1 dropped cycle, got %d", dropped)
	}
	if got := buf.Len("trade:price"); got != 1 {
		t.Fatalf("inner packet must not reach the buffer, len=%d", got)
	}
}

func TestRenderReceivesCopies(t *testing.T) {
	buf := buffer.New(100)
	rnd := &fakeRenderer{}
	c := New(buf, testEngine(), rnd, nil)

	c.HandlePacket(packet(1, 10, 11))

	rnd.calls[0]["trade:price"][0].Value = -1
	snap := buf.Snapshot("trade:price")
	if snap[0].Value == -1 {
		t.Fatal("renderer must receive copies, not live buffer slices")
	}
}

func TestEmptySeriesDoesNotTriggerSinks(t *testing.T) {
	buf := buffer.New(100)
	rnd := &fakeRenderer{}
	per := &fakePersistence{}
	c := New(buf, testEngine(), rnd, per)

	c.HandlePacket(model.DataPacket{
		Meta: model.PacketMeta{Timestamp: 1, SequenceID: 1},
		Groups: map[string]map[string][]model.Point{
			"trade": {"price": {}, "volume": {}},
		},
	})

	if len(rnd.calls) != 0 || len(per.batches) != 0 {
		t.Fatalf("empty packet should not reach sinks: renders=%d saves=%d",
			len(rnd.calls), len(per.batches))
	}
}
