// Package pipeline glues the connection, buffer and indicator engine into
// one update cycle per incoming packet and hands immutable snapshots to the
// external sinks.
package pipeline

import (
	"sync/atomic"
	"time"

	"marketstream/internal/buffer"
	"marketstream/internal/indicator"
	"marketstream/internal/model"
)

// Renderer consumes per-series point snapshots. Implementations never
// receive a live reference into pipeline state.
type Renderer interface {
	Render(series map[string][]model.Point)
}

// Persistence accepts records after each update cycle. Submissions are
// write-behind: the pipeline never waits for durability.
type Persistence interface {
	Save(records []model.Record)
}

// Coordinator routes validated packets into the buffer, recomputes
// indicators for the groups that changed, and forwards snapshots to the
// sinks.
//
// At most one update cycle runs at a time: a packet arriving while a cycle
// is in flight is dropped, not queued. Packets arriving while paused are
// likewise lost — the pause flag short-circuits before any buffer mutation.
type Coordinator struct {
	buf      *buffer.Store
	eng      *indicator.Engine
	renderer Renderer    // optional
	persist  Persistence // optional

	paused atomic.Bool
	busy   atomic.Bool

	// Metrics hooks, optional.
	OnDroppedCycle func()
	OnCycle        func(time.Duration)
}

// New creates a Coordinator. Either sink may be nil.
func New(buf *buffer.Store, eng *indicator.Engine, renderer Renderer, persist Persistence) *Coordinator {
	return &Coordinator{
		buf:      buf,
		eng:      eng,
		renderer: renderer,
		persist:  persist,
	}
}

// Pause makes the coordinator drop incoming packets without touching the
// buffer. Dropped packets are not replayed on resume.
func (c *Coordinator) Pause() { c.paused.Store(true) }

// Resume re-enables packet processing.
func (c *Coordinator) Resume() { c.paused.Store(false) }

// Paused reports whether the coordinator is paused.
func (c *Coordinator) Paused() bool { return c.paused.Load() }

// HandlePacket runs one update cycle for a validated packet.
func (c *Coordinator) HandlePacket(p model.DataPacket) {
	if c.paused.Load() {
		return
	}
	if !c.busy.CompareAndSwap(false, true) {
		if c.OnDroppedCycle != nil {
			c.OnDroppedCycle()
		}
		return
	}
	defer c.busy.Store(false)

	start := time.Now()

	records := make([]model.Record, 0, 32)
	changed := make([]string, 0, len(p.Groups))
	for group, series := range p.Groups {
		touched := false
		for name, points := range series {
			if len(points) == 0 {
				continue
			}
			c.buf.AppendMany(model.SeriesKey(group, name), points)
			touched = true
			for _, pt := range points {
				records = append(records, model.Record{
					TS:     pt.TS,
					Group:  group,
					Series: name,
					Value:  pt.Value,
				})
			}
		}
		if touched {
			changed = append(changed, group)
		}
	}

	out := make(map[string][]model.Point)
	for _, group := range changed {
		snap := c.groupSnapshot(group, p.Groups[group])
		for name, points := range snap {
			out[model.SeriesKey(group, name)] = points
		}
		derived := c.eng.ComputeGroup(snap)
		primaryTS := snap[c.eng.PrimarySeries()]
		for name, values := range derived {
			out[model.SeriesKey(group, name)] = alignPoints(primaryTS, values)
		}
	}

	if c.renderer != nil && len(out) > 0 {
		c.renderer.Render(out)
	}
	if c.persist != nil && len(records) > 0 {
		c.persist.Save(records)
	}

	if c.OnCycle != nil {
		c.OnCycle(time.Since(start))
	}
}

// groupSnapshot pulls current buffer snapshots for every series of a group.
func (c *Coordinator) groupSnapshot(group string, series map[string][]model.Point) map[string][]model.Point {
	out := make(map[string][]model.Point, len(series))
	for name := range series {
		if snap := c.buf.Snapshot(model.SeriesKey(group, name)); snap != nil {
			out[name] = snap
		}
	}
	return out
}

// alignPoints pairs derived values with their source timestamps, skipping
// warm-up indices.
func alignPoints(source []model.Point, values []float64) []model.Point {
	n := len(values)
	if len(source) < n {
		n = len(source)
	}
	out := make([]model.Point, 0, n)
	for i := 0; i < n; i++ {
		if !indicator.IsDefined(values[i]) {
			continue
		}
		out = append(out, model.Point{TS: source[i].TS, Value: values[i]})
	}
	return out
}
