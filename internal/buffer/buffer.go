// Package buffer provides a bounded, per-series history store with FIFO
// eviction. Each named series holds at most capacity points; appending to a
// full series silently evicts the oldest points instead of failing.
//
// Consumers only ever receive copies via Snapshot — never a live slice —
// so readers need no coordination with the single writer.
package buffer

import (
	"sort"
	"sync"

	"marketstream/internal/model"
)

const defaultCapacity = 1000

// Store holds bounded recent history per named series.
// Series are created lazily on first append.
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[string][]model.Point
}

// New creates a Store. capacity <= 0 falls back to the default (1000).
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{
		capacity: capacity,
		series:   make(map[string][]model.Point, 16),
	}
}

// Append adds one point to a series, evicting from the front if the series
// would exceed capacity. Never fails; unknown series are created.
func (s *Store) Append(name string, p model.Point) {
	s.AppendMany(name, []model.Point{p})
}

// AppendMany adds a batch of points in arrival order. The store does not
// re-sort by timestamp — upstream is trusted to deliver non-decreasing
// timestamps per series.
func (s *Store) AppendMany(name string, points []model.Point) {
	if len(points) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.series[name]
	if !ok {
		buf = make([]model.Point, 0, s.capacity)
	}
	buf = append(buf, points...)
	if over := len(buf) - s.capacity; over > 0 {
		// Shift in place so the backing array does not grow without bound.
		copy(buf, buf[over:])
		buf = buf[:s.capacity]
	}
	s.series[name] = buf
}

// Clear empties the named series, or every series when called with no names.
func (s *Store) Clear(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(names) == 0 {
		s.series = make(map[string][]model.Point, 16)
		return
	}
	for _, n := range names {
		delete(s.series, n)
	}
}

// Snapshot returns a copy of the current ordered sequence for a series.
// Returns nil for unknown series.
func (s *Store) Snapshot(name string) []model.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.series[name]
	if !ok {
		return nil
	}
	out := make([]model.Point, len(buf))
	copy(out, buf)
	return out
}

// SnapshotAll returns copies of every series keyed by name.
func (s *Store) SnapshotAll() map[string][]model.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.Point, len(s.series))
	for name, buf := range s.series {
		cp := make([]model.Point, len(buf))
		copy(cp, buf)
		out[name] = cp
	}
	return out
}

// Len returns the current length of a series (0 if unknown).
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[name])
}

// Names returns the sorted list of series currently held.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for n := range s.series {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Capacity returns the per-series capacity.
func (s *Store) Capacity() int {
	return s.capacity
}
