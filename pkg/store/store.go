// Package store owns the normalized event sequence and its derived
// indices. A Store is built in one linear pass and published as an
// immutable generation; every consumer reads positions into the event
// arena, never copies of payloads.
package store

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gridtrace/gridtrace/internal/model"
)

// Store is the sole owner of the event sequence. Readers always see a
// complete generation: appends build a new snapshot off to the side
// and swap one atomic pointer, so queries never observe partial
// indices.
type Store struct {
	mu  sync.Mutex // serializes Append/Replace (single writer)
	gen atomic.Pointer[generation]
}

// generation is one immutable snapshot of the arena plus its indices.
type generation struct {
	id     string
	events []model.Event

	byCycle map[int64][]int32
	byPE    map[model.Coord][]int32 // cycle-sorted, arrival-stable
	byKind  map[model.Kind][]int32

	values *ValueIndex

	maxCycle int64
	peCount  int
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.gen.Store(buildGeneration(nil))
	return s
}

// FromEvents creates a store over the given sequence. The slice is
// retained; callers must not mutate it afterwards.
func FromEvents(events []model.Event) *Store {
	s := &Store{}
	s.gen.Store(buildGeneration(events))
	return s
}

// buildGeneration runs the single O(n) indexing pass. Building twice
// from the same input yields identical indices.
func buildGeneration(events []model.Event) *generation {
	g := &generation{
		id:      uuid.NewString(),
		events:  events,
		byCycle: make(map[int64][]int32),
		byPE:    make(map[model.Coord][]int32),
		byKind:  make(map[model.Kind][]int32),
		values:  NewValueIndex(),
	}

	for i := range events {
		ev := &events[i]
		pos := int32(i)

		g.byCycle[ev.Cycle] = append(g.byCycle[ev.Cycle], pos)
		g.byKind[ev.Kind] = append(g.byKind[ev.Kind], pos)
		if ev.HasPE {
			g.byPE[ev.PE] = append(g.byPE[ev.PE], pos)
		}
		if ev.Cycle > g.maxCycle {
			g.maxCycle = ev.Cycle
		}
		g.values.index(ev, uint32(i))
	}

	// Per-PE positions sort by cycle for range queries; the stable
	// sort keeps arrival order within a cycle, which stands in for
	// intra-cycle causal order.
	for _, positions := range g.byPE {
		sort.SliceStable(positions, func(a, b int) bool {
			return events[positions[a]].Cycle < events[positions[b]].Cycle
		})
	}

	g.peCount = len(g.byPE)
	return g
}

// Replace rebuilds the store from a full event sequence, discarding
// the previous generation.
func (s *Store) Replace(events []model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.Store(buildGeneration(events))
}

// Append extends the sequence with newly arrived events and publishes
// a fresh generation. Readers see either the old snapshot or the new
// one, never an intermediate state.
func (s *Store) Append(events []model.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.gen.Load()
	combined := make([]model.Event, 0, len(cur.events)+len(events))
	combined = append(combined, cur.events...)
	combined = append(combined, events...)
	s.gen.Store(buildGeneration(combined))
}

// Adopt publishes another store's current generation as this store's
// snapshot. Callers stage a full rebuild in a detached store and swap
// it in only once everything derived from it is ready.
func (s *Store) Adopt(other *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.Store(other.gen.Load())
}

// Generation returns the ID of the currently published snapshot.
func (s *Store) Generation() string { return s.gen.Load().id }

// Len returns the number of retained events.
func (s *Store) Len() int { return len(s.gen.Load().events) }

// MaxCycle returns the highest cycle seen, or -1 for an empty store.
func (s *Store) MaxCycle() int64 {
	g := s.gen.Load()
	if len(g.events) == 0 {
		return -1
	}
	return g.maxCycle
}

// PECount returns the number of distinct processing elements indexed.
func (s *Store) PECount() int { return s.gen.Load().peCount }

// Events returns the full arena in arrival order. The slice is shared
// and must be treated as read-only.
func (s *Store) Events() []model.Event { return s.gen.Load().events }

// At returns the event at an arena position.
func (s *Store) At(pos int32) *model.Event {
	return &s.gen.Load().events[pos]
}

// EventsAt returns all events in a cycle, in arrival order.
func (s *Store) EventsAt(cycle int64) []*model.Event {
	g := s.gen.Load()
	return g.resolve(g.byCycle[cycle])
}

// EventsFor returns the events for one PE whose cycles fall in
// [from, to], ordered by cycle then arrival. The lookup binary-searches
// the PE's cycle-sorted position list.
func (s *Store) EventsFor(pe model.Coord, from, to int64) []*model.Event {
	g := s.gen.Load()
	positions := g.byPE[pe]
	if len(positions) == 0 || to < from {
		return nil
	}

	lo := sort.Search(len(positions), func(i int) bool {
		return g.events[positions[i]].Cycle >= from
	})
	hi := sort.Search(len(positions), func(i int) bool {
		return g.events[positions[i]].Cycle > to
	})
	return g.resolve(positions[lo:hi])
}

// EventsOfKind returns all events of one kind in arrival order.
func (s *Store) EventsOfKind(kind model.Kind) []*model.Event {
	g := s.gen.Load()
	return g.resolve(g.byKind[kind])
}

// KindAt returns the events of one kind for one PE in one cycle.
func (s *Store) KindAt(kind model.Kind, cycle int64, pe model.Coord) []*model.Event {
	var out []*model.Event
	for _, ev := range s.EventsFor(pe, cycle, cycle) {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// PEs returns the distinct processing elements seen in the trace.
func (s *Store) PEs() []model.Coord {
	g := s.gen.Load()
	coords := make([]model.Coord, 0, len(g.byPE))
	for c := range g.byPE {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(a, b int) bool {
		if coords[a].Y != coords[b].Y {
			return coords[a].Y < coords[b].Y
		}
		return coords[a].X < coords[b].X
	})
	return coords
}

// GridSize infers the grid extent from the trace: (width, height) one
// past the largest coordinates seen. Returns (0, 0) when no event
// carried a coordinate.
func (s *Store) GridSize() (int, int) {
	g := s.gen.Load()
	maxX, maxY := -1, -1
	for c := range g.byPE {
		if c.X > maxX {
			maxX = c.X
		}
		if c.Y > maxY {
			maxY = c.Y
		}
	}
	if maxX < 0 {
		return 0, 0
	}
	return maxX + 1, maxY + 1
}

// Values returns the generation's value index.
func (s *Store) Values() *ValueIndex { return s.gen.Load().values }

func (g *generation) resolve(positions []int32) []*model.Event {
	if len(positions) == 0 {
		return nil
	}
	out := make([]*model.Event, len(positions))
	for i, pos := range positions {
		out[i] = &g.events[pos]
	}
	return out
}
