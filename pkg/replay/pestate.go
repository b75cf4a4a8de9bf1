// Package replay reconstructs per-PE state snapshots and per-link FIFO
// occupancy from a completed event store. Both reconstructions are
// pure functions of the store; nothing here mutates it.
package replay

import (
	"sort"
	"sync"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/store"
)

// Status is the merged state of one PE in one cycle.
type Status uint8

const (
	Idle Status = iota
	Executing
	Blocked
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Executing:
		return "Executing"
	case Blocked:
		return "Blocked"
	default:
		return "Idle"
	}
}

// Cause is one recorded backpressure reason.
type Cause struct {
	Type   string
	Reason string
}

// Snapshot is the canonical merged state of one (PE, cycle). Created
// lazily, never mutated after creation.
type Snapshot struct {
	PE    model.Coord
	Cycle int64

	Status       Status
	ActiveOpcode string

	// Sends and Receives map a port direction to the payload that
	// crossed it this cycle. Squashed marks directions whose transfer
	// carried a false predicate.
	Sends    map[model.Direction]string
	Receives map[model.Direction]string
	Squashed map[model.Direction]bool

	Causes []Cause
}

type stateKey struct {
	pe    model.Coord
	cycle int64
}

// Reconstructor merges events into status snapshots with a fixed
// precedence: any Backpressure event blocks the cycle, otherwise any
// Execution/DataFlow/Memory event marks it executing, otherwise the PE
// was idle. The merge is independent of event arrival order within the
// cycle.
type Reconstructor struct {
	store *store.Store

	mu    sync.Mutex
	genID string
	cache map[stateKey]*Snapshot
}

// NewReconstructor creates a reconstructor over the given store.
func NewReconstructor(st *store.Store) *Reconstructor {
	return &Reconstructor{
		store: st,
		cache: make(map[stateKey]*Snapshot),
	}
}

// StateOf returns the snapshot for (pe, cycle), computing and caching
// it on first request. Snapshots from a superseded store generation
// are discarded wholesale.
func (r *Reconstructor) StateOf(pe model.Coord, cycle int64) *Snapshot {
	key := stateKey{pe: pe, cycle: cycle}

	r.mu.Lock()
	if gen := r.store.Generation(); gen != r.genID {
		r.genID = gen
		r.cache = make(map[stateKey]*Snapshot)
	}
	if snap, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return snap
	}
	r.mu.Unlock()

	snap := Merge(pe, cycle, r.store.EventsFor(pe, cycle, cycle))

	r.mu.Lock()
	r.cache[key] = snap
	r.mu.Unlock()
	return snap
}

// Merge applies the canonical precedence to one (pe, cycle) event
// slice. Exposed separately so callers holding their own slices can
// merge without a store.
func Merge(pe model.Coord, cycle int64, events []*model.Event) *Snapshot {
	snap := &Snapshot{PE: pe, Cycle: cycle, Status: Idle}

	var blocked, active bool
	causeSeen := make(map[Cause]struct{})

	for _, ev := range events {
		switch ev.Kind {
		case model.KindBackpressure:
			blocked = true
			c := Cause{Type: ev.BPType, Reason: ev.Reason}
			if _, dup := causeSeen[c]; !dup {
				causeSeen[c] = struct{}{}
				snap.Causes = append(snap.Causes, c)
			}
			if snap.ActiveOpcode == "" && ev.Opcode != "" {
				snap.ActiveOpcode = ev.Opcode
			}

		case model.KindExecution, model.KindMemory:
			active = true
			if ev.Opcode != "" {
				snap.ActiveOpcode = ev.Opcode
			}

		case model.KindDataFlow:
			active = true
			if ev.Direction == model.DirNone {
				continue
			}
			switch {
			case ev.Behavior.IsPush():
				if snap.Sends == nil {
					snap.Sends = make(map[model.Direction]string)
				}
				snap.Sends[ev.Direction] = ev.Payload
			case ev.Behavior.IsPop():
				if snap.Receives == nil {
					snap.Receives = make(map[model.Direction]string)
				}
				snap.Receives[ev.Direction] = ev.Payload
			}
			if !ev.Predicate {
				if snap.Squashed == nil {
					snap.Squashed = make(map[model.Direction]bool)
				}
				snap.Squashed[ev.Direction] = true
			}
		}
	}

	// Causes sort for a deterministic result regardless of how the
	// backpressure events arrived.
	sort.Slice(snap.Causes, func(a, b int) bool {
		if snap.Causes[a].Type != snap.Causes[b].Type {
			return snap.Causes[a].Type < snap.Causes[b].Type
		}
		return snap.Causes[a].Reason < snap.Causes[b].Reason
	})

	switch {
	case blocked:
		snap.Status = Blocked
	case active:
		snap.Status = Executing
	}
	return snap
}
