package replay

import (
	"fmt"
	"sort"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/store"
)

// LinkKey identifies one FIFO channel: the sending endpoint, the port
// it sends through, and the virtual channel index.
type LinkKey struct {
	Origin    model.NodeRef
	Direction model.Direction
	Channel   int
}

// String renders the key the way link queries are written.
func (k LinkKey) String() string {
	return fmt.Sprintf("%s#%d", k.Origin.String(), k.Channel)
}

// IntegrityError records a pop against an empty FIFO. The trace claimed
// a receive with nothing in flight; the pop is skipped and the replay
// continues.
type IntegrityError struct {
	Cycle int64
	Link  LinkKey
	Seq   int
}

// Error implements the error interface.
func (e IntegrityError) Error() string {
	return fmt.Sprintf("replay: pop from empty link %s at cycle %d", e.Link, e.Cycle)
}

// checkpoint memoizes FIFO occupancy after each replayed op so point
// queries resolve with a binary search instead of a re-replay.
type checkpoint struct {
	cycle  int64
	pushed int
	popped int
}

// linkLog is the replayed history of one link.
type linkLog struct {
	payloads []string // every pushed payload, in replay order
	steps    []checkpoint
}

// Replayer holds the fully replayed FIFO history of every link in the
// trace. Built once per store generation; queries are read-only.
type Replayer struct {
	links   map[LinkKey]*linkLog
	faults  []IntegrityError
	unkeyed int
}

type linkOp struct {
	ev   *model.Event
	push bool
	key  LinkKey
	seq  int // arrival order tiebreak
}

// NewReplayer partitions the store's dataflow events per link and
// replays each link's subsequence. Ops replay in cycle order with
// arrival order breaking ties, so the result is stable across rebuilds.
func NewReplayer(st *store.Store) *Replayer {
	r := &Replayer{links: make(map[LinkKey]*linkLog)}
	w, h := st.GridSize()

	var ops []linkOp
	for seq, ev := range st.EventsOfKind(model.KindDataFlow) {
		push := ev.Behavior.IsPush()
		if !push && !ev.Behavior.IsPop() {
			continue
		}
		key, ok := linkOf(ev, w, h)
		if !ok {
			r.unkeyed++
			continue
		}
		ops = append(ops, linkOp{ev: ev, push: push, key: key, seq: seq})
	}

	sort.SliceStable(ops, func(a, b int) bool {
		if ops[a].ev.Cycle != ops[b].ev.Cycle {
			return ops[a].ev.Cycle < ops[b].ev.Cycle
		}
		return ops[a].seq < ops[b].seq
	})

	for _, op := range ops {
		log := r.links[op.key]
		if log == nil {
			log = &linkLog{}
			r.links[op.key] = log
		}
		pushed, popped := 0, 0
		if n := len(log.steps); n > 0 {
			pushed = log.steps[n-1].pushed
			popped = log.steps[n-1].popped
		}
		if op.push {
			log.payloads = append(log.payloads, op.ev.Payload)
			pushed++
		} else {
			if popped >= pushed {
				r.faults = append(r.faults, IntegrityError{
					Cycle: op.ev.Cycle,
					Link:  op.key,
					Seq:   len(r.faults) + 1,
				})
				continue
			}
			popped++
		}
		log.steps = append(log.steps, checkpoint{
			cycle:  op.ev.Cycle,
			pushed: pushed,
			popped: popped,
		})
	}
	return r
}

// Pending returns the payloads still in flight on a link after all of
// its ops with cycle <= the requested cycle, oldest first. The returned
// slice aliases the link's payload log and must not be mutated.
func (r *Replayer) Pending(link LinkKey, cycle int64) []string {
	log := r.links[link]
	if log == nil {
		return nil
	}
	// Last checkpoint at or before the requested cycle.
	i := sort.Search(len(log.steps), func(i int) bool {
		return log.steps[i].cycle > cycle
	})
	if i == 0 {
		return nil
	}
	cp := log.steps[i-1]
	if cp.popped >= cp.pushed {
		return nil
	}
	return log.payloads[cp.popped:cp.pushed]
}

// Depth returns the number of in-flight payloads on a link at a cycle.
func (r *Replayer) Depth(link LinkKey, cycle int64) int {
	return len(r.Pending(link, cycle))
}

// Links returns every link seen in the trace, sorted for stable output.
func (r *Replayer) Links() []LinkKey {
	keys := make([]LinkKey, 0, len(r.links))
	for k := range r.links {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].Origin.String() != keys[b].Origin.String() {
			return keys[a].Origin.String() < keys[b].Origin.String()
		}
		return keys[a].Channel < keys[b].Channel
	})
	return keys
}

// Faults returns every empty-pop integrity error, in replay order.
func (r *Replayer) Faults() []IntegrityError { return r.faults }

// Unkeyed returns the number of dataflow ops that named no resolvable
// link and were excluded from replay.
func (r *Replayer) Unkeyed() int { return r.unkeyed }

// linkOf resolves the link an op belongs to. Pushes key by the sending
// endpoint directly; pops name the sender explicitly or, for tile
// receives, imply it through grid adjacency.
func linkOf(ev *model.Event, gridW, gridH int) (LinkKey, bool) {
	key := LinkKey{Channel: ev.Channel}

	if ev.Behavior.IsPush() {
		if !ev.Origin.IsZero() {
			key.Origin = ev.Origin
			key.Direction = pushDirection(ev)
			if key.Origin.Class == model.NodeTile && key.Origin.Port == model.DirNone {
				key.Origin.Port = key.Direction
			}
			return key, key.Direction != model.DirNone || key.Origin.Class == model.NodeDriver
		}
		if !ev.HasPE || ev.Direction == model.DirNone {
			return LinkKey{}, false
		}
		switch ev.Behavior {
		case model.Send:
			key.Origin = model.Tile(ev.PE.Y, ev.PE.X, ev.Direction)
			key.Direction = ev.Direction
		case model.FeedIn:
			// A FeedIn into a tile port comes from the boundary driver
			// facing that port.
			key.Origin = driverFacing(ev.PE, ev.Direction)
			key.Direction = ev.Direction
		default:
			return LinkKey{}, false
		}
		return key, true
	}

	// Pop side: resolve the sender.
	if !ev.Origin.IsZero() {
		key.Origin = ev.Origin
		key.Direction = pushDirection(ev)
		if key.Origin.Class == model.NodeTile && key.Origin.Port == model.DirNone {
			key.Origin.Port = key.Direction
		}
		return key, true
	}

	switch ev.Behavior {
	case model.Receive:
		if !ev.HasPE || ev.Direction == model.DirNone {
			return LinkKey{}, false
		}
		from, ok := neighbor(ev.PE, ev.Direction, gridW, gridH)
		if !ok {
			// Receiving on a boundary-facing port means the sender is
			// the driver on that side.
			key.Origin = driverFacing(ev.PE, ev.Direction)
			key.Direction = ev.Direction
			return key, true
		}
		sendDir := opposite(ev.Direction)
		key.Origin = model.Tile(from.Y, from.X, sendDir)
		key.Direction = sendDir
		return key, true

	case model.Collect:
		// A driver collect drains the boundary tile facing it.
		if ev.Dest.Class != model.NodeDriver {
			return LinkKey{}, false
		}
		tile, ok := boundaryTile(ev.Dest, gridW, gridH)
		if !ok {
			return LinkKey{}, false
		}
		key.Origin = tile
		key.Direction = tile.Port
		return key, true
	}
	return LinkKey{}, false
}

// pushDirection is the sender-side port of an op. Pops carry the
// receive-side direction, which mirrors the send port.
func pushDirection(ev *model.Event) model.Direction {
	if ev.Origin.Class == model.NodeTile && ev.Origin.Port != model.DirNone {
		return ev.Origin.Port
	}
	if ev.Behavior.IsPop() && ev.Origin.Class == model.NodeTile {
		return opposite(ev.Direction)
	}
	return ev.Direction
}

func opposite(d model.Direction) model.Direction {
	switch d {
	case model.North:
		return model.South
	case model.South:
		return model.North
	case model.East:
		return model.West
	case model.West:
		return model.East
	default:
		return model.DirNone
	}
}

// neighbor returns the tile adjacent to pe in the given direction, or
// false when the step leaves the grid. Y grows southward.
func neighbor(pe model.Coord, d model.Direction, gridW, gridH int) (model.Coord, bool) {
	n := pe
	switch d {
	case model.North:
		n.Y--
	case model.South:
		n.Y++
	case model.East:
		n.X++
	case model.West:
		n.X--
	default:
		return model.Coord{}, false
	}
	if n.X < 0 || n.Y < 0 || (gridW > 0 && n.X >= gridW) || (gridH > 0 && n.Y >= gridH) {
		return model.Coord{}, false
	}
	return n, true
}

// driverFacing returns the boundary driver that feeds the given tile
// port. East/West drivers index by row, North/South by column.
func driverFacing(pe model.Coord, port model.Direction) model.NodeRef {
	switch port {
	case model.East, model.West:
		return model.Driver(port, pe.Y)
	default:
		return model.Driver(port, pe.X)
	}
}

// boundaryTile returns the grid tile whose outward port faces the given
// driver.
func boundaryTile(drv model.NodeRef, gridW, gridH int) (model.NodeRef, bool) {
	if gridW == 0 || gridH == 0 {
		return model.NodeRef{}, false
	}
	switch drv.Side {
	case model.West:
		return model.Tile(drv.Index, 0, model.West), true
	case model.East:
		return model.Tile(drv.Index, gridW-1, model.East), true
	case model.North:
		return model.Tile(0, drv.Index, model.North), true
	case model.South:
		return model.Tile(gridH-1, drv.Index, model.South), true
	}
	return model.NodeRef{}, false
}
