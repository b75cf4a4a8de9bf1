package dataflow

import (
	"sort"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/store"
)

// Hop is one movement of a tracked datum.
type Hop struct {
	Cycle     int64
	PE        model.Coord
	HasPE     bool
	Behavior  model.Behavior
	Direction model.Direction
	Payload   string
}

// TokenIndex groups every event sharing a token identifier. Where
// tokens are present this resolves provenance exactly and supersedes
// graph tracing.
type TokenIndex struct {
	hops map[int64][]Hop
}

// BuildTokenIndex collects hops for every token in the trace,
// including port entries mined from snapshot records. Each token's
// hops sort ascending by cycle; the sort is stable so arrival order
// survives within a cycle even when input lines were out of order.
func BuildTokenIndex(st *store.Store) *TokenIndex {
	idx := &TokenIndex{hops: make(map[int64][]Hop)}

	collect := func(events []*model.Event) {
		for _, ev := range events {
			if !ev.HasToken {
				continue
			}
			idx.hops[ev.TokenID] = append(idx.hops[ev.TokenID], Hop{
				Cycle:     ev.Cycle,
				PE:        ev.PE,
				HasPE:     ev.HasPE,
				Behavior:  ev.Behavior,
				Direction: ev.Direction,
				Payload:   ev.Payload,
			})
		}
	}
	collect(st.EventsOfKind(model.KindDataFlow))
	collect(st.EventsOfKind(model.KindSnapshot))

	for id := range idx.hops {
		hops := idx.hops[id]
		sort.SliceStable(hops, func(a, b int) bool {
			return hops[a].Cycle < hops[b].Cycle
		})
	}
	return idx
}

// TokenPath returns the cycle-sorted hop sequence for one token, or
// nil when the id never appears.
func (idx *TokenIndex) TokenPath(tokenID int64) []Hop {
	return idx.hops[tokenID]
}

// Tokens returns every known token id in ascending order.
func (idx *TokenIndex) Tokens() []int64 {
	ids := make([]int64, 0, len(idx.hops))
	for id := range idx.hops {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// Len returns the number of distinct tokens indexed.
func (idx *TokenIndex) Len() int { return len(idx.hops) }
