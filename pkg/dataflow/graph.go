// Package dataflow builds a provenance graph over the trace's transfer
// events and answers backward/forward trace queries over it. Token
// paths resolve provenance exactly and should be preferred whenever
// the trace carries token identifiers; graph tracing is the fallback
// for older formats.
package dataflow

import (
	"fmt"
	"sort"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/store"
)

// Node is one vertex of the provenance graph: a named endpoint at a
// specific cycle on a specific port and channel.
type Node struct {
	Cycle     int64
	Name      string
	Direction model.Direction
	Channel   int
}

// String renders the node for display and query echo.
func (n Node) String() string {
	if n.Direction == model.DirNone {
		return fmt.Sprintf("%s@%d#%d", n.Name, n.Cycle, n.Channel)
	}
	return fmt.Sprintf("%s.%s@%d#%d", n.Name, n.Direction, n.Cycle, n.Channel)
}

// Edge is one recorded transfer between two graph nodes.
type Edge struct {
	From     Node
	To       Node
	Behavior model.Behavior
	Payload  string
}

// Graph holds the adjacency tables built once from the store. Edge
// lists keep recording order; "first recorded" is a stable notion.
type Graph struct {
	incoming map[Node][]Edge
	outgoing map[Node][]Edge
	byName   map[string][]Node // every node mentioning a name, cycle-sorted
}

// Build records one edge per DataFlow event that names both of its
// endpoints explicitly. Events missing either end contribute nothing.
func Build(st *store.Store) *Graph {
	g := &Graph{
		incoming: make(map[Node][]Edge),
		outgoing: make(map[Node][]Edge),
		byName:   make(map[string][]Node),
	}

	seen := make(map[Node]struct{})
	record := func(n Node) {
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		g.byName[n.Name] = append(g.byName[n.Name], n)
	}

	for _, ev := range st.EventsOfKind(model.KindDataFlow) {
		if ev.Origin.IsZero() || ev.Dest.IsZero() {
			continue
		}
		from := Node{
			Cycle:     ev.Cycle,
			Name:      ev.Origin.String(),
			Direction: ev.Direction,
			Channel:   ev.Channel,
		}
		to := Node{
			Cycle:     ev.Cycle,
			Name:      ev.Dest.String(),
			Direction: ev.Direction,
			Channel:   ev.Channel,
		}
		edge := Edge{From: from, To: to, Behavior: ev.Behavior, Payload: ev.Payload}
		g.outgoing[from] = append(g.outgoing[from], edge)
		g.incoming[to] = append(g.incoming[to], edge)
		record(from)
		record(to)
	}

	for name := range g.byName {
		nodes := g.byName[name]
		sort.SliceStable(nodes, func(a, b int) bool {
			return nodes[a].Cycle < nodes[b].Cycle
		})
	}
	return g
}

// Incoming returns the recorded edges arriving at a node, in recording
// order.
func (g *Graph) Incoming(n Node) []Edge { return g.incoming[n] }

// Outgoing returns the recorded edges leaving a node, in recording
// order.
func (g *Graph) Outgoing(n Node) []Edge { return g.outgoing[n] }

// EdgeCount returns the number of recorded edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, edges := range g.outgoing {
		total += len(edges)
	}
	return total
}

// NodeCount returns the number of distinct graph nodes.
func (g *Graph) NodeCount() int {
	total := 0
	for _, nodes := range g.byName {
		total += len(nodes)
	}
	return total
}

// NodesNamed returns every graph node carrying the given endpoint name,
// sorted ascending by cycle. Used to resolve query text like
// "Node[0][1].Core.East" into concrete vertices.
func (g *Graph) NodesNamed(name string) []Node { return g.byName[name] }

// Resolve finds the node for a named endpoint at or nearest below the
// given cycle. A negative cycle selects the latest occurrence. The
// boolean result is false when the name never appears in the graph.
func (g *Graph) Resolve(name string, cycle int64) (Node, bool) {
	nodes := g.byName[name]
	if len(nodes) == 0 {
		return Node{}, false
	}
	if cycle < 0 {
		return nodes[len(nodes)-1], true
	}
	i := sort.Search(len(nodes), func(i int) bool {
		return nodes[i].Cycle > cycle
	})
	if i == 0 {
		return nodes[0], true
	}
	return nodes[i-1], true
}
