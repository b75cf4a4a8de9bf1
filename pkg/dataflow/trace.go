package dataflow

// DefaultMaxDepth bounds both trace directions when the caller does
// not pass a limit.
const DefaultMaxDepth = 50

// Trace is the result of a backward or forward traversal. Truncated is
// set when the walk stopped on the depth bound or the cycle guard
// rather than running out of edges; the path is still valid as far as
// it goes.
type Trace struct {
	Path      []Node
	Truncated bool
}

// BackwardTrace walks provenance upstream from sink: at each step it
// follows the first-recorded incoming edge to its origin and prepends
// that origin to the path. When several incoming edges exist the first
// recorded one is taken, which is an approximation; token paths should
// be preferred when the trace carries token identifiers. A sink with
// no incoming edges yields exactly [sink].
func (g *Graph) BackwardTrace(sink Node, maxDepth int) Trace {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	path := []Node{sink}
	visited := map[Node]struct{}{sink: {}}
	cur := sink

	for depth := 0; ; depth++ {
		if depth >= maxDepth {
			return Trace{Path: path, Truncated: true}
		}
		in := g.incoming[cur]
		if len(in) == 0 {
			return Trace{Path: path}
		}
		next := in[0].From
		if _, loop := visited[next]; loop {
			return Trace{Path: path, Truncated: true}
		}
		visited[next] = struct{}{}
		path = append([]Node{next}, path...)
		cur = next
	}
}

// ForwardTrace walks downstream from source breadth-first over
// outgoing edges, returning nodes in discovery order. The same depth
// bound and cycle guard apply as for BackwardTrace.
func (g *Graph) ForwardTrace(source Node, maxDepth int) Trace {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	type queued struct {
		node  Node
		depth int
	}

	path := []Node{source}
	visited := map[Node]struct{}{source: {}}
	queue := []queued{{node: source}}
	truncated := false

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxDepth {
			// Only an unvisited successor means the walk was cut short.
			for _, edge := range g.outgoing[cur.node] {
				if _, dup := visited[edge.To]; !dup {
					truncated = true
					break
				}
			}
			continue
		}
		for _, edge := range g.outgoing[cur.node] {
			next := edge.To
			if _, dup := visited[next]; dup {
				continue
			}
			visited[next] = struct{}{}
			path = append(path, next)
			queue = append(queue, queued{node: next, depth: cur.depth + 1})
		}
	}
	return Trace{Path: path, Truncated: truncated}
}
