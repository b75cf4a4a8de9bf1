// Package analysis ties the event store and its four derived models
// into one query surface. The Engine is what external collaborators
// (CLI console, exporters, HTTP server) talk to.
package analysis

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/dataflow"
	gterrors "github.com/gridtrace/gridtrace/pkg/errors"
	"github.com/gridtrace/gridtrace/pkg/hooks"
	"github.com/gridtrace/gridtrace/pkg/parser"
	"github.com/gridtrace/gridtrace/pkg/replay"
	"github.com/gridtrace/gridtrace/pkg/stats"
	"github.com/gridtrace/gridtrace/pkg/store"
)

// Options configure an Engine build.
type Options struct {
	Parser parser.Config

	// TotalCycles overrides the utilization denominator. Zero derives
	// it from the trace (max cycle + 1).
	TotalCycles int64

	// Hooks, when set, runs registered post-event hooks on every
	// normalized event before it reaches the store. A hook returning
	// nil drops the event.
	Hooks *hooks.HookManager
}

// Engine owns one store generation and the derived structures built
// from it. All query methods are safe for concurrent use; a rebuild
// produces a new derived set behind the struct's lock.
type Engine struct {
	opts Options

	mu            sync.RWMutex
	store         *store.Store
	reconstructor *replay.Reconstructor
	replayer      *replay.Replayer
	graph         *dataflow.Graph
	tokens        *dataflow.TokenIndex
	report        *stats.Report
	parseStats    parser.Stats
}

// New creates an engine over an empty store. Call Ingest or Rebuild to
// load a trace.
func New(opts Options) *Engine {
	eng := &Engine{opts: opts, store: store.New()}
	eng.mu.Lock()
	_ = eng.publishLocked(context.Background(), eng.store, parser.Stats{})
	eng.mu.Unlock()
	return eng
}

// Ingest parses a full trace stream, replaces the store contents, and
// rebuilds every derived model. Cancellation discards the partial
// result without publishing anything.
func (e *Engine) Ingest(ctx context.Context, r io.Reader) error {
	events, st, err := e.collect(ctx, r)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publishLocked(ctx, store.FromEvents(events), st)
}

// Append parses additional trace lines and extends the store,
// publishing a fresh generation with rebuilt derived models. Used by
// the live file watcher.
func (e *Engine) Append(ctx context.Context, r io.Reader) error {
	events, st, err := e.collect(ctx, r)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.store.Events()
	combined := make([]model.Event, 0, len(cur)+len(events))
	combined = append(combined, cur...)
	combined = append(combined, events...)

	merged := e.parseStats
	merged.LinesRead += st.LinesRead
	merged.EventsKept += st.EventsKept
	merged.ParseFaults += st.ParseFaults
	merged.MissingCoordinate += st.MissingCoordinate
	return e.publishLocked(ctx, store.FromEvents(combined), merged)
}

// collect drains the parser into a slice off-lock, applying any
// registered post-event hooks.
func (e *Engine) collect(ctx context.Context, r io.Reader) ([]model.Event, parser.Stats, error) {
	p := parser.NewJSONLNormalizer(e.opts.Parser)
	ch := make(chan *model.Event, 1024)

	var events []model.Event
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		return p.Parse(ctx, r, ch)
	})
	g.Go(func() error {
		for ev := range ch {
			if e.opts.Hooks != nil {
				kept, err := e.opts.Hooks.RunPostEvent(ctx, ev)
				if err != nil {
					return err
				}
				if kept == nil {
					continue
				}
				ev = kept
			}
			events = append(events, *ev)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, parser.Stats{}, gterrors.Wrap(err, gterrors.CodeParseFailed, "trace ingestion failed")
	}
	return events, p.Stats(), nil
}

// publishLocked builds every derived model against a staged store and
// swaps it in only once the whole set is ready. A cancelled build
// publishes nothing: the live store and derived models stay paired on
// the previous generation.
func (e *Engine) publishLocked(ctx context.Context, candidate *store.Store, st parser.Stats) error {
	var (
		replayer *replay.Replayer
		graph    *dataflow.Graph
		tokens   *dataflow.TokenIndex
		report   *stats.Report
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { replayer = replay.NewReplayer(candidate); return nil })
	g.Go(func() error { graph = dataflow.Build(candidate); return nil })
	g.Go(func() error { tokens = dataflow.BuildTokenIndex(candidate); return nil })
	g.Go(func() error { report = stats.Aggregate(candidate, e.opts.TotalCycles); return nil })
	if err := g.Wait(); err != nil {
		return gterrors.Wrap(err, gterrors.CodeRebuildFailed, "derived model rebuild failed")
	}

	if err := ctx.Err(); err != nil {
		// Canceled mid-build: discard the staged generation entirely.
		return gterrors.ContextCanceled("rebuild")
	}

	e.store.Adopt(candidate)
	e.parseStats = st
	e.reconstructor = replay.NewReconstructor(e.store)
	e.replayer = replayer
	e.graph = graph
	e.tokens = tokens
	e.report = report
	return nil
}

// Store exposes the underlying event store for direct index queries.
func (e *Engine) Store() *store.Store { return e.store }

// ParseStats returns the fault counters from the last ingestion.
func (e *Engine) ParseStats() parser.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parseStats
}

// EventsAt returns every event in one cycle, in arrival order.
func (e *Engine) EventsAt(cycle int64) []*model.Event {
	return e.store.EventsAt(cycle)
}

// EventsFor returns one PE's events in a cycle range.
func (e *Engine) EventsFor(pe model.Coord, from, to int64) []*model.Event {
	return e.store.EventsFor(pe, from, to)
}

// StateOf returns the merged state snapshot for (pe, cycle).
func (e *Engine) StateOf(pe model.Coord, cycle int64) *replay.Snapshot {
	e.mu.RLock()
	rec := e.reconstructor
	e.mu.RUnlock()
	return rec.StateOf(pe, cycle)
}

// Pending returns a link's in-flight payloads at a cycle, oldest first.
func (e *Engine) Pending(link replay.LinkKey, cycle int64) []string {
	e.mu.RLock()
	rep := e.replayer
	e.mu.RUnlock()
	return rep.Pending(link, cycle)
}

// Links lists every link seen in the trace.
func (e *Engine) Links() []replay.LinkKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.replayer.Links()
}

// BackwardTrace walks provenance upstream from a sink node.
func (e *Engine) BackwardTrace(sink dataflow.Node, maxDepth int) dataflow.Trace {
	e.mu.RLock()
	g := e.graph
	e.mu.RUnlock()
	return g.BackwardTrace(sink, maxDepth)
}

// ForwardTrace walks downstream from a source node.
func (e *Engine) ForwardTrace(source dataflow.Node, maxDepth int) dataflow.Trace {
	e.mu.RLock()
	g := e.graph
	e.mu.RUnlock()
	return g.ForwardTrace(source, maxDepth)
}

// ResolveNode maps a node path and cycle onto a graph vertex. It
// returns a coded not-found error for names the graph never saw.
func (e *Engine) ResolveNode(path string, cycle int64) (dataflow.Node, error) {
	if _, ok := model.ParseNodeRef(path); !ok {
		return dataflow.Node{}, gterrors.BadNodePath(path)
	}
	e.mu.RLock()
	g := e.graph
	e.mu.RUnlock()
	node, ok := g.Resolve(path, cycle)
	if !ok {
		return dataflow.Node{}, gterrors.NotFound("node", path)
	}
	return node, nil
}

// TokenPath returns the exact hop sequence for a token id, preferred
// over graph tracing whenever the trace carries token identifiers.
func (e *Engine) TokenPath(tokenID int64) []dataflow.Hop {
	e.mu.RLock()
	idx := e.tokens
	e.mu.RUnlock()
	return idx.TokenPath(tokenID)
}

// Tokens lists every token id in the trace.
func (e *Engine) Tokens() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tokens.Tokens()
}

// UtilizationReport returns the per-PE activity aggregation.
func (e *Engine) UtilizationReport() *stats.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.report
}

// Faults returns every FIFO integrity error recorded during replay.
func (e *Engine) Faults() []replay.IntegrityError {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.replayer.Faults()
}
