package analysis

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/hooks"
	"github.com/gridtrace/gridtrace/pkg/replay"
)

const sampleTrace = `{"msg":"DataFlow","Time":0,"X":0,"Y":0,"Behavior":"Send","Direction":"East","Data":"5","Pred":true,"Src":"Node[0][0].Core.East","Dst":"Node[0][1].Core.West","TokenID":1}
{"msg":"DataFlow","Time":2,"X":1,"Y":0,"Behavior":"Recv","Direction":"West","Data":"5","Pred":true,"Src":"Node[0][0].Core.East","Dst":"Node[0][1].Core.West","TokenID":1}
{"msg":"InstExec","Time":2,"X":1,"Y":0,"OpCode":"ADD"}
{"msg":"Backpressure","Time":3,"X":1,"Y":0,"Reason":"fifo_full","Type":"CheckFlagsFailed"}
garbage line that is not an event
{"msg":"InstExec","Time":4,"X":0,"Y":0,"OpCode":"MUL"}`

func loadSample(t *testing.T) *Engine {
	t.Helper()
	eng := New(Options{TotalCycles: 10})
	if err := eng.Ingest(context.Background(), strings.NewReader(sampleTrace)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return eng
}

func TestIngestAndQuerySurface(t *testing.T) {
	eng := loadSample(t)

	if eng.Store().Len() != 5 {
		t.Errorf("events = %d, want 5", eng.Store().Len())
	}
	if got := eng.EventsAt(2); len(got) != 2 {
		t.Errorf("events@2 = %d", len(got))
	}
	if got := eng.EventsFor(model.Coord{X: 1, Y: 0}, 0, 10); len(got) != 3 {
		t.Errorf("events for (1,0) = %d", len(got))
	}

	// State queries.
	if snap := eng.StateOf(model.Coord{X: 1, Y: 0}, 2); snap.Status != replay.Executing {
		t.Errorf("(1,0)@2 = %v", snap.Status)
	}
	if snap := eng.StateOf(model.Coord{X: 1, Y: 0}, 3); snap.Status != replay.Blocked {
		t.Errorf("(1,0)@3 = %v", snap.Status)
	}

	// FIFO occupancy: pushed at 0, popped at 2.
	link := replay.LinkKey{
		Origin:    model.Tile(0, 0, model.East),
		Direction: model.East,
	}
	if got := eng.Pending(link, 1); len(got) != 1 || got[0] != "5" {
		t.Errorf("pending@1 = %v", got)
	}
	if got := eng.Pending(link, 2); len(got) != 0 {
		t.Errorf("pending@2 = %v", got)
	}

	// Token path preferred over graph search.
	hops := eng.TokenPath(1)
	if len(hops) != 2 || hops[0].Cycle != 0 || hops[1].Cycle != 2 {
		t.Errorf("token path = %v", hops)
	}

	// Graph trace.
	node, err := eng.ResolveNode("Node[0][1].Core.West", 2)
	if err != nil {
		t.Fatalf("ResolveNode failed: %v", err)
	}
	tr := eng.BackwardTrace(node, 0)
	if len(tr.Path) != 2 || tr.Truncated {
		t.Errorf("backward trace = %+v", tr)
	}

	// Aggregation: PE(1,0) active on cycle 2 only, out of 10.
	rep := eng.UtilizationReport()
	if got := rep.Utilization(model.Coord{X: 1, Y: 0}); got != 10.0 {
		t.Errorf("utilization = %v", got)
	}
	if rep.Reasons["fifo_full"] != 1 {
		t.Errorf("reasons = %v", rep.Reasons)
	}

	// Parse counters survive into the engine.
	if st := eng.ParseStats(); st.ParseFaults != 0 || st.EventsKept != 5 {
		t.Errorf("parse stats = %+v", st)
	}
}

func TestResolveNodeErrors(t *testing.T) {
	eng := loadSample(t)
	if _, err := eng.ResolveNode("not a node path", 0); err == nil {
		t.Error("bad grammar should error")
	}
	if _, err := eng.ResolveNode("Node[7][7].Core.East", 0); err == nil {
		t.Error("unknown node should error")
	}
}

func TestAppendExtendsDerivedModels(t *testing.T) {
	eng := loadSample(t)
	gen := eng.Store().Generation()

	extra := `{"msg":"InstExec","Time":9,"X":0,"Y":0,"OpCode":"DIV"}`
	if err := eng.Append(context.Background(), strings.NewReader(extra)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if eng.Store().Generation() == gen {
		t.Error("append should publish a new generation")
	}
	if eng.Store().Len() != 6 {
		t.Errorf("events = %d", eng.Store().Len())
	}

	// Aggregation reflects the appended cycle.
	rep := eng.UtilizationReport()
	if got := rep.Utilization(model.Coord{X: 0, Y: 0}); got != 30.0 {
		t.Errorf("utilization after append = %v, want 30.0", got)
	}

	// Appending nothing changes nothing.
	gen = eng.Store().Generation()
	if err := eng.Append(context.Background(), strings.NewReader("")); err != nil {
		t.Fatalf("empty append: %v", err)
	}
	if eng.Store().Generation() != gen {
		t.Error("empty append must not publish a generation")
	}
}

func TestIngestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := New(Options{})
	err := eng.Ingest(ctx, strings.NewReader(sampleTrace))
	if err == nil {
		t.Error("canceled ingest should fail")
	}
	if eng.Store().Len() != 0 {
		t.Errorf("canceled ingest published %d events", eng.Store().Len())
	}
}

// eofCancelReader cancels its context once the stream is exhausted,
// landing the cancellation between parsing and publication.
type eofCancelReader struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *eofCancelReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == io.EOF {
		c.cancel()
	}
	return n, err
}

func TestCancelledRebuildPublishesNothing(t *testing.T) {
	eng := loadSample(t)
	gen := eng.Store().Generation()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	next := `{"msg":"InstExec","Time":7,"X":0,"Y":0,"OpCode":"SUB"}` + "\n"
	err := eng.Ingest(ctx, &eofCancelReader{r: strings.NewReader(next), cancel: cancel})
	if err == nil {
		t.Fatal("cancelled ingest should fail")
	}

	// Store and derived models must still describe the same generation.
	if eng.Store().Generation() != gen {
		t.Error("cancelled ingest published a store generation")
	}
	if eng.Store().Len() != 5 {
		t.Errorf("events = %d, want 5", eng.Store().Len())
	}
	link := replay.LinkKey{
		Origin:    model.Tile(0, 0, model.East),
		Direction: model.East,
	}
	if got := eng.Pending(link, 1); len(got) != 1 {
		t.Errorf("pending = %v", got)
	}
	if got := eng.UtilizationReport().Utilization(model.Coord{X: 0, Y: 0}); got != 20.0 {
		t.Errorf("utilization = %v, want 20.0", got)
	}
}

func TestPostEventHooksFilterIngestion(t *testing.T) {
	mgr := hooks.NewHookManager()
	mgr.RegisterPostEvent(func(ctx context.Context, ev *model.Event) (*model.Event, error) {
		if ev.Kind == model.KindBackpressure {
			return nil, nil
		}
		return ev, nil
	})

	eng := New(Options{TotalCycles: 10, Hooks: mgr})
	if err := eng.Ingest(context.Background(), strings.NewReader(sampleTrace)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if eng.Store().Len() != 4 {
		t.Errorf("events = %d, want 4 after the hook drop", eng.Store().Len())
	}
	if got := eng.EventsAt(3); len(got) != 0 {
		t.Errorf("dropped event still stored: %v", got)
	}
	// The surviving events pass through untouched.
	if snap := eng.StateOf(model.Coord{X: 1, Y: 0}, 2); snap.Status != replay.Executing {
		t.Errorf("(1,0)@2 = %v", snap.Status)
	}
}

func TestEmptyEngine(t *testing.T) {
	eng := New(Options{})
	if got := eng.UtilizationReport(); got.TotalCycles != 0 {
		t.Errorf("empty total cycles = %d", got.TotalCycles)
	}
	if got := eng.Faults(); len(got) != 0 {
		t.Errorf("faults = %v", got)
	}
	if got := eng.Tokens(); len(got) != 0 {
		t.Errorf("tokens = %v", got)
	}
}
