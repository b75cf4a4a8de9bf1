package store

import (
	"reflect"
	"testing"

	"github.com/gridtrace/gridtrace/internal/model"
)

func exec(cycle int64, x, y int, opcode string) model.Event {
	return model.Event{
		Cycle:  cycle,
		PE:     model.Coord{X: x, Y: y},
		HasPE:  true,
		Kind:   model.KindExecution,
		Opcode: opcode,
	}
}

func testEvents() []model.Event {
	return []model.Event{
		exec(0, 0, 0, "ADD"),
		exec(0, 1, 0, "MUL"),
		exec(1, 0, 0, "SUB"),
		exec(3, 0, 0, "ADD"),
		exec(3, 0, 0, "NOP"),
		{Cycle: 2, Kind: model.KindBackpressure, Reason: "stall"},
	}
}

func TestEmptyStore(t *testing.T) {
	s := New()
	if s.Len() != 0 {
		t.Errorf("Len = %d", s.Len())
	}
	if s.MaxCycle() != -1 {
		t.Errorf("MaxCycle = %d, want -1 for empty store", s.MaxCycle())
	}
	if got := s.EventsAt(0); got != nil {
		t.Errorf("EventsAt(0) = %v", got)
	}
	if w, h := s.GridSize(); w != 0 || h != 0 {
		t.Errorf("GridSize = %d,%d", w, h)
	}
}

func TestEventsAtKeepsArrivalOrder(t *testing.T) {
	s := FromEvents(testEvents())
	at3 := s.EventsAt(3)
	if len(at3) != 2 {
		t.Fatalf("got %d events at cycle 3", len(at3))
	}
	if at3[0].Opcode != "ADD" || at3[1].Opcode != "NOP" {
		t.Errorf("arrival order violated: %q, %q", at3[0].Opcode, at3[1].Opcode)
	}
}

func TestEventsForRange(t *testing.T) {
	s := FromEvents(testEvents())
	pe := model.Coord{X: 0, Y: 0}

	got := s.EventsFor(pe, 0, 1)
	if len(got) != 2 {
		t.Fatalf("range [0,1]: got %d events", len(got))
	}
	if got[0].Opcode != "ADD" || got[1].Opcode != "SUB" {
		t.Errorf("range order: %q, %q", got[0].Opcode, got[1].Opcode)
	}

	if got := s.EventsFor(pe, 2, 2); len(got) != 0 {
		t.Errorf("range [2,2]: got %d events, want 0", len(got))
	}
	if got := s.EventsFor(pe, 5, 1); got != nil {
		t.Errorf("inverted range should be nil, got %v", got)
	}
	if got := s.EventsFor(model.Coord{X: 9, Y: 9}, 0, 10); got != nil {
		t.Errorf("unknown PE should be nil, got %v", got)
	}
}

func TestEventsOfKind(t *testing.T) {
	s := FromEvents(testEvents())
	if got := s.EventsOfKind(model.KindBackpressure); len(got) != 1 || got[0].Reason != "stall" {
		t.Errorf("backpressure events = %v", got)
	}
	if got := s.EventsOfKind(model.KindExecution); len(got) != 5 {
		t.Errorf("execution events = %d", len(got))
	}
}

func TestKindAt(t *testing.T) {
	s := FromEvents(testEvents())
	got := s.KindAt(model.KindExecution, 3, model.Coord{X: 0, Y: 0})
	if len(got) != 2 {
		t.Errorf("KindAt = %d events", len(got))
	}
}

func TestRebuildIdempotence(t *testing.T) {
	a := FromEvents(testEvents())
	b := FromEvents(testEvents())

	if a.Len() != b.Len() || a.MaxCycle() != b.MaxCycle() || a.PECount() != b.PECount() {
		t.Fatal("rebuilt stores disagree on basic counters")
	}
	if !reflect.DeepEqual(a.PEs(), b.PEs()) {
		t.Errorf("PEs differ: %v vs %v", a.PEs(), b.PEs())
	}
	for cycle := int64(0); cycle <= a.MaxCycle(); cycle++ {
		ae, be := a.EventsAt(cycle), b.EventsAt(cycle)
		if len(ae) != len(be) {
			t.Fatalf("cycle %d: %d vs %d events", cycle, len(ae), len(be))
		}
		for i := range ae {
			if *ae[i] != *be[i] {
				t.Errorf("cycle %d event %d differs", cycle, i)
			}
		}
	}
}

func TestAppendPublishesNewGeneration(t *testing.T) {
	s := FromEvents(testEvents())
	gen1 := s.Generation()

	s.Append([]model.Event{exec(5, 1, 1, "DIV")})
	gen2 := s.Generation()

	if gen1 == gen2 {
		t.Error("append should publish a new generation id")
	}
	if s.Len() != 7 {
		t.Errorf("Len = %d", s.Len())
	}
	if s.MaxCycle() != 5 {
		t.Errorf("MaxCycle = %d", s.MaxCycle())
	}
	if got := s.EventsFor(model.Coord{X: 1, Y: 1}, 5, 5); len(got) != 1 {
		t.Errorf("appended event not indexed: %v", got)
	}

	// Empty append is a no-op.
	s.Append(nil)
	if s.Generation() != gen2 {
		t.Error("empty append must not publish a generation")
	}
}

func TestReplaceDiscardsOldEvents(t *testing.T) {
	s := FromEvents(testEvents())
	s.Replace([]model.Event{exec(0, 2, 2, "XOR")})
	if s.Len() != 1 {
		t.Errorf("Len = %d after replace", s.Len())
	}
	if got := s.EventsFor(model.Coord{X: 0, Y: 0}, 0, 10); got != nil {
		t.Errorf("old PE still indexed: %v", got)
	}
}

func TestAdoptPublishesStagedGeneration(t *testing.T) {
	live := FromEvents(testEvents())
	staged := FromEvents([]model.Event{exec(9, 1, 1, "NOP")})

	live.Adopt(staged)
	if live.Generation() != staged.Generation() {
		t.Error("live store should carry the staged generation id")
	}
	if live.Len() != 1 {
		t.Errorf("Len = %d after adopt", live.Len())
	}
	if got := live.EventsAt(9); len(got) != 1 || got[0].Opcode != "NOP" {
		t.Errorf("adopted events = %v", got)
	}
}

func TestGridSizeInference(t *testing.T) {
	s := FromEvents([]model.Event{
		exec(0, 0, 0, "A"),
		exec(0, 3, 1, "B"),
	})
	w, h := s.GridSize()
	if w != 4 || h != 2 {
		t.Errorf("GridSize = %d,%d, want 4,2", w, h)
	}
}

func TestValueIndexLookups(t *testing.T) {
	events := []model.Event{
		exec(0, 0, 0, "ADD"),
		exec(1, 0, 0, "ADD"),
		exec(2, 0, 0, "MUL"),
		{Cycle: 3, Kind: model.KindBackpressure, Reason: "fifo_full", BPType: "CheckFlagsFailed"},
	}
	s := FromEvents(events)
	idx := s.Values()

	if got := idx.Lookup(ColOpcode, "ADD").GetCardinality(); got != 2 {
		t.Errorf("ADD positions = %d", got)
	}
	if got := idx.Lookup(ColOpcode, "DIV").GetCardinality(); got != 0 {
		t.Errorf("missing value should be empty, got %d", got)
	}
	if got := idx.Cardinality(ColOpcode); got != 2 {
		t.Errorf("distinct opcodes = %d", got)
	}

	and := idx.LookupAnd(map[string]string{
		ColKind:   "Backpressure",
		ColReason: "fifo_full",
	})
	if and.GetCardinality() != 1 || !and.Contains(3) {
		t.Errorf("AND lookup = %v", and.ToArray())
	}

	or := idx.LookupOr(map[string]string{
		ColOpcode: "MUL",
		ColBPType: "CheckFlagsFailed",
	})
	if or.GetCardinality() != 2 {
		t.Errorf("OR lookup = %v", or.ToArray())
	}
}
