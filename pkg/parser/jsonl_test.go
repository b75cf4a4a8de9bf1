package parser

import (
	"context"
	"strings"
	"testing"

	"github.com/gridtrace/gridtrace/internal/model"
)

func parseAll(t *testing.T, input string) ([]*model.Event, Stats) {
	t.Helper()
	p := NewJSONLNormalizer(DefaultConfig())
	ch := make(chan *model.Event, 256)
	done := make(chan []*model.Event)
	go func() {
		var events []*model.Event
		for ev := range ch {
			events = append(events, ev)
		}
		done <- events
	}()

	if err := p.Parse(context.Background(), strings.NewReader(input), ch); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	close(ch)
	return <-done, p.Stats()
}

func TestParseExecutionEvent(t *testing.T) {
	events, st := parseAll(t, `{"msg":"InstExec","Time":5,"X":1,"Y":2,"OpCode":"ADD"}`)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != model.KindExecution {
		t.Errorf("kind = %v", ev.Kind)
	}
	if ev.Cycle != 5 {
		t.Errorf("cycle = %d", ev.Cycle)
	}
	if !ev.HasPE || ev.PE != (model.Coord{X: 1, Y: 2}) {
		t.Errorf("pe = %+v hasPE=%v", ev.PE, ev.HasPE)
	}
	if ev.Opcode != "ADD" {
		t.Errorf("opcode = %q", ev.Opcode)
	}
	if st.ParseFaults != 0 {
		t.Errorf("parse faults = %d", st.ParseFaults)
	}
}

func TestCycleFieldSynonyms(t *testing.T) {
	input := `{"msg":"InstExec","Time":3,"X":0,"Y":0}
{"msg":"InstExec","cycle":7,"X":0,"Y":0}`
	events, _ := parseAll(t, input)
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Cycle != 3 || events[1].Cycle != 7 {
		t.Errorf("cycles = %d, %d", events[0].Cycle, events[1].Cycle)
	}
}

func TestFractionalCycleRounds(t *testing.T) {
	events, _ := parseAll(t, `{"msg":"InstExec","Time":4.6,"X":0,"Y":0}`)
	if len(events) != 1 || events[0].Cycle != 5 {
		t.Fatalf("fractional cycle should round, got %+v", events)
	}
}

func TestMalformedLinesSkippedAndCounted(t *testing.T) {
	input := `{"msg":"InstExec","Time":1,"X":0,"Y":0}
{this is not json
{"msg":"InstExec"}
{"msg":"NoSuchKind","Time":2}
{"msg":"InstExec","Time":-3,"X":0,"Y":0}
{"msg":"InstExec","Time":2,"X":0,"Y":0}`
	events, st := parseAll(t, input)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// Bad JSON, missing cycle, unknown kind, negative cycle.
	if st.ParseFaults != 4 {
		t.Errorf("parse faults = %d, want 4", st.ParseFaults)
	}
}

func TestNonEventLinesIgnored(t *testing.T) {
	input := `simulation started at 10:00

[INFO] warming up
{"msg":"InstExec","Time":1,"X":0,"Y":0}`
	events, st := parseAll(t, input)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	// Prose lines are ignored silently, not counted as faults.
	if st.ParseFaults != 0 {
		t.Errorf("parse faults = %d", st.ParseFaults)
	}
}

func TestDataFlowEventFields(t *testing.T) {
	input := `{"msg":"DataFlow","Time":9,"X":0,"Y":1,"Behavior":"Send","Direction":"East","Data":42,"Pred":true,"Color":1,"TokenID":77}`
	events, _ := parseAll(t, input)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev.Behavior != model.Send || ev.Direction != model.East {
		t.Errorf("behavior/direction = %v/%v", ev.Behavior, ev.Direction)
	}
	if ev.Payload != "42" {
		t.Errorf("payload = %q", ev.Payload)
	}
	if ev.Channel != 1 {
		t.Errorf("channel = %d", ev.Channel)
	}
	if !ev.HasToken || ev.TokenID != 77 {
		t.Errorf("token = %d hasToken=%v", ev.TokenID, ev.HasToken)
	}
}

func TestCoordinateFromNodePath(t *testing.T) {
	input := `{"msg":"DataFlow","Time":2,"Behavior":"Send","Direction":"East","Src":"Node[1][0].Core.East","Dst":"Node[1][1].Core.West"}`
	events, st := parseAll(t, input)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if !ev.HasPE {
		t.Fatal("coordinate should resolve from the origin path")
	}
	// Node[row][col]: row 1 is Y, col 0 is X.
	if ev.PE != (model.Coord{X: 0, Y: 1}) {
		t.Errorf("pe = %+v", ev.PE)
	}
	if ev.Origin != model.Tile(1, 0, model.East) {
		t.Errorf("origin = %+v", ev.Origin)
	}
	if ev.Dest != model.Tile(1, 1, model.West) {
		t.Errorf("dest = %+v", ev.Dest)
	}
	if st.MissingCoordinate != 0 {
		t.Errorf("missing coordinate = %d", st.MissingCoordinate)
	}
}

func TestMissingCoordinateCounted(t *testing.T) {
	input := `{"msg":"Backpressure","Time":1,"Reason":"stall"}`
	events, st := parseAll(t, input)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].HasPE {
		t.Error("event should have no PE")
	}
	if st.MissingCoordinate != 1 {
		t.Errorf("missing coordinate = %d", st.MissingCoordinate)
	}
}

func TestCollectLegacyDriverEndpoint(t *testing.T) {
	input := `{"msg":"DataFlow","Time":4,"X":0,"Y":2,"Behavior":"Collect","Direction":"West","From":"Driver.NodeWest[2]"}`
	events, _ := parseAll(t, input)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	// Legacy Collect records name their driver destination in the
	// origin slot; the normalizer moves it.
	if !ev.Origin.IsZero() {
		t.Errorf("origin should be absent, got %+v", ev.Origin)
	}
	if ev.Dest != model.Driver(model.West, 2) {
		t.Errorf("dest = %+v", ev.Dest)
	}
}

func TestSnapshotFansOutPerPort(t *testing.T) {
	input := `{"msg":"PEState","state":{"time":6,"x":1,"y":1,"inputs":[{"direction":"West","data":"10","token_id":5}],"outputs":[{"direction":"East","data":"11","token_id":5},{"direction":"South","data":"12"}]}}`
	events, _ := parseAll(t, input)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for _, ev := range events {
		if ev.Kind != model.KindSnapshot {
			t.Errorf("kind = %v", ev.Kind)
		}
		if ev.Cycle != 6 {
			t.Errorf("cycle = %d", ev.Cycle)
		}
		if !ev.HasPE || ev.PE != (model.Coord{X: 1, Y: 1}) {
			t.Errorf("pe = %+v", ev.PE)
		}
	}
	if events[0].Behavior != model.Receive || events[0].Direction != model.West {
		t.Errorf("input port = %v/%v", events[0].Behavior, events[0].Direction)
	}
	if events[1].Behavior != model.Send || events[1].Direction != model.East {
		t.Errorf("output port = %v/%v", events[1].Behavior, events[1].Direction)
	}
	if !events[0].HasToken || events[0].TokenID != 5 {
		t.Errorf("token = %d", events[0].TokenID)
	}
	if events[2].HasToken {
		t.Error("port without token_id should have no token")
	}
}

func parseAllWith(t *testing.T, cfg Config, input string) ([]*model.Event, Stats) {
	t.Helper()
	p := NewJSONLNormalizer(cfg)
	ch := make(chan *model.Event, 256)
	done := make(chan []*model.Event)
	go func() {
		var events []*model.Event
		for ev := range ch {
			events = append(events, ev)
		}
		done <- events
	}()

	if err := p.Parse(context.Background(), strings.NewReader(input), ch); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	close(ch)
	return <-done, p.Stats()
}

func TestOversizedLineSkippedAndCounted(t *testing.T) {
	big := `{"msg":"InstExec","Time":1,"X":0,"Y":0,"OpCode":"` + strings.Repeat("A", 180) + `"}`
	input := big + "\n" + `{"msg":"InstExec","Time":2,"X":0,"Y":0,"OpCode":"ADD"}`

	events, st := parseAllWith(t, Config{BufferSize: 64 * 1024, MaxLineSize: 128}, input)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Opcode != "ADD" {
		t.Errorf("surviving event = %+v", events[0])
	}
	if st.ParseFaults != 1 {
		t.Errorf("parse faults = %d, want 1", st.ParseFaults)
	}
	if st.EventsKept != 1 {
		t.Errorf("events kept = %d, want 1", st.EventsKept)
	}
}

func TestOversizedLineSpanningBufferReads(t *testing.T) {
	// The oversized record is many times the read buffer, so the
	// normalizer must resynchronize across several partial reads.
	big := `{"msg":"InstExec","Time":1,"OpCode":"` + strings.Repeat("B", 500) + `"}`
	input := big + "\n" + `{"msg":"InstExec","Time":3,"X":1,"Y":0}` + "\n"

	events, st := parseAllWith(t, Config{BufferSize: 32, MaxLineSize: 64}, input)
	if len(events) != 1 || events[0].Cycle != 3 {
		t.Fatalf("events = %+v", events)
	}
	if st.ParseFaults != 1 {
		t.Errorf("parse faults = %d, want 1", st.ParseFaults)
	}
}

func TestOversizedProseIgnored(t *testing.T) {
	input := strings.Repeat("x", 300) + "\n" + `{"msg":"InstExec","Time":1,"X":0,"Y":0}`
	events, st := parseAllWith(t, Config{BufferSize: 64, MaxLineSize: 128}, input)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	// Oversized prose is skipped silently like any non-record line.
	if st.ParseFaults != 0 {
		t.Errorf("parse faults = %d", st.ParseFaults)
	}
}

func TestOversizedFinalLineWithoutNewline(t *testing.T) {
	input := `{"msg":"InstExec","Time":1,"X":0,"Y":0}` + "\n" +
		`{"msg":"InstExec","Time":2,"OpCode":"` + strings.Repeat("C", 200) + `"}`
	events, st := parseAllWith(t, Config{BufferSize: 64, MaxLineSize: 128}, input)
	if len(events) != 1 || events[0].Cycle != 1 {
		t.Fatalf("events = %+v", events)
	}
	if st.ParseFaults != 1 {
		t.Errorf("parse faults = %d, want 1", st.ParseFaults)
	}
}

func TestParseCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewJSONLNormalizer(DefaultConfig())
	ch := make(chan *model.Event) // unbuffered, never drained
	input := `{"msg":"InstExec","Time":1,"X":0,"Y":0}`
	err := p.Parse(ctx, strings.NewReader(input), ch)
	if err != ErrContextCanceled {
		t.Errorf("err = %v, want ErrContextCanceled", err)
	}
}
