package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridtrace/gridtrace/pkg/analysis"
)

const (
	line1 = `{"msg":"InstExec","Time":0,"X":0,"Y":0,"OpCode":"ADD"}` + "\n"
	line2 = `{"msg":"InstExec","Time":1,"X":0,"Y":0,"OpCode":"MUL"}` + "\n"
	line3 = `{"msg":"InstExec","Time":2,"X":0,"Y":0,"OpCode":"SUB"}` + "\n"
)

func writeTrace(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResumeDoesNotReingest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	writeTrace(t, path, line1+line2)

	eng := analysis.New(analysis.Options{TotalCycles: 10})
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Ingest(context.Background(), file); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	file.Close()
	gen := eng.Store().Generation()

	fw, err := NewFollower(eng, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Close()

	if err := fw.Resume(path); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if eng.Store().Generation() != gen {
		t.Error("Resume must not re-ingest the file")
	}

	// A change notification for an unchanged file is a no-op.
	fw.handleChange(context.Background(), path)
	if eng.Store().Generation() != gen {
		t.Error("unchanged file must not publish a generation")
	}
}

func TestHandleChangeAppendsFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	writeTrace(t, path, line1+line2)

	eng := analysis.New(analysis.Options{TotalCycles: 10})
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Ingest(context.Background(), file); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	file.Close()

	fw, err := NewFollower(eng, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Close()
	if err := fw.Resume(path); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	var gotAppended int64
	fw.OnUpdate = func(_ string, appended int64) { gotAppended = appended }

	writeTrace(t, path, line1+line2+line3)
	fw.handleChange(context.Background(), path)

	if eng.Store().Len() != 3 {
		t.Errorf("events = %d, want 3", eng.Store().Len())
	}
	if got := eng.EventsAt(2); len(got) != 1 || got[0].Opcode != "SUB" {
		t.Errorf("appended event = %v", got)
	}
	if gotAppended != int64(len(line3)) {
		t.Errorf("appended bytes = %d, want %d", gotAppended, len(line3))
	}
}

func TestHandleChangeTruncationReingests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	writeTrace(t, path, line1+line2)

	eng := analysis.New(analysis.Options{TotalCycles: 10})
	fw, err := NewFollower(eng, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Close()
	if err := fw.Follow(context.Background(), path); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if eng.Store().Len() != 2 {
		t.Fatalf("events = %d, want 2", eng.Store().Len())
	}

	writeTrace(t, path, line3)
	fw.handleChange(context.Background(), path)

	if eng.Store().Len() != 1 {
		t.Errorf("events after truncation = %d, want 1", eng.Store().Len())
	}
	if got := eng.EventsAt(2); len(got) != 1 {
		t.Errorf("rebuilt trace = %v", got)
	}
}
