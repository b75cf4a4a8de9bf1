package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"sync"

	"github.com/gridtrace/gridtrace/internal/model"
)

// JSONLNormalizer implements streaming normalization of
// newline-delimited JSON trace records. Each line is a complete JSON
// object; anything else (prose, partial writes, blank lines) is
// ignored or counted as a fault and skipped.
type JSONLNormalizer struct {
	cfg Config

	mu    sync.Mutex
	stats Stats
}

// NewJSONLNormalizer creates a new JSONL normalizer.
func NewJSONLNormalizer(cfg Config) *JSONLNormalizer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultConfig().MaxLineSize
	}
	return &JSONLNormalizer{cfg: cfg}
}

// Stats returns a copy of the fault counters accumulated so far.
func (p *JSONLNormalizer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Parse implements the Parser interface.
func (p *JSONLNormalizer) Parse(ctx context.Context, r io.Reader, out chan<- *model.Event) error {
	br := bufio.NewReaderSize(r, p.cfg.BufferSize)
	var buf []byte

	for {
		select {
		case <-ctx.Done():
			return ErrContextCanceled
		default:
		}

		line, err := p.readLine(br, buf)
		buf = line[:0]
		if err == ErrLineTooLong {
			p.recordOversized(line)
			continue
		}
		if err != nil && err != io.EOF {
			return err
		}

		trimmed := bytes.TrimSpace(line)
		// Non-event lines interleaved in the stream are ignored
		// silently; only things that look like records count.
		if len(trimmed) > 0 && trimmed[0] == '{' {
			if sendErr := p.emitRecord(ctx, trimmed, out); sendErr != nil {
				return sendErr
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}

// readLine assembles one newline-terminated line, spanning reads larger
// than the buffer. A line growing past MaxLineSize returns
// ErrLineTooLong with the stream already resynchronized on the next
// newline, so the caller can count the fault and keep going.
func (p *JSONLNormalizer) readLine(br *bufio.Reader, buf []byte) ([]byte, error) {
	line := buf
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			if len(line) > p.cfg.MaxLineSize {
				return line, p.drainLine(br)
			}
			continue
		}
		if len(line) > p.cfg.MaxLineSize && (err == nil || err == io.EOF) {
			return line, ErrLineTooLong
		}
		return line, err
	}
}

// drainLine discards the remainder of an oversized line.
func (p *JSONLNormalizer) drainLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		switch err {
		case bufio.ErrBufferFull:
			continue
		case nil, io.EOF:
			return ErrLineTooLong
		default:
			return err
		}
	}
}

// recordOversized counts an oversized record line as a parse fault.
// Oversized prose is skipped like any other non-record line.
func (p *JSONLNormalizer) recordOversized(line []byte) {
	head := bytes.TrimSpace(line)
	if len(head) == 0 || head[0] != '{' {
		return
	}
	p.mu.Lock()
	p.stats.LinesRead++
	p.stats.ParseFaults++
	p.mu.Unlock()
}

// emitRecord normalizes one record line and sends its events downstream.
func (p *JSONLNormalizer) emitRecord(ctx context.Context, line []byte, out chan<- *model.Event) error {
	p.mu.Lock()
	p.stats.LinesRead++
	p.mu.Unlock()

	events, st := normalizeLine(line)
	p.mu.Lock()
	p.stats.ParseFaults += st.ParseFaults
	p.stats.MissingCoordinate += st.MissingCoordinate
	p.mu.Unlock()

	for _, ev := range events {
		select {
		case out <- ev:
			p.mu.Lock()
			p.stats.EventsKept++
			p.mu.Unlock()
		case <-ctx.Done():
			return ErrContextCanceled
		}
	}
	return nil
}

// rawRecord mirrors the union of field names the simulator has emitted
// across trace format revisions. Synonyms collapse during conversion.
type rawRecord struct {
	Msg string `json:"msg"`

	// Cycle synonyms. Time is the legacy name.
	Time  *float64 `json:"Time"`
	Cycle *float64 `json:"cycle"`

	X *int `json:"X"`
	Y *int `json:"Y"`

	OpCode    string          `json:"OpCode"`
	Direction string          `json:"Direction"`
	Behavior  string          `json:"Behavior"`
	Data      json.RawMessage `json:"Data"`
	Pred      *bool           `json:"Pred"`

	// Channel synonyms.
	Color    *int `json:"Color"`
	ColorIdx *int `json:"ColorIdx"`

	Reason string `json:"Reason"`
	Type   string `json:"Type"`

	// Token synonyms.
	TokenID    *int64 `json:"TokenID"`
	TokenIDAlt *int64 `json:"token_id"`

	From string `json:"From"`
	To   string `json:"To"`
	Src  string `json:"Src"`
	Dst  string `json:"Dst"`

	State *rawPEState `json:"state"`
}

// rawPEState is the nested payload of a Snapshot ("PEState") record.
type rawPEState struct {
	Time    *float64     `json:"time"`
	X       *int         `json:"x"`
	Y       *int         `json:"y"`
	Inputs  []rawPortRef `json:"inputs"`
	Outputs []rawPortRef `json:"outputs"`
}

type rawPortRef struct {
	Direction string          `json:"direction"`
	Data      json.RawMessage `json:"data"`
	Pred      *bool           `json:"pred"`
	Color     *int            `json:"color"`
	TokenID   *int64          `json:"token_id"`
	TokenAlt  *int64          `json:"TokenID"`
}

// normalizeLine converts one raw record line into canonical events.
// Snapshot records fan out into one event per port entry so that the
// token index can consume them without nested structures.
func normalizeLine(line []byte) ([]*model.Event, Stats) {
	var st Stats

	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		st.ParseFaults++
		return nil, st
	}

	kind := model.ParseKind(raw.Msg)
	if kind == model.KindUnknown {
		st.ParseFaults++
		return nil, st
	}

	if kind == model.KindSnapshot {
		return normalizeSnapshot(&raw, &st)
	}

	cycle, ok := resolveCycle(raw.Time, raw.Cycle)
	if !ok {
		st.ParseFaults++
		return nil, st
	}

	ev := &model.Event{
		Cycle:     cycle,
		Kind:      kind,
		Opcode:    raw.OpCode,
		Direction: model.ParseDirection(raw.Direction),
		Behavior:  model.ParseBehavior(raw.Behavior),
		Payload:   rawValueString(raw.Data),
		Predicate: raw.Pred == nil || *raw.Pred,
		Reason:    raw.Reason,
		BPType:    raw.Type,
	}
	if raw.Color != nil {
		ev.Channel = *raw.Color
	} else if raw.ColorIdx != nil {
		ev.Channel = *raw.ColorIdx
	}
	if tok := firstInt64(raw.TokenID, raw.TokenIDAlt); tok != nil {
		ev.TokenID = *tok
		ev.HasToken = true
	}

	ev.Origin, ev.Dest = resolveEndpoints(&raw, ev.Behavior)
	resolveCoordinate(ev, &raw, &st)

	return []*model.Event{ev}, st
}

// normalizeSnapshot flattens a PEState record: one event per input and
// output entry, or a single bare snapshot event when the record names
// no ports.
func normalizeSnapshot(raw *rawRecord, st *Stats) ([]*model.Event, Stats) {
	if raw.State == nil {
		st.ParseFaults++
		return nil, *st
	}
	cycle, ok := resolveCycle(raw.State.Time, nil)
	if !ok {
		st.ParseFaults++
		return nil, *st
	}

	base := model.Event{
		Cycle: cycle,
		Kind:  model.KindSnapshot,
	}
	if raw.State.X != nil && raw.State.Y != nil {
		base.PE = model.Coord{X: *raw.State.X, Y: *raw.State.Y}
		base.HasPE = true
	} else {
		st.MissingCoordinate++
	}

	var events []*model.Event
	addPort := func(ref rawPortRef, behavior model.Behavior) {
		ev := base
		ev.Behavior = behavior
		ev.Direction = model.ParseDirection(ref.Direction)
		ev.Payload = rawValueString(ref.Data)
		ev.Predicate = ref.Pred == nil || *ref.Pred
		if ref.Color != nil {
			ev.Channel = *ref.Color
		}
		if tok := firstInt64(ref.TokenID, ref.TokenAlt); tok != nil {
			ev.TokenID = *tok
			ev.HasToken = true
		}
		events = append(events, &ev)
	}
	for _, in := range raw.State.Inputs {
		addPort(in, model.Receive)
	}
	for _, out := range raw.State.Outputs {
		addPort(out, model.Send)
	}
	if len(events) == 0 {
		ev := base
		events = append(events, &ev)
	}
	return events, *st
}

// resolveCycle collapses the cycle field synonyms. Fractional values
// round to the nearest integer, matching how the simulator's own
// tooling treated sub-cycle timestamps.
func resolveCycle(candidates ...*float64) (int64, bool) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		v := int64(math.Round(*c))
		if v < 0 {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// resolveEndpoints picks the origin/dest fields for the event's
// behavior. Send/Receive records use Src/Dst; FeedIn uses From/To;
// Collect names only its driver destination, historically under From.
func resolveEndpoints(raw *rawRecord, behavior model.Behavior) (origin, dest model.NodeRef) {
	srcField := raw.Src
	dstField := raw.Dst
	if srcField == "" && dstField == "" {
		srcField = raw.From
		dstField = raw.To
	}

	if behavior == model.Collect && srcField != "" && dstField == "" {
		// Legacy Collect records put the driver destination in the
		// origin slot.
		if ref, ok := model.ParseNodeRef(srcField); ok && ref.Class == model.NodeDriver {
			return model.NodeRef{}, ref
		}
	}

	if srcField != "" {
		o, d := model.ParseRoute(srcField)
		origin = o
		if !d.IsZero() {
			dest = d
		}
	}
	if dstField != "" {
		if ref, ok := model.ParseNodeRef(dstField); ok {
			dest = ref
		}
	}
	return origin, dest
}

// resolveCoordinate fills the event's PE coordinate from direct X/Y
// fields, falling back to the first tile reference among its endpoint
// strings.
func resolveCoordinate(ev *model.Event, raw *rawRecord, st *Stats) {
	if raw.X != nil && raw.Y != nil {
		ev.PE = model.Coord{X: *raw.X, Y: *raw.Y}
		ev.HasPE = true
		return
	}
	for _, ref := range []model.NodeRef{ev.Origin, ev.Dest} {
		if c, ok := ref.Coord(); ok {
			ev.PE = c
			ev.HasPE = true
			return
		}
	}
	st.MissingCoordinate++
}

// rawValueString renders a JSON scalar as payload text: strings are
// unquoted, numbers and booleans keep their literal form.
func rawValueString(v json.RawMessage) string {
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return string(v)
}

func firstInt64(candidates ...*int64) *int64 {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

// ParseChannel parses a channel index from query text. Shared by the
// CLI and HTTP collaborators so link keys parse one way everywhere.
func ParseChannel(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
