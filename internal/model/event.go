// Package model defines core data structures for GridTrace.
package model

// Kind discriminates the closed set of event categories a simulator
// trace can contain. Raw records carry a "msg" string; the normalizer
// maps it onto this enumeration exactly once, at parse time.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindExecution
	KindDataFlow
	KindBackpressure
	KindMemory
	KindSnapshot
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindExecution:
		return "Execution"
	case KindDataFlow:
		return "DataFlow"
	case KindBackpressure:
		return "Backpressure"
	case KindMemory:
		return "Memory"
	case KindSnapshot:
		return "Snapshot"
	default:
		return "Unknown"
	}
}

// ParseKind maps a raw "msg" discriminator to a Kind. The simulator
// emitted several message names per category over its lifetime; all
// synonyms resolve here.
func ParseKind(s string) Kind {
	switch s {
	case "InstExec", "Inst", "Execution":
		return KindExecution
	case "DataFlow":
		return KindDataFlow
	case "Backpressure", "InstGroup_Blocked", "InstGroup_NotRun":
		return KindBackpressure
	case "Memory", "MemRead", "MemWrite":
		return KindMemory
	case "PEState", "Snapshot":
		return KindSnapshot
	default:
		return KindUnknown
	}
}

// Kinds lists all valid kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindExecution, KindDataFlow, KindBackpressure, KindMemory, KindSnapshot}
}

// Direction identifies one of the four mesh ports of a processing
// element.
type Direction uint8

const (
	DirNone Direction = iota
	North
	South
	East
	West
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case North:
		return "North"
	case South:
		return "South"
	case East:
		return "East"
	case West:
		return "West"
	default:
		return ""
	}
}

// ParseDirection parses a direction name.
func ParseDirection(s string) Direction {
	switch s {
	case "North", "north", "N":
		return North
	case "South", "south", "S":
		return South
	case "East", "east", "E":
		return East
	case "West", "west", "W":
		return West
	default:
		return DirNone
	}
}

// Directions lists the four mesh directions in display order.
func Directions() []Direction {
	return []Direction{North, South, East, West}
}

// Behavior classifies a DataFlow event: tile-to-tile transfers are
// Send/Receive pairs, boundary transfers are FeedIn (driver to tile)
// and Collect (tile to driver).
type Behavior uint8

const (
	BehaviorNone Behavior = iota
	Send
	Receive
	FeedIn
	Collect
)

// String returns the behavior name.
func (b Behavior) String() string {
	switch b {
	case Send:
		return "Send"
	case Receive:
		return "Receive"
	case FeedIn:
		return "FeedIn"
	case Collect:
		return "Collect"
	default:
		return ""
	}
}

// ParseBehavior parses a behavior name. "Recv" is the legacy spelling
// of Receive.
func ParseBehavior(s string) Behavior {
	switch s {
	case "Send":
		return Send
	case "Receive", "Recv":
		return Receive
	case "FeedIn", "Feed":
		return FeedIn
	case "Collect":
		return Collect
	default:
		return BehaviorNone
	}
}

// IsPush reports whether the behavior deposits a payload onto a link
// FIFO (the producer side).
func (b Behavior) IsPush() bool { return b == Send || b == FeedIn }

// IsPop reports whether the behavior drains a payload from a link FIFO
// (the consumer side).
func (b Behavior) IsPop() bool { return b == Receive || b == Collect }

// Coord identifies a processing element by grid position.
type Coord struct {
	X int
	Y int
}

// Event is the canonical record every trace line normalizes into.
// Cycle is the only required field; everything else is kind-specific
// and zero-valued when absent.
type Event struct {
	// Cycle is the simulator time step, >= 0.
	Cycle int64

	// PE is the processing element the event belongs to. Valid only
	// when HasPE is set; events without a resolvable coordinate stay
	// out of the PE index but are otherwise retained.
	PE    Coord
	HasPE bool

	Kind Kind

	// Opcode is the instruction mnemonic for Execution and
	// Backpressure events.
	Opcode string

	// Direction and Behavior describe DataFlow events and the port a
	// Backpressure event stalled on.
	Direction Direction
	Behavior  Behavior

	// Payload is the transferred datum, opaque to the engine.
	Payload string

	// Predicate is the predication bit attached to a transfer; false
	// marks a squashed (predicated-off) datum.
	Predicate bool

	// Channel is the virtual channel (color) index of a transfer.
	Channel int

	// Reason and BPType detail Backpressure events.
	Reason string
	BPType string

	// TokenID identifies the datum across hops in newer trace
	// formats. Valid only when HasToken is set.
	TokenID  int64
	HasToken bool

	// Origin and Dest are the resolved link endpoints, when the raw
	// record names them explicitly. Zero-valued NodeRef means absent.
	Origin NodeRef
	Dest   NodeRef
}

// Active reports whether the event counts as PE activity for
// utilization purposes.
func (e *Event) Active() bool {
	return e.Kind == KindExecution || e.Kind == KindDataFlow || e.Kind == KindMemory
}
