// Package parser normalizes raw simulator trace records into canonical
// events. One line in, zero or one event stream entries out; malformed
// input is counted, never fatal.
package parser

import (
	"context"
	"io"

	"github.com/gridtrace/gridtrace/internal/model"
)

// Parser defines the interface for normalizing a trace stream.
// Implementations must be safe for concurrent use and must not retain
// references to the output channel after returning.
type Parser interface {
	// Parse reads from r and sends normalized events to out.
	// It should respect context cancellation.
	// The caller is responsible for closing the out channel.
	Parse(ctx context.Context, r io.Reader, out chan<- *model.Event) error
}

// Config holds common normalizer configuration.
type Config struct {
	// BufferSize is the size of the read buffer in bytes.
	BufferSize int

	// MaxLineSize caps a single record line; longer lines are counted
	// as parse faults and skipped.
	MaxLineSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:  64 * 1024,
		MaxLineSize: 1024 * 1024,
	}
}

// Stats reports normalizer fault counters, queryable after ingestion.
type Stats struct {
	// LinesRead counts every non-blank input line seen.
	LinesRead int64

	// EventsKept counts events emitted downstream.
	EventsKept int64

	// ParseFaults counts lines that failed to parse as a structured
	// record or lacked a resolvable cycle.
	ParseFaults int64

	// MissingCoordinate counts retained events with no resolvable PE
	// coordinate; they are excluded from the PE-keyed index only.
	MissingCoordinate int64
}
