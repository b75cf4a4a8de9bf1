package parser

import "errors"

var (
	// ErrContextCanceled is returned when the context is canceled.
	ErrContextCanceled = errors.New("parser: context canceled")

	// ErrLineTooLong marks a record exceeding MaxLineSize. Parse
	// counts such lines as parse faults and continues; the sentinel
	// never escapes to callers.
	ErrLineTooLong = errors.New("parser: record line exceeds maximum size")
)
