// Package errors provides structured error handling for GridTrace.
// It implements errors with codes, context, and stack traces so tools
// consuming the library can branch on failure class programmatically.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound   Code = "E101"
	CodeFilePermission Code = "E102"
	CodeInvalidFormat  Code = "E103"
	CodeMissingCycle   Code = "E104"
	CodeBadNodePath    Code = "E105"

	// Processing errors (2xx)
	CodeParseFailed    Code = "E201"
	CodeRebuildFailed  Code = "E202"
	CodeDataIntegrity  Code = "E203"
	CodeScheduleFailed Code = "E204"

	// Query errors (3xx)
	CodeNotFound     Code = "E301"
	CodeInvalidQuery Code = "E302"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"
	CodePanic           Code = "E403"

	// Unknown
	CodeUnknown Code = "E999"
)

// GridTraceError is the base error type for all GridTrace errors.
type GridTraceError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *GridTraceError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *GridTraceError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *GridTraceError) Is(target error) bool {
	if t, ok := target.(*GridTraceError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *GridTraceError) WithContext(key string, value interface{}) *GridTraceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new GridTraceError.
func New(code Code, message string) *GridTraceError {
	return &GridTraceError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *GridTraceError {
	if err == nil {
		return nil
	}

	return &GridTraceError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *GridTraceError {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// BadNodePath creates a node path grammar error.
func BadNodePath(path string) *GridTraceError {
	return New(CodeBadNodePath, "unresolvable node path").WithContext("path", path)
}

// NotFound creates a query miss for a named entity.
func NotFound(entity, key string) *GridTraceError {
	return New(CodeNotFound, "not found").
		WithContext("entity", entity).
		WithContext("key", key)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *GridTraceError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var gtErr *GridTraceError
	if errors.As(err, &gtErr) {
		return gtErr.Code == code
	}
	return false
}
