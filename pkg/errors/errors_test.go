package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(cause, CodeParseFailed, "trace ingestion failed")

	if !errors.Is(err, cause) {
		t.Error("wrapped error should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "[E201]") {
		t.Errorf("message missing code: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("message missing cause: %q", err.Error())
	}
	if Wrap(nil, CodeParseFailed, "x") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NotFound("node", "Node[9][9].Core.East")
	if !IsCode(err, CodeNotFound) {
		t.Error("IsCode should match the direct code")
	}
	if IsCode(err, CodeBadNodePath) {
		t.Error("IsCode should reject other codes")
	}

	wrapped := fmt.Errorf("query: %w", err)
	if !IsCode(wrapped, CodeNotFound) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if IsCode(errors.New("plain"), CodeNotFound) {
		t.Error("plain errors carry no code")
	}
}

func TestWithContextRendersInMessage(t *testing.T) {
	err := BadNodePath("garbage")
	if !strings.Contains(err.Error(), "path=garbage") {
		t.Errorf("context missing: %q", err.Error())
	}
}

func TestNewCapturesStack(t *testing.T) {
	err := New(CodeRebuildFailed, "boom")
	if len(err.StackTrace) == 0 {
		t.Fatal("stack trace should be captured")
	}
	if !strings.Contains(err.StackTrace[0].Function, "TestNewCapturesStack") {
		t.Errorf("top frame = %+v", err.StackTrace[0])
	}
}
