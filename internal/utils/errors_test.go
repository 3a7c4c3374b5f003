package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := NewAppError("ingest.load", "open source", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match base")
	}
	if err.Error() != "ingest.load: open source: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if (&AppError{Op: "op", Msg: "msg"}).Error() != "op: msg" {
		t.Fatalf("unexpected message without cause")
	}
}

func TestErrorOp(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", NewAppError("ingest.parse", "a.csv", errors.New("bad quote")))
	if got := ErrorOp(wrapped); got != "ingest.parse" {
		t.Fatalf("expected ingest.parse, got %q", got)
	}
	if got := ErrorOp(errors.New("plain")); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
