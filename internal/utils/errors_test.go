package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError("normalize", CodeMalformedRecord, "missing timestamp", nil)
	want := "normalize: MALFORMED_RECORD: missing timestamp"
	if err.Error() != want {
		t.Fatalf("unexpected message: %s", err.Error())
	}

	wrapped := NewAppError("scheduler.submit", CodeCapacityExceeded, "queue full", errors.New("boom"))
	if wrapped.Error() != "scheduler.submit: CAPACITY_EXCEEDED: queue full: boom" {
		t.Fatalf("unexpected wrapped message: %s", wrapped.Error())
	}
}

func TestErrorCodeExtraction(t *testing.T) {
	err := NewAppError("op", CodeDeadlineExceeded, "late", nil)
	if ErrorCode(err) != CodeDeadlineExceeded {
		t.Fatalf("unexpected code: %s", ErrorCode(err))
	}
	if !IsCode(err, CodeDeadlineExceeded) {
		t.Fatalf("IsCode failed on direct error")
	}

	// Codes survive fmt wrapping.
	wrapped := fmt.Errorf("context: %w", err)
	if !IsCode(wrapped, CodeDeadlineExceeded) {
		t.Fatalf("IsCode failed on wrapped error")
	}

	if ErrorCode(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain errors")
	}
}

func TestTimeHelpers(t *testing.T) {
	ts, err := ParseRFC3339("2026-03-01T12:00:00.5Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Nanosecond() != 500_000_000 {
		t.Fatalf("fractional seconds lost: %v", ts)
	}

	if _, err := ParseRFC3339(""); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}

	if !FromUnixNanos(0).IsZero() {
		t.Fatalf("expected zero time for missing epoch value")
	}
	if FromUnixNanos(ts.UnixNano()).UnixNano() != ts.UnixNano() {
		t.Fatalf("epoch round trip failed")
	}
}
