package errors

import (
	"fmt"
	"testing"
)

func TestCoordError(t *testing.T) {
	// Test basic error creation
	err := New(ErrCodeNotFound, "session not found")
	if err.Code != ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeNotFound, err.Code)
	}

	// Test error wrapping
	cause := fmt.Errorf("underlying error")
	wrapped := Wrap(cause, ErrCodeCheckpointWriteFailed, "write failed")

	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}

	// Test Is function
	if !Is(wrapped, ErrCodeCheckpointWriteFailed) {
		t.Error("Is should return true for matching code")
	}

	if Is(wrapped, ErrCodeNotFound) {
		t.Error("Is should return false for non-matching code")
	}

	// Test WithDetail
	detailed := err.WithDetail("session_id", "sess-1").WithDetail("attempt", 2)
	if detailed.Details["session_id"] != "sess-1" {
		t.Error("WithDetail should add details")
	}
}

func TestErrorConstructors(t *testing.T) {
	// Test SessionNotFound
	err := SessionNotFound("sess-42")
	if err.Code != ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeNotFound, err.Code)
	}
	if err.Details["session_id"] != "sess-42" {
		t.Error("SessionNotFound should include session_id detail")
	}

	// Test DuplicateSession
	err = DuplicateSession("sess-42")
	if err.Code != ErrCodeDuplicateSession {
		t.Errorf("expected code %s, got %s", ErrCodeDuplicateSession, err.Code)
	}

	// Test CheckpointRejected
	err = CheckpointRejected("sess-42", "cp-1")
	if err.Code != ErrCodeCheckpointRejected {
		t.Errorf("expected code %s, got %s", ErrCodeCheckpointRejected, err.Code)
	}
	if err.Details["pending_checkpoint_id"] != "cp-1" {
		t.Error("CheckpointRejected should include pending_checkpoint_id detail")
	}

	// Test SingletonConflict
	err = SingletonConflict("contextd", 1234)
	if err.Code != ErrCodeSingletonConflict {
		t.Errorf("expected code %s, got %s", ErrCodeSingletonConflict, err.Code)
	}
	if err.Details["pid"] != 1234 {
		t.Error("SingletonConflict should include pid detail")
	}
}
