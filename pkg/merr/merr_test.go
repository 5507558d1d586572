package merr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_NilPassthrough(t *testing.T) {
	if err := New(CodeStorage, "copy", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	base := Storage("objstore.copy", errors.New("connection refused"))
	wrapped := fmt.Errorf("promote: %w", base)

	if got := CodeOf(wrapped); got != CodeStorage {
		t.Errorf("expected %s, got %s", CodeStorage, got)
	}
	if !IsRetryable(wrapped) {
		t.Error("storage errors should be retryable")
	}
	if IsValidation(wrapped) {
		t.Error("storage errors are not validation errors")
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		err        error
		validation bool
		retryable  bool
	}{
		{Errorf(CodeInvalidKey, "promote", "bad key"), true, false},
		{Errorf(CodeInvalidMetadata, "promote", "bad metadata"), true, false},
		{Queue("enqueue", errors.New("timeout")), false, true},
		{Build("segment", errors.New("short read")), false, true},
		{Fatal("probe", errors.New("empty master")), false, false},
		{errors.New("plain"), false, true},
	}

	for _, tc := range cases {
		if got := IsValidation(tc.err); got != tc.validation {
			t.Errorf("IsValidation(%v) = %v, want %v", tc.err, got, tc.validation)
		}
		if got := IsRetryable(tc.err); got != tc.retryable {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.retryable)
		}
	}
}

func TestError_Message(t *testing.T) {
	err := Errorf(CodeNotFound, "objstore.stat", "staging/a.mp4")
	if got := err.Error(); got != "objstore.stat: not_found: staging/a.mp4" {
		t.Errorf("unexpected message %q", got)
	}
}
