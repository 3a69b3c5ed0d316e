package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeSegmentFailed, "encoder exited non-zero")
	if !strings.Contains(err.Error(), "SEGMENT_FAILURE") {
		t.Errorf("error string should contain code name: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "encoder exited non-zero") {
		t.Errorf("error string should contain message: %q", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("exit status 1")
	err := Wrap(cause, CodeSegmentFailed, "segment capture failed")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if !strings.Contains(err.Error(), "exit status 1") {
		t.Errorf("error string should include cause: %q", err.Error())
	}
}

func TestCodeOfWalksChain(t *testing.T) {
	inner := New(CodeInsufficientBuffer, "buffer empty")
	outer := Wrap(inner, CodeAssemblyFailed, "clip request failed")

	// Outermost code wins.
	if CodeOf(outer) != CodeAssemblyFailed {
		t.Errorf("CodeOf = %v, want CodeAssemblyFailed", CodeOf(outer))
	}

	wrapped := Wrapf(stderrors.New("io"), CodeUpload, "post %s", "/upload")
	if !IsCode(wrapped, CodeUpload) {
		t.Error("IsCode should match CodeUpload")
	}
	if IsCode(nil, CodeUpload) {
		t.Error("IsCode on nil should be false")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeUpload, true},
		{CodeUnavailable, true},
		{CodeSegmentFailed, false},
		{CodeInsufficientBuffer, false},
		{CodeAssemblyFailed, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(New(tt.code, "x")); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestWithMetadata(t *testing.T) {
	err := New(CodeEvictionDelete, "unlink failed").WithMetadata("path", "/tmp/seg.mp4")
	if err.Metadata["path"] != "/tmp/seg.mp4" {
		t.Errorf("metadata not recorded: %v", err.Metadata)
	}
	if !strings.Contains(err.Error(), "/tmp/seg.mp4") {
		t.Errorf("error string should include metadata: %q", err.Error())
	}
}
