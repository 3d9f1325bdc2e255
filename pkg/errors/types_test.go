package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeNoEntryPoint, "no html")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}
	if err.Code != ErrCodeNoEntryPoint {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNoEntryPoint)
	}
	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}
	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("zip: not a valid zip file")
	err := Wrap(underlying, ErrCodeInvalidArchive, "archive could not be read")

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should see the underlying error")
	}
	if !strings.Contains(err.Error(), "not a valid zip file") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestErrorStringSortsContext(t *testing.T) {
	err := New(ErrCodeTransportError, "failed").
		WithContext("url", "http://x").
		WithContext("status", 404)

	got := err.Error()
	want := "[TRANSPORT_ERROR] failed {status: 404, url: http://x}"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCodeHelpersSeeWrappedErrors(t *testing.T) {
	inner := Transport("http://example.test/pkg.zip", 500)
	outer := fmt.Errorf("loading package: %w", inner)

	if !IsCode(outer, ErrCodeTransportError) {
		t.Error("IsCode should unwrap fmt.Errorf chains")
	}
	if GetCode(outer) != ErrCodeTransportError {
		t.Errorf("GetCode = %v", GetCode(outer))
	}
	if !IsRetryable(outer) {
		t.Error("transport errors are retryable")
	}
	if GetCode(errors.New("plain")) != ErrCodeInternal {
		t.Error("plain errors map to INTERNAL")
	}
	if GetCode(nil) != "" {
		t.Error("nil error has no code")
	}
}

func TestCatalogRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		code      ErrorCode
		retryable bool
	}{
		{"empty", EmptyArchive("u"), ErrCodeEmptyArchive, true},
		{"status", Transport("u", 403), ErrCodeTransportError, true},
		{"timeout", Timeout("u", errors.New("deadline")), ErrCodeTimeout, true},
		{"aborted", Aborted("downloading", nil), ErrCodeAborted, true},
		{"invalid", InvalidArchive(errors.New("bad"), "text/html"), ErrCodeInvalidArchive, true},
		{"no entry", NoEntryPoint(3), ErrCodeNoEntryPoint, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable, tt.retryable)
			}
			if tt.err.UserMessage == "" {
				t.Error("catalog errors carry a user message")
			}
		})
	}
}

func TestTransportKeepsStatus(t *testing.T) {
	err := Transport("u", 404)
	if err.Context["status"] != 404 {
		t.Errorf("status context = %v", err.Context["status"])
	}
}

func TestInvalidArchiveWithoutCause(t *testing.T) {
	err := InvalidArchive(nil, "")
	if err == nil || err.Code != ErrCodeInvalidArchive {
		t.Fatalf("unexpected %v", err)
	}
	if _, ok := err.Context["detected_type"]; ok {
		t.Error("empty detected type should not be recorded")
	}
}

func TestUserMessageFallsBack(t *testing.T) {
	if got := UserMessage(NoEntryPoint(0)); got != "This package has no launchable content." {
		t.Errorf("UserMessage = %q", got)
	}
	if got := UserMessage(New(ErrCodeInternal, "boom")); got != "boom" {
		t.Errorf("UserMessage = %q", got)
	}
	if got := UserMessage(errors.New("plain")); got != "plain" {
		t.Errorf("UserMessage = %q", got)
	}
}

func TestStackTrace(t *testing.T) {
	err := New(ErrCodeInternal, "x")
	if !strings.HasPrefix(err.StackTrace(), "Stack trace:") {
		t.Error("stack trace header missing")
	}
}
