package assistant

import (
	"errors"
	"testing"
)

func TestAssistantErrorMessageIncludesKindAndUnderlyingError(t *testing.T) {
	err := New(KindTransport, errors.New("connection reset"))
	want := "Transport: connection reset"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestAssistantErrorWithNilErrFallsBackToKind(t *testing.T) {
	err := New(KindStateRejected, nil)
	if got := err.Error(); got != string(KindStateRejected) {
		t.Fatalf("Error() = %q, want %q", got, KindStateRejected)
	}
}

func TestAssistantErrorUnwrapsToUnderlyingError(t *testing.T) {
	underlying := errors.New("boom")
	err := New(KindMCP, underlying)
	if !errors.Is(err, underlying) {
		t.Fatal("expected errors.Is to find the wrapped error")
	}
}
