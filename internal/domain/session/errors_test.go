package session

import (
	"errors"
	"strings"
	"testing"
)

func TestNewCommitError_ReturnsNilForNoFailures(t *testing.T) {
	if err := NewCommitError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNewCommitError_SingleFailureReproducesBareMessage(t *testing.T) {
	cause := errors.New("boom")
	err := NewCommitError([]error{cause})
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "boom")
	}
}

func TestNewCommitError_MultipleFailuresListsCount(t *testing.T) {
	err := NewCommitError([]error{errors.New("a"), errors.New("b")})
	msg := err.Error()
	if !strings.Contains(msg, "2 exceptions") {
		t.Fatalf("Error() = %q, want it to mention 2 exceptions", msg)
	}
	if !strings.Contains(msg, "a") || !strings.Contains(msg, "b") {
		t.Fatalf("Error() = %q, want both causes included", msg)
	}
}

func TestCommitError_UnwrapExposesEveryCause(t *testing.T) {
	a := errors.New("a")
	b := errors.New("b")
	err := NewCommitError([]error{a, b})

	if !errors.Is(err, a) || !errors.Is(err, b) {
		t.Fatal("errors.Is should see every wrapped cause")
	}
}

func TestWrapModelError_PrefixesModelNameAndUnwraps(t *testing.T) {
	cause := errors.New("backend down")
	err := WrapModelError("widget", cause)

	if !strings.Contains(err.Error(), "widget") {
		t.Fatalf("Error() = %q, want it to mention the model name", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see the wrapped cause")
	}
}
