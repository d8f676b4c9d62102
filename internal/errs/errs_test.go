package errs

import (
	"errors"
	"fmt"
	"testing"
)

var errSentinel = errors.New("sentinel")

func TestWrapMatchesBothSentinelAndCause(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Wrap(errSentinel, cause)

	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected errors.Is to match the sentinel")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match the cause")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if err := Wrap(errSentinel, nil); err != nil {
		t.Fatalf("expected Wrap with a nil cause to return nil, got %v", err)
	}
}

func TestWrapfFormatsMessage(t *testing.T) {
	err := Wrapf(errSentinel, "recipe %q failed", "lib")
	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected errors.Is to match the sentinel")
	}
	want := "sentinel: recipe \"lib\" failed"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesDeeperChain(t *testing.T) {
	root := errors.New("root cause")
	chained := fmt.Errorf("step failed: %w", root)
	err := Wrap(errSentinel, chained)

	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is to see through the wrapped chain to the root cause")
	}
}
