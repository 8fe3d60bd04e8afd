package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"direct", New(KindNotFound, "room 7 not found"), KindNotFound},
		{"wrapped once", fmt.Errorf("loading: %w", New(KindScope, "cross-room reference")), KindScope},
		{"wrapped twice", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", New(KindConflict, "busy"))), KindConflict},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindInternal, nil, "should vanish"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindChainFailed, cause, "send 5 USDC")
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
	if got := err.Error(); got != "send 5 USDC: disk full" {
		t.Errorf("Error() = %q", got)
	}
}

func TestConflict(t *testing.T) {
	if !Conflict(New(KindAlreadyExists, "wallet exists")) {
		t.Error("already_exists should count as conflict")
	}
	if !Conflict(New(KindConflict, "write conflict")) {
		t.Error("conflict should count as conflict")
	}
	if Conflict(New(KindTimeout, "slow")) {
		t.Error("timeout should not count as conflict")
	}
}
