package action

import (
	"testing"

	"github.com/flowmesh/core/pad"
)

func TestValidateForwardAlwaysAllowed(t *testing.T) {
	t.Parallel()

	if err := Validate(OnInit, Forward("hi"), pad.Output); err != nil {
		t.Errorf("Validate(Forward): %v", err)
	}
}

func TestValidateBufferRequiresOutputAndDataCallback(t *testing.T) {
	t.Parallel()

	ref := pad.Ref{Name: "out"}
	a := Buffer(ref, nil)

	if err := Validate(OnProcess, a, pad.Output); err != nil {
		t.Errorf("Validate(Buffer, OnProcess, Output): %v", err)
	}
	if err := Validate(OnProcess, a, pad.Input); err == nil {
		t.Error("expected error: Buffer action from an input pad")
	}
	if err := Validate(OnInit, a, pad.Output); err == nil {
		t.Error("expected error: Buffer action from a non-data callback")
	}
}

func TestValidateDemandRequiresInput(t *testing.T) {
	t.Parallel()

	ref := pad.Ref{Name: "in"}
	a := Demand(ref, 10)

	if err := Validate(OnDemand, a, pad.Input); err != nil {
		t.Errorf("Validate(Demand, OnDemand, Input): %v", err)
	}
	if err := Validate(OnDemand, a, pad.Output); err == nil {
		t.Error("expected error: Demand action from an output pad")
	}
}

func TestKindStringUnknown(t *testing.T) {
	t.Parallel()

	if got := Kind(99).String(); got != "unknown" {
		t.Errorf("Kind(99).String(): got %q, want %q", got, "unknown")
	}
}
