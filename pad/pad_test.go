package pad

import (
	"errors"
	"testing"

	"github.com/flowmesh/core/pullbuffer"
)

// recordingUpstream is a pullbuffer.Upstream fake that records every
// SendDemand call, so tests can assert demand is addressed to the
// peer's pad rather than the local one.
type recordingUpstream struct {
	refs []any
}

func (u *recordingUpstream) SendDemand(ref any, _ int64) { u.refs = append(u.refs, ref) }

func TestNewTableInstantiatesAlwaysPads(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "in", Direction: Input, Mode: Pull, Availability: Always, DemandUnit: pullbuffer.UnitBuffers},
		{Name: "out", Direction: Output, Mode: Pull, Availability: Always, DemandUnit: pullbuffer.UnitBuffers},
	})

	if _, ok := table.Get(Ref{Name: "in"}); !ok {
		t.Fatal("expected static pad \"in\" to exist")
	}
	if _, ok := table.Get(Ref{Name: "out"}); !ok {
		t.Fatal("expected static pad \"out\" to exist")
	}
}

func TestGetPadRefAllocatesDynamicGenerations(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "src", Direction: Output, Mode: Push, Availability: OnRequest},
	})

	ref1, err := table.GetPadRef("src")
	if err != nil {
		t.Fatalf("GetPadRef: %v", err)
	}
	ref2, err := table.GetPadRef("src")
	if err != nil {
		t.Fatalf("GetPadRef: %v", err)
	}
	if ref1 == ref2 {
		t.Fatalf("expected distinct generations, got %v and %v", ref1, ref2)
	}
	if !ref1.Dynamic || ref1.Generation != 0 {
		t.Errorf("ref1: got %+v, want generation 0", ref1)
	}
	if !ref2.Dynamic || ref2.Generation != 1 {
		t.Errorf("ref2: got %+v, want generation 1", ref2)
	}

	pending := table.DrainPendingAdded()
	if len(pending) != 2 {
		t.Fatalf("DrainPendingAdded: got %d pending, want 2", len(pending))
	}
	if more := table.DrainPendingAdded(); len(more) != 0 {
		t.Errorf("DrainPendingAdded after drain: got %d, want 0", len(more))
	}
}

func TestHandleLinkPushToPushSucceeds(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "out", Direction: Output, Mode: Push, Availability: Always},
	})

	result, err := table.HandleLink(Ref{Name: "out"}, "peer-handle", Ref{Name: "in"}, LinkInfo{Mode: Push})
	if err != nil {
		t.Fatalf("HandleLink: %v", err)
	}
	if result.AnnouncePushMode {
		t.Error("expected AnnouncePushMode=false for a push/push link")
	}
	if result.Pad.Peer == nil || result.Pad.Peer.Ref != (Ref{Name: "in"}) {
		t.Fatalf("Peer not recorded correctly: %+v", result.Pad.Peer)
	}
}

func TestHandleLinkPullOutputIntoPushInputFails(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "out", Direction: Output, Mode: Pull, Availability: Always},
	})

	_, err := table.HandleLink(Ref{Name: "out"}, "peer", Ref{Name: "in"}, LinkInfo{Mode: Push})
	if err == nil {
		t.Fatal("expected an error linking a pull output into a push input")
	}
	var linkErr *LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, ErrModeMismatch) {
		t.Fatalf("err: got %v, want ErrModeMismatch", err)
	}
}

func TestHandleLinkPushOutputIntoPullInputCreatesToiletBuffer(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "in", Direction: Input, Mode: Pull, Availability: Always, DemandUnit: pullbuffer.UnitBuffers},
	})

	result, err := table.HandleLink(Ref{Name: "in"}, "peer", Ref{Name: "out"},
		LinkInfo{Mode: Push, OtherDemandUnit: pullbuffer.UnitBuffers})
	if err != nil {
		t.Fatalf("HandleLink: %v", err)
	}
	if !result.AnnouncePushMode {
		t.Error("expected AnnouncePushMode=true for a push/pull link")
	}
	if result.Pad.Buffer == nil {
		t.Fatal("expected a PullBuffer to be created on the pull input")
	}
}

func TestHandleLinkPullInputDemandsFromPeer(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "in", Direction: Input, Mode: Pull, Availability: Always, DemandUnit: pullbuffer.UnitBuffers, PreferredSize: 4},
	})

	peer := &recordingUpstream{}
	result, err := table.HandleLink(Ref{Name: "in"}, peer, Ref{Name: "out"},
		LinkInfo{Mode: Pull, OtherDemandUnit: pullbuffer.UnitBuffers})
	if err != nil {
		t.Fatalf("HandleLink: %v", err)
	}
	if result.Pad.Buffer == nil {
		t.Fatal("expected a PullBuffer to be created on the pull input")
	}
	if len(peer.refs) == 0 {
		t.Fatal("expected the PullBuffer's initial demand to reach the peer")
	}
	if peer.refs[0] != (Ref{Name: "out"}) {
		t.Errorf("demand ref: got %v, want the peer's pad (out), not the local pad (in)", peer.refs[0])
	}
}

func TestHandleLinkAlreadyLinkedFails(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "out", Direction: Output, Mode: Push, Availability: Always},
	})
	if _, err := table.HandleLink(Ref{Name: "out"}, "peer", Ref{Name: "in"}, LinkInfo{Mode: Push}); err != nil {
		t.Fatalf("first HandleLink: %v", err)
	}
	_, err := table.HandleLink(Ref{Name: "out"}, "peer2", Ref{Name: "in2"}, LinkInfo{Mode: Push})
	if !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("second HandleLink err: got %v, want ErrAlreadyLinked", err)
	}
}

func TestHandleUnlinkClearsPeerAndBuffer(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "in", Direction: Input, Mode: Pull, Availability: Always, DemandUnit: pullbuffer.UnitBuffers},
	})
	if _, err := table.HandleLink(Ref{Name: "in"}, "peer", Ref{Name: "out"},
		LinkInfo{Mode: Pull, OtherDemandUnit: pullbuffer.UnitBuffers}); err != nil {
		t.Fatalf("HandleLink: %v", err)
	}

	wasDynamic, err := table.HandleUnlink(Ref{Name: "in"})
	if err != nil {
		t.Fatalf("HandleUnlink: %v", err)
	}
	if wasDynamic {
		t.Error("expected wasDynamic=false for a statically declared pad")
	}
	p, _ := table.Get(Ref{Name: "in"})
	if p.Peer != nil || p.Buffer != nil {
		t.Errorf("expected peer and buffer cleared, got %+v", p)
	}
}

func TestEnableToiletIfPullRejectsPushPad(t *testing.T) {
	t.Parallel()

	table := NewTable([]Declaration{
		{Name: "out", Direction: Output, Mode: Push, Availability: Always},
	})
	err := table.EnableToiletIfPull(Ref{Name: "out"})
	if !errors.Is(err, ErrWrongKind) {
		t.Fatalf("EnableToiletIfPull: got %v, want ErrWrongKind", err)
	}
}
