package element

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/core/action"
	"github.com/flowmesh/core/buffer"
	"github.com/flowmesh/core/pad"
)

// recordingSink is an input-only element that forwards every processed
// batch onto a channel the test can observe.
type recordingSink struct {
	BaseBehavior
	received chan buffer.Batch
}

func (s *recordingSink) Pads() []pad.Declaration {
	return []pad.Declaration{
		{Name: "in", Direction: pad.Input, Mode: pad.Push, Availability: pad.Always},
	}
}

func (s *recordingSink) HandleProcess(_ *Context, _ pad.Ref, batch buffer.Batch, state any) (any, error) {
	s.received <- batch
	return state, nil
}

func TestStartFailsOnInitError(t *testing.T) {
	t.Parallel()

	b := failingInitBehavior{}
	if _, err := Start("broken", b, nil); err == nil {
		t.Fatal("expected Start to fail when HandleInit returns an error")
	}
}

type failingInitBehavior struct{ BaseBehavior }

func (failingInitBehavior) HandleInit(_ *Context, _ any) (any, error) {
	return nil, context.DeadlineExceeded
}

func TestBufferBeforePlayingIsDeferredThenDrained(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{received: make(chan buffer.Batch, 1)}
	h, err := Start("sink", sink, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer Shutdown(h, time.Second)

	batch := buffer.Batch{buffer.New([]byte("payload"))}
	h.SendBuffer(pad.Ref{Name: "in"}, batch)

	select {
	case <-sink.received:
		t.Fatal("buffer was processed before playback reached Playing")
	case <-time.After(50 * time.Millisecond):
	}

	h.ChangePlaybackState(Prepared)
	h.ChangePlaybackState(Playing)

	select {
	case got := <-sink.received:
		if len(got) != 1 || string(got[0].Payload) != "payload" {
			t.Errorf("received batch: got %+v, want the deferred buffer", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the deferred buffer to drain")
	}
}

func TestHotPathDeliversBufferWhilePlaying(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{received: make(chan buffer.Batch, 1)}
	h, err := Start("sink", sink, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer Shutdown(h, time.Second)

	h.ChangePlaybackState(Prepared)
	h.ChangePlaybackState(Playing)

	batch := buffer.Batch{buffer.New([]byte("live"))}
	h.SendBuffer(pad.Ref{Name: "in"}, batch)

	select {
	case got := <-sink.received:
		if len(got) != 1 || string(got[0].Payload) != "live" {
			t.Errorf("received batch: got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hot-path delivery")
	}
}

// transitionRecorder records every playback transition it is asked to
// perform, in order.
type transitionRecorder struct {
	BaseBehavior
	seen chan string
}

func (r *transitionRecorder) HandleStoppedToPrepared(_ *Context, state any) (any, error) {
	r.seen <- "stopped->prepared"
	return state, nil
}
func (r *transitionRecorder) HandlePreparedToPlaying(_ *Context, state any) (any, error) {
	r.seen <- "prepared->playing"
	return state, nil
}
func (r *transitionRecorder) HandlePlayingToPrepared(_ *Context, state any) (any, error) {
	r.seen <- "playing->prepared"
	return state, nil
}
func (r *transitionRecorder) HandlePreparedToStopped(_ *Context, state any) (any, error) {
	r.seen <- "prepared->stopped"
	return state, nil
}

func TestChangePlaybackStateWalksAdjacentHops(t *testing.T) {
	t.Parallel()

	rec := &transitionRecorder{seen: make(chan string, 8)}
	h, err := Start("walker", rec, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer Shutdown(h, time.Second)

	h.ChangePlaybackState(Playing)

	want := []string{"stopped->prepared", "prepared->playing"}
	for _, w := range want {
		select {
		case got := <-rec.seen:
			if got != w {
				t.Errorf("transition: got %q, want %q", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for transition %q", w)
		}
	}

	h.ChangePlaybackState(Stopped)
	want = []string{"playing->prepared", "prepared->stopped"}
	for _, w := range want {
		select {
		case got := <-rec.seen:
			if got != w {
				t.Errorf("transition: got %q, want %q", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for transition %q", w)
		}
	}
}

func TestShutdownRunsHandleShutdown(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	b := &shutdownBehavior{done: done}
	h, err := Start("shutter", b, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := Shutdown(h, time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-done:
	default:
		t.Error("expected HandleShutdown to have run")
	}
	if !h.Dead() {
		t.Error("expected handle to report Dead() after Shutdown")
	}
}

type shutdownBehavior struct {
	BaseBehavior
	done chan struct{}
}

func (b *shutdownBehavior) HandleShutdown(_ context.Context, _ any) {
	close(b.done)
}

// sourceBehavior emits start_of_stream then one buffer on its output
// pad the first time its tick fires, and stops its timer.
type sourceBehavior struct {
	BaseBehavior
	payload []byte
}

func (s *sourceBehavior) Pads() []pad.Declaration {
	return []pad.Declaration{
		{Name: "out", Direction: pad.Output, Mode: pad.Push, Availability: pad.Always},
	}
}

func (s *sourceBehavior) HandlePreparedToPlaying(ctx *Context, state any) (any, error) {
	ctx.Emit(action.StartTimer("emit", time.Millisecond, nil))
	return state, nil
}

func (s *sourceBehavior) HandleTick(ctx *Context, id string, state any) (any, error) {
	ref := pad.Ref{Name: "out"}
	ctx.Emit(action.Event(ref, StartOfStream{}))
	ctx.Emit(action.Buffer(ref, buffer.Batch{buffer.New(s.payload)}))
	ctx.Emit(action.StopTimer(id))
	return state, nil
}

func TestLinkedElementsDeliverBufferEndToEnd(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{received: make(chan buffer.Batch, 1)}
	sinkHandle, err := Start("sink", sink, nil)
	if err != nil {
		t.Fatalf("Start(sink): %v", err)
	}
	defer Shutdown(sinkHandle, time.Second)

	src := &sourceBehavior{payload: []byte("through-the-wire")}
	srcHandle, err := Start("src", src, nil)
	if err != nil {
		t.Fatalf("Start(src): %v", err)
	}
	defer Shutdown(srcHandle, time.Second)

	outRef := pad.Ref{Name: "out"}
	inRef := pad.Ref{Name: "in"}
	if _, err := srcHandle.RequestLink(outRef, sinkHandle, inRef, pad.LinkInfo{Mode: pad.Push}); err != nil {
		t.Fatalf("RequestLink(src->sink): %v", err)
	}
	if _, err := sinkHandle.RequestLink(inRef, srcHandle, outRef, pad.LinkInfo{Mode: pad.Push}); err != nil {
		t.Fatalf("RequestLink(sink->src): %v", err)
	}
	srcHandle.LinkingFinished()
	sinkHandle.LinkingFinished()

	sinkHandle.ChangePlaybackState(Prepared)
	sinkHandle.ChangePlaybackState(Playing)
	srcHandle.ChangePlaybackState(Prepared)
	srcHandle.ChangePlaybackState(Playing)

	select {
	case got := <-sink.received:
		if len(got) != 1 || string(got[0].Payload) != "through-the-wire" {
			t.Errorf("received batch: got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the buffer to arrive through the link")
	}
}
