package element

import (
	"github.com/flowmesh/core/action"
	"github.com/flowmesh/core/pad"
)

// handleBufferMsg implements spec.md §4.5's buffer half of the event
// controller: a buffer on a pull-mode input pad is stored for later
// Take, while a buffer on a push-mode input pad drives handle_process
// directly (mirroring the hot path's shortcut, for buffers replayed out
// of the playback buffer rather than arriving live).
func (r *Runtime) handleBufferMsg(m msgBuffer) error {
	p, ok := r.pads.Get(m.ref)
	if !ok {
		return nil
	}
	if p.Direction != pad.Input {
		return &InvalidMessageError{Msg: "buffer on non-input pad", Mode: r.playback}
	}
	if p.EndOfStream {
		return &StreamProtocolError{Kind: "buffer_after_end_of_stream"}
	}
	if p.Mode == pad.Pull {
		return p.Buffer.StoreBuffers(m.batch)
	}
	return r.invokeProcess(p, m.batch)
}

// handleCapsMsg implements spec.md §4.5's caps controller: caps are
// checked against the pad's accepted_caps predicate, then either
// stored in-order behind already-buffered data (pull mode with a
// non-empty queue) or dispatched to handle_caps immediately.
func (r *Runtime) handleCapsMsg(m msgCaps) error {
	p, ok := r.pads.Get(m.ref)
	if !ok {
		return nil
	}
	if p.AcceptedCaps != nil && !p.AcceptedCaps.Match(m.caps) {
		return &CapsError{Ref: m.ref, Got: m.caps, Want: "accepted_caps predicate"}
	}

	if p.Mode == pad.Pull && p.Buffer != nil && !p.Buffer.IsEmpty() {
		p.Buffer.StoreMarker("caps", m.caps)
		return nil
	}

	err := r.invokeCallback(action.OnCaps, func(ctx *Context) (any, error) {
		return r.behavior.HandleCaps(ctx, p.Ref, m.caps, r.state)
	})
	if err != nil {
		return err
	}
	p.Caps = m.caps
	return nil
}

// handleEventMsg implements spec.md §4.5's event controller. A sync
// event behind already-buffered pull-mode data is stored in-order as a
// marker so it surfaces from Take at the right position; everything
// else — async events, push-mode pads, or an empty pull buffer —
// dispatches to handle_event immediately. The start_of_stream/
// end_of_stream invariant is checked up front regardless of routing.
func (r *Runtime) handleEventMsg(m msgEvent) error {
	p, ok := r.pads.Get(m.ref)
	if !ok {
		return nil
	}
	if p.Direction != pad.Input {
		return &InvalidMessageError{Msg: "event on non-input pad", Mode: r.playback}
	}
	if err := updateStreamFlags(p, m.event); err != nil {
		return err
	}

	if p.Mode == pad.Pull && p.Buffer != nil && !p.Buffer.IsEmpty() && m.sync {
		p.Buffer.StoreMarker("event", m.event)
		return nil
	}

	return r.invokeCallback(action.OnEvent, func(ctx *Context) (any, error) {
		return r.behavior.HandleEvent(ctx, p.Ref, m.event, r.state)
	})
}
