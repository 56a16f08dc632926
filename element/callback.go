package element

import (
	"fmt"

	"github.com/flowmesh/core/action"
	"github.com/flowmesh/core/buffer"
	"github.com/flowmesh/core/pad"
	"github.com/flowmesh/core/pullbuffer"
)

// invokeCallback runs fn inside a fresh Context, updates the element's
// state from its result, and applies every action it queued. A
// callback error short-circuits before any action is applied, per
// spec.md §9.
func (r *Runtime) invokeCallback(cb action.Callback, fn func(*Context) (any, error)) error {
	ctx := r.newContext()
	newState, err := fn(ctx)
	if err != nil {
		return err
	}
	r.state = newState
	return r.applyActions(cb, ctx.actions)
}

func (r *Runtime) applyActions(cb action.Callback, actions []action.Action) error {
	for _, a := range actions {
		dir := pad.Output
		if p, ok := r.pads.Get(a.Ref); ok {
			dir = p.Direction
		}
		if err := action.Validate(cb, a, dir); err != nil {
			return err
		}
		if err := r.applyAction(a); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) applyAction(a action.Action) error {
	switch a.Kind {
	case action.KindBuffer:
		return r.applyBufferAction(a)
	case action.KindCaps:
		return r.applyCapsAction(a)
	case action.KindEvent:
		return r.applyEventAction(a.Ref, a.Event, false)
	case action.KindEndOfStream:
		return r.applyEventAction(a.Ref, EndOfStream{}, false)
	case action.KindDemand:
		return r.applyDemandAction(a)
	case action.KindRedemand:
		return r.redemand(a.Ref)
	case action.KindForward:
		if r.parent != nil {
			r.parent.Other(a.ForwardMsg)
		}
		return nil
	case action.KindNotify:
		if r.parent != nil {
			r.parent.Notify(a.NotifyMsg)
		}
		return nil
	case action.KindStartTimer:
		clk := a.TimerClock
		if clk == nil {
			clk = r.clock
		}
		if err := r.timers.Start(a.TimerID, a.TimerInterval, clk); err != nil {
			r.log.Warn("start_timer failed", "id", a.TimerID, "error", err)
		}
		return nil
	case action.KindStopTimer:
		if err := r.timers.Stop(a.TimerID); err != nil {
			r.log.Warn("stop_timer failed", "id", a.TimerID, "error", err)
		}
		return nil
	default:
		return fmt.Errorf("element: unknown action kind %v", a.Kind)
	}
}

// applyBufferAction sends a on an output pad to its peer and debits the
// credit it consumed. Per spec.md §4.4's split-continuation guard, a
// buffer action is dropped, with a warning log, once the pad has seen
// end_of_stream or, on a pull-mode pad, once its demand has already
// fallen to zero — it is the user
// callback's responsibility to stop producing once Context reflects
// that, but the runtime itself never forwards stale output.
func (r *Runtime) applyBufferAction(a action.Action) error {
	p, ok := r.pads.Get(a.Ref)
	if !ok {
		return fmt.Errorf("element: buffer action on unknown pad %s", a.Ref)
	}
	if p.EndOfStream || (p.Mode == pad.Pull && p.Demand <= 0) {
		r.log.Warn("dropping buffer action past end_of_stream or exhausted demand", "ref", a.Ref)
		return nil
	}
	if p.Peer == nil {
		return fmt.Errorf("element: buffer action on unlinked pad %s", a.Ref)
	}
	count := int64(pullbuffer.MetricFor(p.DemandUnit).Count(a.Buffer))
	if p.Mode == pad.Pull {
		p.Demand -= count
	}
	peer, _ := p.Peer.Endpoint.(*Handle)
	peer.SendBuffer(p.Peer.Ref, a.Buffer)
	return nil
}

func (r *Runtime) applyCapsAction(a action.Action) error {
	p, ok := r.pads.Get(a.Ref)
	if !ok {
		return fmt.Errorf("element: caps action on unknown pad %s", a.Ref)
	}
	p.Caps = a.Caps
	if p.Peer != nil {
		peer, _ := p.Peer.Endpoint.(*Handle)
		peer.SendCaps(p.Peer.Ref, a.Caps)
	}
	return nil
}

// applyEventAction emits an event from pad ref, validating and
// recording the start_of_stream/end_of_stream invariant on the sending
// side before forwarding to the peer, per spec.md §3.
func (r *Runtime) applyEventAction(ref pad.Ref, event any, sync bool) error {
	p, ok := r.pads.Get(ref)
	if !ok {
		return fmt.Errorf("element: event action on unknown pad %s", ref)
	}
	if err := updateStreamFlags(p, event); err != nil {
		return err
	}
	if p.Peer != nil {
		peer, _ := p.Peer.Endpoint.(*Handle)
		peer.SendEvent(p.Peer.Ref, event, sync)
	}
	return nil
}

func (r *Runtime) applyDemandAction(a action.Action) error {
	p, ok := r.pads.Get(a.Ref)
	if !ok {
		return fmt.Errorf("element: demand action on unknown pad %s", a.Ref)
	}
	if p.Peer == nil {
		return fmt.Errorf("element: demand action on unlinked pad %s", a.Ref)
	}
	peer, _ := p.Peer.Endpoint.(*Handle)
	peer.SendDemand(p.Peer.Ref, a.DemandSize)
	return nil
}

// redemand re-invokes the demand controller for ref's current
// outstanding demand, per spec.md §4.4's redemand action.
func (r *Runtime) redemand(ref pad.Ref) error {
	p, ok := r.pads.Get(ref)
	if !ok {
		return fmt.Errorf("element: redemand on unknown pad %s", ref)
	}
	if p.Demand <= 0 || p.EndOfStream {
		return nil
	}
	return r.runDemandController(p)
}

// invokeProcess runs handle_process for a buffer arriving on an input
// pad, used by both the hot path and the generic dispatcher.
func (r *Runtime) invokeProcess(p *pad.Pad, batch buffer.Batch) error {
	return r.invokeCallback(action.OnProcess, func(ctx *Context) (any, error) {
		return r.behavior.HandleProcess(ctx, p.Ref, batch, r.state)
	})
}

// takeFrom lets a callback pull buffered data out of one of its own
// pull-mode input pads. It is a direct local call, not a message send,
// so it does not violate the no-synchronous-reentrancy rule of
// spec.md §5 — it only ever touches state this element already
// exclusively owns.
func (r *Runtime) takeFrom(ref pad.Ref, count int) (pullbuffer.TakeResult, error) {
	p, ok := r.pads.Get(ref)
	if !ok {
		return pullbuffer.TakeResult{}, fmt.Errorf("element: take on unknown pad %s", ref)
	}
	if p.Buffer == nil {
		return pullbuffer.TakeResult{}, fmt.Errorf("element: take on non-pull-input pad %s", ref)
	}
	return p.Buffer.Take(count)
}
