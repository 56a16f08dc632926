package element

import (
	"github.com/flowmesh/core/action"
	"github.com/flowmesh/core/pad"
)

// handleDemandMsg implements the demand controller of spec.md §4.4: it
// accumulates incoming demand credit on an output pad, couples it into
// any auto-demand input pads, and — unless end_of_stream has already
// been sent — invokes handle_demand with the pad's total outstanding
// demand.
func (r *Runtime) handleDemandMsg(m msgDemand) error {
	p, ok := r.pads.Get(m.ref)
	if !ok {
		return nil
	}
	if p.Direction != pad.Output || p.Mode != pad.Pull {
		r.log.Warn("demand message on non-output or non-pull pad, ignoring", "ref", m.ref)
		return nil
	}

	p.Demand += m.size

	if len(p.DemandPads) > 0 {
		r.runAutoDemand(p)
	}

	if p.Demand > 0 && !p.EndOfStream {
		return r.runDemandController(p)
	}
	return nil
}

func (r *Runtime) runDemandController(p *pad.Pad) error {
	return r.invokeCallback(action.OnDemand, func(ctx *Context) (any, error) {
		return r.behavior.HandleDemand(ctx, p.Ref, p.Demand, p.DemandUnit, r.state)
	})
}

// runAutoDemand implements spec.md §4.4's auto-demand coupling: when an
// output declares which of its element's input pads it replenishes
// (DemandPads), a drop in one input's buffered size to half its
// preferred_size — while every other coupled input still holds
// buffered data — triggers a fresh upstream demand for that input.
func (r *Runtime) runAutoDemand(output *pad.Pad) {
	for _, inputRef := range output.DemandPads {
		input, ok := r.pads.Get(inputRef)
		if !ok || input.Buffer == nil {
			continue
		}
		if input.Buffer.CurrentSize() > input.Buffer.PreferredSize()/2 {
			continue
		}
		if !othersHoldData(r, output.DemandPads, inputRef) {
			continue
		}
		if input.Peer == nil {
			continue
		}
		peer, _ := input.Peer.Endpoint.(*Handle)
		peer.SendDemand(input.Peer.Ref, int64(input.Buffer.PreferredSize()))
	}
}

func othersHoldData(r *Runtime, coupled []pad.Ref, except pad.Ref) bool {
	for _, ref := range coupled {
		if ref == except {
			continue
		}
		p, ok := r.pads.Get(ref)
		if !ok || p.Buffer == nil || p.Buffer.CurrentSize() <= 0 {
			return false
		}
	}
	return true
}
