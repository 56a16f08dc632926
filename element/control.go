package element

import (
	"context"

	"github.com/flowmesh/core/action"
	"github.com/flowmesh/core/pad"
)

// handleControl dispatches one control message. The return reports
// whether the loop should exit.
func (r *Runtime) handleControl(m ctrlMsg) bool {
	switch msg := m.(type) {
	case msgChangePlaybackState:
		r.changePlaybackState(msg.to)

	case msgHandleLink:
		result, err := r.pads.HandleLink(msg.localRef, msg.peerEndpoint, msg.peerRef, msg.peerInfo)
		msg.reply <- linkReply{result: result, err: err}
		if err == nil && result.AnnouncePushMode {
			if peer, ok := msg.peerEndpoint.(*Handle); ok {
				peer.AnnouncePushMode(msg.peerRef)
			}
		}

	case msgHandleUnlink:
		wasDynamic, err := r.pads.HandleUnlink(msg.ref)
		if err != nil {
			r.log.Warn("unlink failed", "ref", msg.ref, "error", err)
			break
		}
		if wasDynamic {
			r.invokePadLifecycle(action.OnPadRemoved, msg.ref, r.behavior.HandlePadRemoved)
		}

	case msgLinkingFinished:
		for _, ref := range r.pads.DrainPendingAdded() {
			r.invokePadLifecycle(action.OnPadAdded, ref, r.behavior.HandlePadAdded)
		}

	case msgPushModeAnnouncement:
		if err := r.pads.EnableToiletIfPull(msg.ref); err != nil {
			r.log.Debug("push_mode_announcement ignored", "ref", msg.ref, "error", err)
		}

	case msgTimerTick:
		err := r.invokeCallback(action.OnTick, func(ctx *Context) (any, error) {
			return r.behavior.HandleTick(ctx, msg.id, r.state)
		})
		if err != nil {
			r.log.Error("timer tick callback failed", "id", msg.id, "error", err)
		}

	case msgClockRatioUpdate:
		r.log.Debug("clock ratio update", "clock", msg.clockID, "ratio", msg.ratio)

	case msgSetControllingPid:
		r.controllingPid = msg.pid

	case msgSetStreamSync:
		r.streamSyncValue = msg.sync

	case msgNotification:
		r.dispatchOther(msg.payload)

	case msgOther:
		r.dispatchOther(msg.payload)

	case msgDown:
		if msg.from == r.parent {
			r.behavior.HandleShutdown(context.Background(), r.state)
			r.handle.exitReason = &ParentCrashError{Reason: msg.reason}
			return true
		}
		r.log.Debug("monitored handle went down", "handle", msg.from.Name(), "reason", msg.reason)

	case msgShutdown:
		r.behavior.HandleShutdown(context.Background(), r.state)
		close(msg.reply)
		return true
	}
	return false
}

func (r *Runtime) dispatchOther(payload any) {
	err := r.invokeCallback(action.OnOther, func(ctx *Context) (any, error) {
		return r.behavior.HandleOther(ctx, payload, r.state)
	})
	if err != nil {
		r.log.Error("other-message callback failed", "error", err)
	}
}

// invokePadLifecycle runs a pad-added/pad-removed callback and applies
// its actions, logging rather than propagating a failure: a dynamic
// pad's lifecycle notification is not itself data-path traffic.
func (r *Runtime) invokePadLifecycle(cb action.Callback, ref pad.Ref, fn func(*Context, pad.Ref, any) (any, error)) {
	err := r.invokeCallback(cb, func(ctx *Context) (any, error) {
		return fn(ctx, ref, r.state)
	})
	if err != nil {
		r.log.Error("pad lifecycle callback failed", "ref", ref, "error", err)
	}
}
