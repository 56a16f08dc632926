package element

import "github.com/flowmesh/core/action"

// changePlaybackState walks, one adjacent hop at a time, from the
// element's current playback state toward target, invoking the
// matching Behavior callback at each hop, per spec.md §4.1's
// transition table. A second request while one is already underway is
// refused: pendingTarget stays set for the duration of the walk.
func (r *Runtime) changePlaybackState(target PlaybackState) {
	if r.pendingTarget != nil {
		r.log.Warn("playback transition already pending", "target", target)
		return
	}
	r.pendingTarget = &target
	defer func() { r.pendingTarget = nil }()

	for r.playback != target {
		tr, ok := nextTransition(r.playback, target)
		if !ok {
			break
		}
		if err := r.invokeTransition(tr); err != nil {
			r.log.Error("playback transition failed", "transition", tr.String(), "error", err)
			r.playback = Stopped
			r.reportPlaybackState(Stopped)
			if r.parent != nil {
				r.parent.Notify(ElementFailed{Element: r.handle, Reason: err})
			}
			return
		}
		r.playback = tr.to
		r.reportPlaybackState(tr.to)
		if tr.to == Playing {
			r.drainPlaybackBuffer()
		}
	}
}

// invokeTransition runs the Behavior callback for one hop and applies
// its returned actions.
func (r *Runtime) invokeTransition(tr transition) error {
	return r.invokeCallback(callbackFor(tr), func(ctx *Context) (any, error) {
		switch tr.to {
		case Prepared:
			if tr.from == Stopped {
				return r.behavior.HandleStoppedToPrepared(ctx, r.state)
			}
			return r.behavior.HandlePlayingToPrepared(ctx, r.state)
		case Playing:
			return r.behavior.HandlePreparedToPlaying(ctx, r.state)
		case Stopped:
			return r.behavior.HandlePreparedToStopped(ctx, r.state)
		default:
			return r.state, nil
		}
	})
}

func callbackFor(tr transition) action.Callback {
	switch {
	case tr.from == Stopped && tr.to == Prepared:
		return action.OnStoppedToPrepared
	case tr.from == Prepared && tr.to == Playing:
		return action.OnPreparedToPlaying
	case tr.from == Playing && tr.to == Prepared:
		return action.OnPlayingToPrepared
	case tr.from == Prepared && tr.to == Stopped:
		return action.OnPreparedToStopped
	default:
		return action.OnOther
	}
}

// PlaybackStateChanged is the notification sent to a parent whenever
// this element completes a playback transition, per spec.md §4.1.
type PlaybackStateChanged struct {
	Element *Handle
	State   PlaybackState
}

func (r *Runtime) reportPlaybackState(s PlaybackState) {
	if r.parent != nil {
		r.parent.Notify(PlaybackStateChanged{Element: r.handle, State: s})
	}
}

// drainPlaybackBuffer replays every message deferred while playback
// wasn't Playing, in FIFO order, per spec.md §4.6. A failure mid-drain
// is logged and reported to the parent as ElementFailed, the failing
// message is dropped, and the remaining undrained messages are put back
// at the head of the queue rather than lost; the transition itself has
// already completed and is not rolled back.
func (r *Runtime) drainPlaybackBuffer() {
	msgs := r.deferred.drain()
	for i, m := range msgs {
		if err := r.dispatchData(m); err != nil {
			r.log.Error("playback buffer drain aborted", "error", err)
			if r.parent != nil {
				r.parent.Notify(ElementFailed{Element: r.handle, Reason: err})
			}
			r.deferred.pushFront(msgs[i+1:])
			return
		}
	}
}
