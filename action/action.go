// Package action defines the Action values user element callbacks
// return (spec.md §6) and the permission check the runtime applies
// before processing them, per spec.md §9's "actions are processed by
// the runtime after the callback returns — not during".
package action

import (
	"fmt"
	"time"

	"github.com/flowmesh/core/buffer"
	"github.com/flowmesh/core/clock"
	"github.com/flowmesh/core/pad"
)

// Kind enumerates the action variants of spec.md §6.
type Kind int

const (
	KindBuffer Kind = iota
	KindCaps
	KindEvent
	KindDemand
	KindRedemand
	KindForward
	KindNotify
	KindStartTimer
	KindStopTimer
	KindEndOfStream
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindCaps:
		return "caps"
	case KindEvent:
		return "event"
	case KindDemand:
		return "demand"
	case KindRedemand:
		return "redemand"
	case KindForward:
		return "forward"
	case KindNotify:
		return "notify"
	case KindStartTimer:
		return "start_timer"
	case KindStopTimer:
		return "stop_timer"
	case KindEndOfStream:
		return "end_of_stream"
	default:
		return "unknown"
	}
}

// Action is one action returned by a callback, per spec.md §6. Only
// the fields relevant to Kind are meaningful.
type Action struct {
	Kind Kind
	Ref  pad.Ref

	Buffer buffer.Batch
	Caps   any
	Event  any

	DemandSize int64

	ForwardMsg any
	NotifyMsg  any

	TimerID       string
	TimerInterval time.Duration
	TimerClock    *clock.Clock
}

// Constructors mirror spec.md §6's action kind list.

func Buffer(ref pad.Ref, b buffer.Batch) Action  { return Action{Kind: KindBuffer, Ref: ref, Buffer: b} }
func Caps(ref pad.Ref, c any) Action             { return Action{Kind: KindCaps, Ref: ref, Caps: c} }
func Event(ref pad.Ref, e any) Action            { return Action{Kind: KindEvent, Ref: ref, Event: e} }
func Demand(ref pad.Ref, n int64) Action         { return Action{Kind: KindDemand, Ref: ref, DemandSize: n} }
func Redemand(ref pad.Ref) Action                { return Action{Kind: KindRedemand, Ref: ref} }
func Forward(msg any) Action                     { return Action{Kind: KindForward, ForwardMsg: msg} }
func Notify(msg any) Action                      { return Action{Kind: KindNotify, NotifyMsg: msg} }
func EndOfStream(ref pad.Ref) Action              { return Action{Kind: KindEndOfStream, Ref: ref} }

func StartTimer(id string, interval time.Duration, clk *clock.Clock) Action {
	return Action{Kind: KindStartTimer, TimerID: id, TimerInterval: interval, TimerClock: clk}
}

func StopTimer(id string) Action {
	return Action{Kind: KindStopTimer, TimerID: id}
}

// Callback identifies which element callback an Action list was
// returned from, for permission checking.
type Callback int

const (
	OnInit Callback = iota
	OnStoppedToPrepared
	OnPreparedToPlaying
	OnPlayingToPrepared
	OnPreparedToStopped
	OnPadAdded
	OnPadRemoved
	OnDemand
	OnProcess
	OnCaps
	OnEvent
	OnTick
	OnOther
	OnShutdown
)

// Error reports an action disallowed in the callback that returned it,
// per spec.md §7's InvalidAction{action, callback}.
type Error struct {
	Kind     Kind
	Callback Callback
}

func (e *Error) Error() string {
	return fmt.Sprintf("action: %s not permitted from callback %d", e.Kind, e.Callback)
}

// dataCallbacks are the callbacks during which a pad is actually
// flowing data, so buffer/caps/event/demand/redemand/end_of_stream
// actions make sense.
var dataCallbacks = map[Callback]bool{
	OnDemand:  true,
	OnProcess: true,
	OnCaps:    true,
	OnEvent:   true,
	OnTick:    true,
	OnOther:   true,
}

// Validate checks that action a is permitted to be returned from cb. If
// a targets a pad (most kinds do), dir is that pad's direction.
func Validate(cb Callback, a Action, dir pad.Direction) error {
	switch a.Kind {
	case KindForward, KindNotify, KindStartTimer, KindStopTimer:
		return nil // permitted from every callback
	case KindBuffer:
		if !dataCallbacks[cb] || dir != pad.Output {
			return &Error{Kind: a.Kind, Callback: cb}
		}
		return nil
	case KindCaps, KindEvent, KindRedemand, KindEndOfStream:
		if !dataCallbacks[cb] {
			return &Error{Kind: a.Kind, Callback: cb}
		}
		return nil
	case KindDemand:
		if !dataCallbacks[cb] || dir != pad.Input {
			return &Error{Kind: a.Kind, Callback: cb}
		}
		return nil
	default:
		return &Error{Kind: a.Kind, Callback: cb}
	}
}
