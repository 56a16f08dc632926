package element

import (
	"context"
	"log/slog"

	"github.com/flowmesh/core/action"
	"github.com/flowmesh/core/barrier"
	"github.com/flowmesh/core/buffer"
	"github.com/flowmesh/core/clock"
	"github.com/flowmesh/core/pad"
	"github.com/flowmesh/core/pullbuffer"
)

// Context is passed to every user callback. It carries the element's
// logger and clock and is the only way a callback may queue actions —
// callback bodies must not call back into the runtime synchronously,
// per spec.md §5.
type Context struct {
	Log   *slog.Logger
	Clock *clock.Clock
	Name  string
	// Sync is the shared rendezvous barrier, if this element was
	// started with one. A sink callback may block in Sync.Sync to align
	// its presentation with its siblings, per spec.md §4.7.
	Sync *barrier.Barrier

	runtime *Runtime
	actions []action.Action
}

// Emit queues an action to be applied by the runtime after the
// callback returns, per spec.md §9.
func (c *Context) Emit(a action.Action) {
	c.actions = append(c.actions, a)
}

// Take pulls up to count demand_unit's worth of buffered data out of
// one of this element's own pull-mode input pads. Unlike every other
// Context method, this reads local state directly rather than queuing
// an action — per spec.md §4.3, draining a PullBuffer is how a filter's
// own handle_demand callback gets the data it then processes.
func (c *Context) Take(ref pad.Ref, count int) (pullbuffer.TakeResult, error) {
	return c.runtime.takeFrom(ref, count)
}

// Behavior is the capability record a user element module supplies at
// construction, per spec.md §6. Every method may mutate and return a
// new state value; state is opaque to the runtime.
type Behavior interface {
	// Pads returns this element's static pad declarations. Called once,
	// before HandleInit.
	Pads() []pad.Declaration

	HandleInit(ctx *Context, opts any) (any, error)

	HandleStoppedToPrepared(ctx *Context, state any) (any, error)
	HandlePreparedToPlaying(ctx *Context, state any) (any, error)
	HandlePlayingToPrepared(ctx *Context, state any) (any, error)
	HandlePreparedToStopped(ctx *Context, state any) (any, error)

	HandlePadAdded(ctx *Context, ref pad.Ref, state any) (any, error)
	HandlePadRemoved(ctx *Context, ref pad.Ref, state any) (any, error)

	HandleDemand(ctx *Context, ref pad.Ref, size int64, unit pullbuffer.Unit, state any) (any, error)
	HandleProcess(ctx *Context, ref pad.Ref, batch buffer.Batch, state any) (any, error)
	HandleCaps(ctx *Context, ref pad.Ref, caps any, state any) (any, error)
	HandleEvent(ctx *Context, ref pad.Ref, event any, state any) (any, error)

	HandleTick(ctx *Context, id string, state any) (any, error)
	HandleOther(ctx *Context, msg any, state any) (any, error)

	HandleShutdown(ctx context.Context, state any)
}

// BaseBehavior implements every Behavior method as a no-op that leaves
// state unchanged, so a concrete element need only override the
// callbacks it cares about — the same "embed and override" shape the
// teacher's distribution.Viewer implementations use for optional
// methods.
type BaseBehavior struct{}

func (BaseBehavior) Pads() []pad.Declaration { return nil }

func (BaseBehavior) HandleInit(_ *Context, _ any) (any, error) { return nil, nil }

func (BaseBehavior) HandleStoppedToPrepared(_ *Context, state any) (any, error) { return state, nil }
func (BaseBehavior) HandlePreparedToPlaying(_ *Context, state any) (any, error) { return state, nil }
func (BaseBehavior) HandlePlayingToPrepared(_ *Context, state any) (any, error) { return state, nil }
func (BaseBehavior) HandlePreparedToStopped(_ *Context, state any) (any, error) { return state, nil }

func (BaseBehavior) HandlePadAdded(_ *Context, _ pad.Ref, state any) (any, error)   { return state, nil }
func (BaseBehavior) HandlePadRemoved(_ *Context, _ pad.Ref, state any) (any, error) { return state, nil }

func (BaseBehavior) HandleDemand(_ *Context, _ pad.Ref, _ int64, _ pullbuffer.Unit, state any) (any, error) {
	return state, nil
}
func (BaseBehavior) HandleProcess(_ *Context, _ pad.Ref, _ buffer.Batch, state any) (any, error) {
	return state, nil
}
func (BaseBehavior) HandleCaps(_ *Context, _ pad.Ref, _ any, state any) (any, error) {
	return state, nil
}
func (BaseBehavior) HandleEvent(_ *Context, _ pad.Ref, _ any, state any) (any, error) {
	return state, nil
}

func (BaseBehavior) HandleTick(_ *Context, _ string, state any) (any, error)  { return state, nil }
func (BaseBehavior) HandleOther(_ *Context, _ any, state any) (any, error)    { return state, nil }

func (BaseBehavior) HandleShutdown(_ context.Context, _ any) {}
