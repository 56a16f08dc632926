// Package element implements the per-element actor runtime of spec.md
// §4.1: one goroutine per element, a priority select that always drains
// control messages ahead of data messages, and a playback state machine
// that gates when data actually reaches user callbacks.
package element

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowmesh/core/action"
	"github.com/flowmesh/core/barrier"
	"github.com/flowmesh/core/clock"
	"github.com/flowmesh/core/pad"
	"github.com/flowmesh/core/pullbuffer"
	"github.com/flowmesh/core/timer"
)

// Option configures a Runtime at Start time.
type Option func(*Runtime)

// WithParent monitors parent and reports playback-state changes and
// forwarded/notified messages to it, per spec.md §4.1.
func WithParent(parent *Handle) Option {
	return func(r *Runtime) { r.parent = parent }
}

// WithClock gives the element a clock to pass to callbacks via Context
// and to use as the default for StartTimer actions that don't specify
// one.
func WithClock(clk *clock.Clock) Option {
	return func(r *Runtime) { r.clock = clk }
}

// WithSyncBarrier wires in the shared Sync rendezvous this element's
// timers and callbacks may coordinate through, per spec.md §4.7.
func WithSyncBarrier(b *barrier.Barrier) Option {
	return func(r *Runtime) { r.sync = b }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

// Runtime is the live state of one running element. It is owned
// exclusively by its own goroutine; the only way to reach it from
// outside is through its Handle.
type Runtime struct {
	handle *Handle
	name   string
	log    *slog.Logger

	behavior Behavior
	state    any

	pads     *pad.Table
	timers   *timer.Controller
	deferred playbackBuffer

	playback      PlaybackState
	pendingTarget *PlaybackState

	parent          *Handle
	clock           *clock.Clock
	sync            *barrier.Barrier
	controllingPid  any
	streamSyncValue any
}

// Start constructs an element from behavior, runs HandleInit
// synchronously so construction failures are reported to the caller
// instead of surfacing later as a crashed goroutine, and then — on
// success — spawns the element's message loop and returns its Handle.
func Start(name string, behavior Behavior, opts any, options ...Option) (*Handle, error) {
	r := &Runtime{
		handle:   newHandle(name),
		name:     name,
		log:      slog.With("component", "element", "element", name),
		behavior: behavior,
		playback: Stopped,
	}
	for _, opt := range options {
		opt(r)
	}
	r.pads = pad.NewTable(behavior.Pads())
	r.timers = timer.New(r.log, func(id string) { r.handle.sendControl(msgTimerTick{id: id}) })

	ctx := r.newContext()
	state, err := behavior.HandleInit(ctx, opts)
	if err != nil {
		return nil, &InitError{Name: name, Reason: err}
	}
	r.state = state
	if err := r.applyActions(action.OnInit, ctx.actions); err != nil {
		return nil, &InitError{Name: name, Reason: err}
	}

	if r.parent != nil {
		r.handle.Monitor(r.parent)
	}

	go r.loop()
	return r.handle, nil
}

// Shutdown requests a graceful stop and blocks until the element's loop
// has exited or timeout elapses, per spec.md §4.1.
func Shutdown(h *Handle, timeout time.Duration) error {
	reply := make(chan struct{})
	select {
	case h.control <- msgShutdown{reply: reply}:
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
	select {
	case <-h.closed:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func (r *Runtime) newContext() *Context {
	return &Context{Log: r.log, Clock: r.clock, Name: r.name, Sync: r.sync, runtime: r}
}

// loop is the element's single goroutine. It always drains a pending
// control message before considering data, matching the teacher's
// priority-drain pipeline loop.
func (r *Runtime) loop() {
	defer func() {
		r.timers.StopAll()
		close(r.handle.closed)
	}()

	for {
		select {
		case m := <-r.handle.control:
			if r.handleControl(m) {
				return
			}
			continue
		default:
		}

		select {
		case m := <-r.handle.control:
			if r.handleControl(m) {
				return
			}
		case m := <-r.handle.data:
			if r.handleData(m) {
				return
			}
		}
	}
}

// handleData is the data-message entry point. A push-mode buffer
// arriving on an input pad while Playing takes a direct shortcut to
// HandleProcess, skipping the generic dispatcher's pull/defer checks,
// per spec.md §4.1's "hot-path shortcut". Everything else that arrives
// before Playing is deferred; once Playing, it runs through
// dispatchData like a drained message would. The return reports
// whether the element should terminate (a fatal toilet overflow).
func (r *Runtime) handleData(m dataMsg) bool {
	if buf, ok := m.(msgBuffer); ok && r.playback == Playing {
		if p, ok := r.pads.Get(buf.ref); ok && p.Direction == pad.Input && p.Mode == pad.Push {
			if err := r.invokeProcess(p, buf.batch); err != nil {
				return r.fail(err)
			}
			return false
		}
	}

	if r.playback != Playing {
		r.deferred.push(m)
		return false
	}
	if err := r.dispatchData(m); err != nil {
		return r.fail(err)
	}
	return false
}

// dispatchData runs one data message through its generic handler,
// whether it arrived live or is being replayed out of the
// playbackBuffer.
func (r *Runtime) dispatchData(m dataMsg) error {
	switch msg := m.(type) {
	case msgBuffer:
		return r.handleBufferMsg(msg)
	case msgCaps:
		return r.handleCapsMsg(msg)
	case msgEvent:
		return r.handleEventMsg(msg)
	case msgDemand:
		return r.handleDemandMsg(msg)
	default:
		return fmt.Errorf("element: unhandled data message %T", m)
	}
}

// fail implements spec.md §7's generic callback-error policy: the
// element drops to Stopped and, if it has a parent, reports the
// failure. A toilet overflow is additionally fatal, and fail reports
// true so the caller ends the loop.
func (r *Runtime) fail(err error) bool {
	r.log.Error("element callback failed", "error", err)
	r.playback = Stopped
	r.reportPlaybackState(Stopped)
	if r.parent != nil {
		r.parent.Notify(ElementFailed{Element: r.handle, Reason: err})
	}

	var overflow *pullbuffer.OverflowError
	if errors.As(err, &overflow) {
		r.behavior.HandleShutdown(context.Background(), r.state)
		r.handle.exitReason = err
		return true
	}
	return false
}

// ElementFailed is the notification sent to a parent when a callback
// error drops this element to Stopped, per spec.md §7.
type ElementFailed struct {
	Element *Handle
	Reason  error
}
