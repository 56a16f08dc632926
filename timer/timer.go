// Package timer implements the per-element timer controller of
// spec.md §4.8: scheduled ticks aligned to a clock's ratio. A timer
// fires every interval/ratio of wall-clock time and is rescheduled
// whenever its clock's ratio changes.
package timer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmesh/core/clock"
)

// ErrDuplicateID is returned by Controller.Start when the given id is
// already in use.
var ErrDuplicateID = fmt.Errorf("timer: duplicate id")

// ErrUnknownID is returned by Controller.Stop for an id that was never
// started or was already stopped.
var ErrUnknownID = fmt.Errorf("timer: unknown id")

// Error wraps a timer failure with its id and kind, matching spec.md
// §7's TimerError{kind, id}.
type Error struct {
	Kind string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("timer %s: %s: %v", e.ID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// entry is the controller's bookkeeping for one running timer.
type entry struct {
	id       string
	interval time.Duration
	clock    *clock.Clock
	ratio    float64
	nextTick time.Time
	timer    *time.Timer
}

// TickFunc is invoked from the firing timer's goroutine (started by
// time.AfterFunc), not the owner's loop, whenever a timer fires.
// Implementations must not block.
type TickFunc func(id string)

// Controller owns every timer started by a single element. It is not
// safe for concurrent use by more than one goroutine; like a Pad, a
// Controller belongs exclusively to its owning element's runtime loop.
type Controller struct {
	log  *slog.Logger
	onTick TickFunc

	mu       sync.Mutex
	entries  map[string]*entry
	byClock  map[string]map[string]struct{} // clock id -> set of timer ids
	clockSub map[string]func()               // clock id -> unsubscribe func
}

// New creates a Controller that calls onTick(id) whenever a timer fires.
func New(log *slog.Logger, onTick TickFunc) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:      log.With("component", "timer-controller"),
		onTick:   onTick,
		entries:  make(map[string]*entry),
		byClock:  make(map[string]map[string]struct{}),
		clockSub: make(map[string]func()),
	}
}

// Start schedules a new timer. It fails with ErrDuplicateID if id is
// already running. If no other timer already uses clk, the controller
// subscribes to it.
func (c *Controller) Start(id string, interval time.Duration, clk *clock.Clock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; exists {
		return &Error{Kind: "duplicate", ID: id, Err: ErrDuplicateID}
	}

	ratio := 1.0
	if clk != nil {
		ratio = clk.Ratio()
		c.ensureSubscribed(clk)
	}

	e := &entry{
		id:       id,
		interval: interval,
		clock:    clk,
		ratio:    ratio,
		nextTick: time.Now().Add(scaledInterval(interval, ratio)),
	}
	e.timer = time.AfterFunc(scaledInterval(interval, ratio), func() { c.fire(id) })

	c.entries[id] = e
	if clk != nil {
		set := c.byClock[clk.ID()]
		if set == nil {
			set = make(map[string]struct{})
			c.byClock[clk.ID()] = set
		}
		set[id] = struct{}{}
	}
	return nil
}

// Stop cancels a running timer. It fails with ErrUnknownID if id is not
// running. If id was the last timer using its clock, the controller
// unsubscribes from that clock.
func (c *Controller) Stop(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return &Error{Kind: "unknown", ID: id, Err: ErrUnknownID}
	}
	e.timer.Stop()
	delete(c.entries, id)

	if e.clock != nil {
		set := c.byClock[e.clock.ID()]
		delete(set, id)
		if len(set) == 0 {
			delete(c.byClock, e.clock.ID())
			if unsub, ok := c.clockSub[e.clock.ID()]; ok {
				unsub()
				delete(c.clockSub, e.clock.ID())
			}
		}
	}
	return nil
}

// StopAll cancels every running timer, used when the owning element
// shuts down.
func (c *Controller) StopAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		_ = c.Stop(id)
	}
}

// fire is the time.AfterFunc callback: it invokes onTick and reschedules
// the timer for its next tick, honoring the current ratio.
func (c *Controller) fire(id string) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.nextTick = e.nextTick.Add(scaledInterval(e.interval, e.ratio))
	delay := time.Until(e.nextTick)
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { c.fire(id) })
	c.mu.Unlock()

	c.onTick(id)
}

// handleClockUpdate recomputes next_tick for every timer bound to the
// updated clock, per spec.md §4.8's handle_clock_update.
func (c *Controller) handleClockUpdate(clockID string, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id := range c.byClock[clockID] {
		e := c.entries[id]
		if e == nil {
			continue
		}
		remaining := e.nextTick.Sub(now)
		oldRatio := e.ratio
		e.ratio = ratio
		e.timer.Stop()

		delay := scaledRemaining(remaining, oldRatio, ratio)
		if delay < 0 {
			delay = 0
		}
		e.nextTick = now.Add(delay)
		e.timer = time.AfterFunc(delay, func() { c.fire(id) })
	}
}

// ensureSubscribed subscribes to clk exactly once, forwarding its ratio
// updates into handleClockUpdate until the subscription is cancelled.
func (c *Controller) ensureSubscribed(clk *clock.Clock) {
	if _, ok := c.clockSub[clk.ID()]; ok {
		return
	}
	ch, _ := clk.Subscribe()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case u, ok := <-ch:
				if !ok {
					return
				}
				c.handleClockUpdate(u.ClockID, u.Ratio)
			case <-done:
				return
			}
		}
	}()
	c.clockSub[clk.ID()] = func() {
		close(done)
		clk.Unsubscribe(ch)
	}
}

// scaledInterval divides interval by ratio, per spec.md §3's Timer
// definition ("every interval/ratio wall-clock units").
func scaledInterval(interval time.Duration, ratio float64) time.Duration {
	if ratio <= 0 {
		ratio = 1.0
	}
	return time.Duration(float64(interval) / ratio)
}

// scaledRemaining converts a real-time remaining duration measured under
// oldRatio back to nominal time, then rescales it to real time under
// newRatio.
func scaledRemaining(remaining time.Duration, oldRatio, newRatio float64) time.Duration {
	if oldRatio <= 0 {
		oldRatio = 1.0
	}
	if newRatio <= 0 {
		newRatio = 1.0
	}
	nominal := float64(remaining) * oldRatio
	return time.Duration(nominal / newRatio)
}
