// Package clock implements the core's time source: a broadcaster that
// publishes a running nominal-to-real-time ratio to subscribers, as
// described in spec.md §3 ("Clock") and §9 ("represent as a broadcast
// channel publishing (clock_id, ratio) to subscribers").
package clock

import (
	"log/slog"
	"sync"
)

// subscriberBuffer bounds how many ratio updates a slow subscriber can
// fall behind by before updates are dropped for it. A clock's ratio
// changes rarely, so a small buffer is generous; this mirrors the
// teacher's per-purpose sized channel buffers (e.g. viewerCaptionBuffer).
const subscriberBuffer = 4

// Update is a single ratio change published by a Clock.
type Update struct {
	ClockID string
	Ratio   float64
}

// Clock publishes ratio updates to any number of subscribers. Only the
// clock's owner calls SetRatio; everyone else subscribes. The zero
// value is not usable; construct with New.
type Clock struct {
	id  string
	log *slog.Logger

	mu    sync.Mutex
	ratio float64
	subs  map[chan Update]struct{}
}

// New creates a Clock with the given identity and an initial ratio of 1.0
// (nominal time advances at real time).
func New(id string) *Clock {
	return &Clock{
		id:    id,
		log:   slog.With("component", "clock", "clock_id", id),
		ratio: 1.0,
		subs:  make(map[chan Update]struct{}),
	}
}

// ID returns the clock's identity, used by timers to key their
// subscription.
func (c *Clock) ID() string {
	return c.id
}

// Ratio returns the current ratio.
func (c *Clock) Ratio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ratio
}

// SetRatio updates the ratio and publishes it to every subscriber. A
// subscriber that isn't keeping up with its buffer misses the update;
// Ratio() remains available for a subscriber to resync.
func (c *Clock) SetRatio(ratio float64) {
	c.mu.Lock()
	c.ratio = ratio
	subs := make([]chan Update, 0, len(c.subs))
	for ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	update := Update{ClockID: c.id, Ratio: ratio}
	for _, ch := range subs {
		select {
		case ch <- update:
		default:
			c.log.Warn("subscriber slow, dropping ratio update")
		}
	}
}

// Subscribe registers a new subscriber channel and returns it along
// with the current ratio, so the caller can seed its local copy without
// racing a concurrent SetRatio.
func (c *Clock) Subscribe() (<-chan Update, float64) {
	ch := make(chan Update, subscriberBuffer)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[ch] = struct{}{}
	return ch, c.ratio
}

// Unsubscribe removes a subscriber previously returned by Subscribe.
func (c *Clock) Unsubscribe(ch <-chan Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		if sub == ch {
			delete(c.subs, sub)
			close(sub)
			return
		}
	}
}
