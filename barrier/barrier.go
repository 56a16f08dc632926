// Package barrier implements the Sync rendezvous object of spec.md §4.7:
// it blocks every registered participant's sync() call until all of
// them have called it, then releases each cohort simultaneously after
// compensating for per-participant latency.
package barrier

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBadActivity is returned when an operation is invalid for the
// barrier's current active/inactive state, per spec.md §7's
// BadActivityRequest.
var ErrBadActivity = errors.New("barrier: bad activity request")

// status is a participant's position in the current round.
type status int

const (
	statusRegistered status = iota
	statusSync
)

// participant is the controller's bookkeeping for one registered caller.
type participant struct {
	status  status
	latency time.Duration
	reply   chan struct{}
}

// Barrier coordinates N participants through repeated synchronized
// rendezvous rounds. The zero value is not usable; construct with New.
type Barrier struct {
	log       *slog.Logger
	emptyExit bool

	mu           sync.Mutex
	active       bool
	exited       bool // a registered participant has been unregistered
	participants map[string]*participant
}

// New creates an inactive Barrier. When emptyExit is true, the barrier
// considers itself done (Closed reports true) once its last registered
// participant exits.
func New(emptyExit bool) *Barrier {
	return &Barrier{
		log:          slog.With("component", "barrier"),
		emptyExit:    emptyExit,
		participants: make(map[string]*participant),
	}
}

// Register adds id as a participant. Valid only while the barrier is
// inactive.
func (b *Barrier) Register(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active {
		return ErrBadActivity
	}
	b.participants[id] = &participant{status: statusRegistered}
	return nil
}

// Unregister removes id, as if its owning participant had exited. If
// emptyExit was set and no participants remain, subsequent Closed calls
// report true.
func (b *Barrier) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.participants[id]; ok {
		b.exited = true
	}
	delete(b.participants, id)
}

// Closed reports whether the barrier should self-terminate: emptyExit
// is set, at least one participant has exited, and no participants
// remain.
func (b *Barrier) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emptyExit && b.exited && len(b.participants) == 0
}

// Activate flips the barrier to active. Re-activating an already active
// barrier is an error.
func (b *Barrier) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active {
		return ErrBadActivity
	}
	b.active = true
	return nil
}

// Deactivate flips the barrier to inactive. Deactivating an already
// inactive barrier is an error.
func (b *Barrier) Deactivate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return ErrBadActivity
	}
	b.active = false
	return nil
}

// Sync blocks the calling participant until its cohort is released, or
// returns immediately if the barrier is inactive. id must have been
// registered; latency is this participant's compensation budget for
// this round.
func (b *Barrier) Sync(id string, latency time.Duration) error {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return nil
	}
	p, ok := b.participants[id]
	if !ok {
		b.mu.Unlock()
		return ErrBadActivity
	}
	p.status = statusSync
	p.latency = latency
	reply := make(chan struct{})
	p.reply = reply

	if b.allSynced() {
		b.releaseRound()
	}
	b.mu.Unlock()

	<-reply
	return nil
}

// allSynced reports whether every registered participant is in the
// sync status. Must be called with b.mu held.
func (b *Barrier) allSynced() bool {
	if len(b.participants) == 0 {
		return false
	}
	for _, p := range b.participants {
		if p.status != statusSync {
			return false
		}
	}
	return true
}

// releaseRound computes the round's max latency, groups participants by
// latency, and schedules each group's simultaneous release at
// max_latency - latency from now, per spec.md §4.7. Must be called with
// b.mu held.
func (b *Barrier) releaseRound() {
	var maxLatency time.Duration
	for _, p := range b.participants {
		if p.latency > maxLatency {
			maxLatency = p.latency
		}
	}

	groups := make(map[time.Duration][]*participant)
	for _, p := range b.participants {
		groups[p.latency] = append(groups[p.latency], p)
	}

	for latency, group := range groups {
		delay := maxLatency - latency
		members := group
		time.AfterFunc(delay, func() {
			b.mu.Lock()
			replies := make([]chan struct{}, 0, len(members))
			for _, p := range members {
				p.status = statusRegistered
				replies = append(replies, p.reply)
				p.reply = nil
			}
			b.mu.Unlock()

			for _, reply := range replies {
				close(reply)
			}
		})
	}
}
