// Package pullbuffer implements the PullBuffer of spec.md §4.3: the
// in-order queue owned by a pull-mode input Pad that issues upstream
// demand as it drains and, in "toilet" mode, detects a push-mode
// producer overrunning a pull-mode consumer.
package pullbuffer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowmesh/core/buffer"
)

// Unit selects the metric a PullBuffer counts in, per spec.md §3's
// demand_unit.
type Unit int

const (
	UnitBuffers Unit = iota
	UnitBytes
)

// Metric implements counting and splitting for one Unit, per spec.md
// §4.3's "the metric object implements count(batch) and
// split(batch, n) -> (head, tail)".
type Metric interface {
	Count(b buffer.Batch) int
	Split(b buffer.Batch, n int) (head, tail buffer.Batch)
	DefaultPreferredSize() int
}

type buffersMetric struct{}

func (buffersMetric) Count(b buffer.Batch) int { return len(b) }

func (buffersMetric) Split(b buffer.Batch, n int) (buffer.Batch, buffer.Batch) {
	if n >= len(b) {
		return b, nil
	}
	return b[:n], b[n:]
}

func (buffersMetric) DefaultPreferredSize() int { return 100 }

type bytesMetric struct{}

func (bytesMetric) Count(b buffer.Batch) int { return b.ByteLen() }

// Split walks buffers accumulating byte length; if n lands inside a
// single buffer's payload, that buffer itself is split in two so the
// head's byte count is exactly n.
func (bytesMetric) Split(b buffer.Batch, n int) (buffer.Batch, buffer.Batch) {
	if n <= 0 {
		return nil, b
	}
	acc := 0
	for i, buf := range b {
		next := acc + buf.Len()
		if next == n {
			return b[:i+1], b[i+1:]
		}
		if next > n {
			offset := n - acc
			head := buffer.New(buf.Payload[:offset])
			tail := buffer.New(buf.Payload[offset:])
			headBatch := append(append(buffer.Batch{}, b[:i]...), head)
			tailBatch := append(buffer.Batch{tail}, b[i+1:]...)
			return headBatch, tailBatch
		}
		acc = next
	}
	return b, nil
}

func (bytesMetric) DefaultPreferredSize() int { return 64 * 1024 }

// MetricFor returns the standard Metric for a Unit.
func MetricFor(u Unit) Metric {
	if u == UnitBytes {
		return bytesMetric{}
	}
	return buffersMetric{}
}

// Upstream is the subset of the peer's address the PullBuffer needs: a
// way to deliver demand credit. A pad package wires its own type in as
// ref and the element runtime's outbound-message sender as Upstream.
type Upstream interface {
	SendDemand(ref any, size int64)
}

// ErrToiletOverflow is wrapped by OverflowError; present for errors.Is
// checks that don't need the pad/size detail.
var ErrToiletOverflow = errors.New("pullbuffer: toilet overflow")

// OverflowError reports a toilet-mode PullBuffer exceeding its fail
// level, per spec.md §7's ToiletOverflow{pad, size}.
type OverflowError struct {
	Ref  any
	Size int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("pullbuffer: toilet overflow on %v at size %d", e.Ref, e.Size)
}

func (e *OverflowError) Unwrap() error { return ErrToiletOverflow }

// recordKind distinguishes a buffer batch record from an in-order
// event/caps marker.
type recordKind int

const (
	recordBuffers recordKind = iota
	recordMarker
)

type record struct {
	kind        recordKind
	batch       buffer.Batch
	count       int
	markerKind  string
	markerValue any
}

// toiletLevels holds the warn/fail thresholds of a PullBuffer in
// toilet mode.
type toiletLevels struct {
	enabled bool
	warn    int
	fail    int
	warned  bool
}

// Item is one element of a TakeResult, either a buffer batch or a
// non-buffer marker (event or caps), in production order.
type Item struct {
	IsBuffer    bool
	Batch       buffer.Batch
	MarkerKind  string
	MarkerValue any
}

// TakeResult is the outcome of Take, per spec.md §4.3: Buffers is true
// for the {Value(list)} variant (at least one buffer record was
// produced) and false for {Empty(list)} (only markers were available).
type TakeResult struct {
	Buffers bool
	Items   []Item
}

// Option configures a PullBuffer at construction.
type Option func(*PullBuffer)

// WithPreferredSize overrides the metric's default preferred_size.
func WithPreferredSize(n int) Option {
	return func(p *PullBuffer) { p.preferredSize = n }
}

// WithMinDemand overrides the default min_demand (preferred_size/4).
func WithMinDemand(n int) Option {
	return func(p *PullBuffer) { p.minDemand = n }
}

// WithToilet switches the PullBuffer into toilet mode from
// construction, with the given warn and fail levels.
func WithToilet(warn, fail int) Option {
	return func(p *PullBuffer) { p.toilet = toiletLevels{enabled: true, warn: warn, fail: fail} }
}

// PullBuffer is the ordered queue described by spec.md §4.3. It is
// exclusively owned by its pad's element and must not be accessed from
// another goroutine.
type PullBuffer struct {
	log      *slog.Logger
	name     string
	upstream Upstream
	ref      any
	unit     Unit
	metric   Metric

	preferredSize int
	minDemand     int
	currentSize   int
	demand        int64
	toilet        toiletLevels

	queue []record
}

// New builds a PullBuffer for the named pad, immediately issuing an
// initial demand of preferred_size upstream (unless the buffer starts
// in toilet mode, where the peer pushes spontaneously).
func New(name string, upstream Upstream, ref any, unit Unit, opts ...Option) *PullBuffer {
	metric := MetricFor(unit)
	p := &PullBuffer{
		log:           slog.With("component", "pullbuffer", "pad", name),
		name:          name,
		upstream:      upstream,
		ref:           ref,
		unit:          unit,
		metric:        metric,
		preferredSize: metric.DefaultPreferredSize(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.minDemand == 0 {
		p.minDemand = p.preferredSize / 4
	}
	if !p.toilet.enabled {
		p.adjustDemand(int64(p.preferredSize))
	}
	return p
}

// EnableToilet switches an already-constructed PullBuffer into toilet
// mode, per spec.md §4.2's enable_toilet_if_pull. No further demand is
// issued once toilet mode is active.
func (p *PullBuffer) EnableToilet(warn, fail int) {
	p.toilet = toiletLevels{enabled: true, warn: warn, fail: fail}
}

// IsEmpty reports whether current_size is zero. Non-buffer markers do
// not count toward current_size.
func (p *PullBuffer) IsEmpty() bool {
	return p.currentSize == 0
}

// CurrentSize returns the sum of buffer record counts currently queued.
func (p *PullBuffer) CurrentSize() int {
	return p.currentSize
}

// StoreBuffers appends a buffer batch to the queue. In non-toilet mode
// this always succeeds, though overdelivery (current_size already at
// or above preferred_size) is logged as a protocol violation. In
// toilet mode, crossing warn_level logs a warning and reaching
// fail_level returns an OverflowError.
func (p *PullBuffer) StoreBuffers(b buffer.Batch) error {
	count := p.metric.Count(b)
	overdelivery := p.currentSize >= p.preferredSize
	p.queue = append(p.queue, record{kind: recordBuffers, batch: b, count: count})
	p.currentSize += count

	if p.toilet.enabled {
		if p.currentSize >= p.toilet.fail {
			return &OverflowError{Ref: p.ref, Size: p.currentSize}
		}
		if p.currentSize >= p.toilet.warn && !p.toilet.warned {
			p.toilet.warned = true
			p.log.Warn("toilet buffer crossed warn level", "size", p.currentSize, "warn_level", p.toilet.warn)
		}
		return nil
	}

	if overdelivery {
		p.log.Warn("protocol violation: overdelivery into pull buffer",
			"size", p.currentSize, "preferred_size", p.preferredSize)
	}
	return nil
}

// StoreMarker appends an in-order event or caps marker. Markers are
// always accepted regardless of mode or fill level, preserving their
// position relative to surrounding buffers.
func (p *PullBuffer) StoreMarker(kind string, value any) {
	p.queue = append(p.queue, record{kind: recordMarker, markerKind: kind, markerValue: value})
}

// Take pops up to count buffer units, splitting a buffer record at the
// boundary if necessary, and returns the non-buffer markers that
// immediately precede or follow the consumed buffers so stream order is
// preserved. After popping, it issues upstream demand per the
// algorithm in spec.md §4.3 (a no-op in toilet mode).
func (p *PullBuffer) Take(count int) (TakeResult, error) {
	if count < 0 {
		return TakeResult{}, fmt.Errorf("pullbuffer: negative take count %d", count)
	}

	result := TakeResult{}
	consumed := 0

	// Leading markers are always included, whether or not any buffer
	// follows.
	for len(p.queue) > 0 && p.queue[0].kind == recordMarker {
		result.Items = append(result.Items, markerItem(p.queue[0]))
		p.queue = p.queue[1:]
	}

	remaining := count
	for remaining > 0 && len(p.queue) > 0 && p.queue[0].kind == recordBuffers {
		rec := p.queue[0]
		if rec.count <= remaining {
			p.queue = p.queue[1:]
			result.Items = append(result.Items, buffersItem(rec.batch))
			result.Buffers = true
			consumed += rec.count
			remaining -= rec.count
			p.currentSize -= rec.count
			continue
		}

		head, tail := p.metric.Split(rec.batch, remaining)
		tailCount := p.metric.Count(tail)
		taken := rec.count - tailCount
		p.queue[0] = record{kind: recordBuffers, batch: tail, count: tailCount}
		result.Items = append(result.Items, buffersItem(head))
		result.Buffers = true
		consumed += taken
		p.currentSize -= taken
		remaining = 0
	}

	// Trailing markers immediately following the consumed buffers.
	for len(p.queue) > 0 && p.queue[0].kind == recordMarker {
		result.Items = append(result.Items, markerItem(p.queue[0]))
		p.queue = p.queue[1:]
	}

	if !p.toilet.enabled {
		p.adjustDemand(int64(consumed))
	}
	return result, nil
}

func markerItem(r record) Item {
	return Item{IsBuffer: false, MarkerKind: r.markerKind, MarkerValue: r.markerValue}
}

func buffersItem(b buffer.Batch) Item {
	return Item{IsBuffer: true, Batch: b}
}

// adjustDemand implements spec.md §4.3's non-toilet demand algorithm:
// given the consumed delta, it either folds the delta into the
// outstanding credit or issues a fresh Demand message upstream.
func (p *PullBuffer) adjustDemand(delta int64) {
	newDemand := p.demand + delta
	if p.currentSize < p.preferredSize && newDemand > 0 {
		toDemand := newDemand
		if int64(p.minDemand) > toDemand {
			toDemand = int64(p.minDemand)
		}
		if p.upstream != nil {
			p.upstream.SendDemand(p.ref, toDemand)
		}
		p.demand = newDemand - toDemand
		return
	}
	p.demand = newDemand
}

// Demand returns the demand counter of spec.md §4.3 (non-toilet mode
// only): units consumed but not yet requested upstream, minus any
// surplus sent to satisfy min_demand, so it may be negative. It is zero
// right after a demand covering everything consumed has been sent.
func (p *PullBuffer) Demand() int64 {
	return p.demand
}

// PreferredSize returns the configured preferred_size, for callers that
// need to recompute demand thresholds (e.g. auto-demand coupling).
func (p *PullBuffer) PreferredSize() int {
	return p.preferredSize
}
