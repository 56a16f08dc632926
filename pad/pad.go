// Package pad implements the typed, directional pad model and the
// link/unlink handshake of spec.md §4.2. A Table owns every pad of one
// element, the way an element "exclusively owns its pads" per §3's
// ownership rules.
package pad

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowmesh/core/pullbuffer"
)

// Direction is a pad's fixed data-flow direction.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Mode is a pad's fixed flow-control discipline.
type Mode int

const (
	Push Mode = iota
	Pull
)

func (m Mode) String() string {
	if m == Push {
		return "push"
	}
	return "pull"
}

// Availability distinguishes statically declared pads from "on-request"
// pads that are instantiated per link.
type Availability int

const (
	Always Availability = iota
	OnRequest
)

// Ref identifies one pad instance. Static pads use only Name; dynamic
// pads add a Generation, matching spec.md §3's "either equal to name
// for static pads, or a (name, generation) tuple for dynamic pads".
// Ref is comparable and usable directly as a map key.
type Ref struct {
	Name       string
	Generation int64
	Dynamic    bool
}

func (r Ref) String() string {
	if !r.Dynamic {
		return r.Name
	}
	return fmt.Sprintf("%s:%d", r.Name, r.Generation)
}

// CapsSpec is the match predicate an accepted_caps declaration is
// reduced to. The caps-matching DSL itself is out of scope (spec.md
// §1); only this predicate signature is consumed.
type CapsSpec interface {
	Match(caps any) bool
}

// CapsFunc adapts a plain function to CapsSpec.
type CapsFunc func(caps any) bool

func (f CapsFunc) Match(caps any) bool { return f(caps) }

// AcceptAny is a CapsSpec that matches every caps value.
var AcceptAny CapsSpec = CapsFunc(func(any) bool { return true })

// Declaration is a pad as declared by an element's behavior module,
// before any instance exists.
type Declaration struct {
	Name            string
	Direction       Direction
	Mode            Mode
	Availability    Availability
	DemandUnit      pullbuffer.Unit
	OtherDemandUnit pullbuffer.Unit
	AcceptedCaps    CapsSpec

	// SampleCaps, if non-empty, are caps values this pad is known to
	// support. Link-time compatibility checking uses these as a
	// best-effort substitute for the out-of-scope caps-intersection
	// DSL (see capsIntersect).
	SampleCaps []any

	// PreferredSize/MinDemand/ToiletWarn/ToiletFail configure the
	// PullBuffer created for a pull input pad, per spec.md §6.
	PreferredSize int
	MinDemand     int
	ToiletWarn    int
	ToiletFail    int
}

// PeerRef is the weak reference a linked pad holds to its peer: an
// opaque handle to the peer's element plus the peer's own Ref. The pad
// package never dereferences Endpoint; only the element runtime that
// supplied it knows how to send to it.
type PeerRef struct {
	Endpoint any
	Ref      Ref
}

// Pad is one typed endpoint, per spec.md §3.
type Pad struct {
	Ref             Ref
	Direction       Direction
	Mode            Mode
	DemandUnit      pullbuffer.Unit
	OtherDemandUnit pullbuffer.Unit
	AcceptedCaps    CapsSpec
	SampleCaps      []any

	Caps any
	Peer *PeerRef

	// Buffer is populated only for a pull input pad.
	Buffer *pullbuffer.PullBuffer

	// Demand is the credit counter for an output pad (spec.md §3). A
	// pull input pad's demand is kept by its Buffer (PullBuffer.Demand);
	// this field is not updated for it.
	Demand int64

	// DemandPads, on an output pad of an auto-demand filter, is the set
	// of input pads whose upstream demand this output's downstream
	// demand replenishes (spec.md §4.4).
	DemandPads []Ref

	StartOfStream bool
	EndOfStream   bool

	decl Declaration
}

// Sentinel and typed errors for the link/unlink protocol, per spec.md §7.
var (
	ErrUnknownPad     = errors.New("pad: unknown pad")
	ErrAlreadyLinked  = errors.New("pad: already linked")
	ErrModeMismatch   = errors.New("pad: incompatible modes")
	ErrUnitMismatch   = errors.New("pad: incompatible demand units")
	ErrCapsMismatch   = errors.New("pad: caps specifications do not intersect")
	ErrWrongKind      = errors.New("pad: operation requires a pull input pad")
	ErrNotLinked      = errors.New("pad: not linked")
)

// LinkError wraps a link/unlink failure with the pad ref involved, per
// spec.md §7's LinkError{reason}.
type LinkError struct {
	Ref Ref
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("pad %s: %v", e.Ref, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// LinkInfo is what the peer side of a link handshake reports about
// itself, enough to check mode/unit/caps compatibility without the pad
// package depending on the element or pipeline packages.
type LinkInfo struct {
	Mode            Mode
	DemandUnit      pullbuffer.Unit
	OtherDemandUnit pullbuffer.Unit
	AcceptedCaps    CapsSpec
	SampleCaps      []any
}

// LinkResult is returned by Table.HandleLink.
type LinkResult struct {
	Pad *Pad
	// AnnouncePushMode is true when this link just created a
	// toilet-mode PullBuffer on a pull input fed by a push output; the
	// caller (element runtime) then sends a push_mode_announcement for
	// the peer's pad to the peer, per spec.md §4.2.
	AnnouncePushMode bool
}

// Table owns every pad of a single element.
type Table struct {
	log     *slog.Logger
	decls   map[string]Declaration
	pads    map[Ref]*Pad
	nextGen map[string]int64
	pending []Ref // dynamic pads created since the last LinkingFinished
}

// NewTable builds a Table from an element's static pad declarations,
// creating Pad instances immediately for every Always-availability
// declaration. OnRequest declarations are instantiated lazily by
// GetPadRef or HandleLink.
func NewTable(decls []Declaration) *Table {
	t := &Table{
		log:     slog.With("component", "pad-table"),
		decls:   make(map[string]Declaration),
		pads:    make(map[Ref]*Pad),
		nextGen: make(map[string]int64),
	}
	for _, d := range decls {
		t.decls[d.Name] = d
		if d.Availability == Always {
			ref := Ref{Name: d.Name}
			t.pads[ref] = newPad(d, ref)
		}
	}
	return t
}

func newPad(d Declaration, ref Ref) *Pad {
	return &Pad{
		Ref:             ref,
		Direction:       d.Direction,
		Mode:            d.Mode,
		DemandUnit:      d.DemandUnit,
		OtherDemandUnit: d.OtherDemandUnit,
		AcceptedCaps:    d.AcceptedCaps,
		SampleCaps:      d.SampleCaps,
		decl:            d,
	}
}

// Get returns the pad for ref, if it exists.
func (t *Table) Get(ref Ref) (*Pad, bool) {
	p, ok := t.pads[ref]
	return p, ok
}

// All returns every currently instantiated pad.
func (t *Table) All() []*Pad {
	pads := make([]*Pad, 0, len(t.pads))
	for _, p := range t.pads {
		pads = append(pads, p)
	}
	return pads
}

// GetPadRef resolves name to a Ref, per spec.md §4.2: for a statically
// declared (Always) pad, it returns the static Ref; for an on-request
// pad, it allocates and instantiates a fresh (name, generation) Ref.
func (t *Table) GetPadRef(name string) (Ref, error) {
	d, ok := t.decls[name]
	if !ok {
		return Ref{}, &LinkError{Ref: Ref{Name: name}, Err: ErrUnknownPad}
	}
	if d.Availability == Always {
		return Ref{Name: name}, nil
	}
	gen := t.nextGen[name]
	t.nextGen[name] = gen + 1
	ref := Ref{Name: name, Generation: gen, Dynamic: true}
	t.pads[ref] = newPad(d, ref)
	t.pending = append(t.pending, ref)
	return ref, nil
}

// DrainPendingAdded returns and clears the set of dynamic pads created
// since the last call, for the runtime to emit handle_pad_added
// notifications after LinkingFinished, per spec.md §4.2.
func (t *Table) DrainPendingAdded() []Ref {
	pending := t.pending
	t.pending = nil
	return pending
}

// modeCompatible implements spec.md §4.2's mode-compatibility table.
// toilet reports whether the combination requires a toilet-mode
// PullBuffer on the pull input side.
func modeCompatible(outputMode, inputMode Mode) (ok bool, toilet bool) {
	switch {
	case outputMode == Push && inputMode == Push:
		return true, false
	case outputMode == Pull && inputMode == Pull:
		return true, false
	case outputMode == Push && inputMode == Pull:
		return true, true
	default: // Pull output into Push input
		return false, false
	}
}

// HandleLink creates a pad entry if localRef is dynamic and not yet
// instantiated, validates mode/unit/caps compatibility against the
// peer's reported LinkInfo, stores the peer reference, and — for a
// pull input linked to a push output — creates the toilet-mode
// PullBuffer immediately, per spec.md §4.2. The PullBuffer's demand is
// addressed to peerEndpoint/peerRef, not the local pad — it is the
// upstream peer's output pad that must receive the demand.
func (t *Table) HandleLink(localRef Ref, peerEndpoint any, peerRef Ref, peer LinkInfo) (LinkResult, error) {
	p, ok := t.pads[localRef]
	if !ok {
		d, declared := t.decls[localRef.Name]
		if !declared || d.Availability != OnRequest {
			return LinkResult{}, &LinkError{Ref: localRef, Err: ErrUnknownPad}
		}
		p = newPad(d, localRef)
		t.pads[localRef] = p
		t.pending = append(t.pending, localRef)
	}

	if p.Peer != nil {
		return LinkResult{}, &LinkError{Ref: localRef, Err: ErrAlreadyLinked}
	}

	var outputMode, inputMode Mode
	if p.Direction == Output {
		outputMode, inputMode = p.Mode, peer.Mode
	} else {
		outputMode, inputMode = peer.Mode, p.Mode
	}
	ok, needsToilet := modeCompatible(outputMode, inputMode)
	if !ok {
		return LinkResult{}, &LinkError{Ref: localRef, Err: ErrModeMismatch}
	}

	if p.DemandUnit != peer.OtherDemandUnit && p.Mode == Pull {
		return LinkResult{}, &LinkError{Ref: localRef, Err: ErrUnitMismatch}
	}

	if !capsIntersect(p, peer) {
		return LinkResult{}, &LinkError{Ref: localRef, Err: ErrCapsMismatch}
	}

	p.Peer = &PeerRef{Endpoint: peerEndpoint, Ref: peerRef}
	upstream, _ := peerEndpoint.(pullbuffer.Upstream)

	result := LinkResult{Pad: p}
	if p.Direction == Input && p.Mode == Pull && p.Buffer == nil {
		if needsToilet {
			p.Buffer = pullbuffer.New(p.Ref.String(), upstream, p.Peer.Ref,
				p.DemandUnit, toiletOpts(p.decl)...)
			result.AnnouncePushMode = true
		} else {
			p.Buffer = pullbuffer.New(p.Ref.String(), upstream, p.Peer.Ref,
				p.DemandUnit, pullOpts(p.decl)...)
		}
	}
	return result, nil
}

func pullOpts(d Declaration) []pullbuffer.Option {
	var opts []pullbuffer.Option
	if d.PreferredSize > 0 {
		opts = append(opts, pullbuffer.WithPreferredSize(d.PreferredSize))
	}
	if d.MinDemand > 0 {
		opts = append(opts, pullbuffer.WithMinDemand(d.MinDemand))
	}
	return opts
}

func toiletOpts(d Declaration) []pullbuffer.Option {
	opts := pullOpts(d)
	warn, fail := d.ToiletWarn, d.ToiletFail
	if warn == 0 && fail == 0 {
		warn, fail = defaultToiletWarn, defaultToiletFail
	}
	return append(opts, pullbuffer.WithToilet(warn, fail))
}

const (
	defaultToiletWarn = 200
	defaultToiletFail = 400
)

// capsIntersect best-effort-checks that the two declared accepted_caps
// specifications can agree on at least one value. The caps DSL itself
// is out of scope (spec.md §1); when neither side has SampleCaps to
// check against, the pair is treated as compatible.
func capsIntersect(local *Pad, peer LinkInfo) bool {
	if local.AcceptedCaps == nil || peer.AcceptedCaps == nil {
		return true
	}
	if len(peer.SampleCaps) == 0 && len(local.SampleCaps) == 0 {
		return true
	}
	for _, c := range peer.SampleCaps {
		if local.AcceptedCaps.Match(c) {
			return true
		}
	}
	for _, c := range local.SampleCaps {
		if peer.AcceptedCaps.Match(c) {
			return true
		}
	}
	return false
}

// LinkingFinished signals that no more links will be added in this
// batch; callers should follow with DrainPendingAdded to emit
// handle_pad_added notifications, per spec.md §4.2.
func (t *Table) LinkingFinished() {}

// HandleUnlink clears ref's peer and buffered data. A dynamic pad is
// removed from the table entirely (its lifecycle ends with unlink);
// wasDynamic tells the caller to emit handle_pad_removed.
func (t *Table) HandleUnlink(ref Ref) (wasDynamic bool, err error) {
	p, ok := t.pads[ref]
	if !ok {
		return false, &LinkError{Ref: ref, Err: ErrUnknownPad}
	}
	if p.Peer == nil {
		return false, nil // idempotent
	}
	p.Peer = nil
	p.Buffer = nil
	p.Demand = 0

	if ref.Dynamic {
		delete(t.pads, ref)
		return true, nil
	}
	return false, nil
}

// EnableToiletIfPull switches ref's PullBuffer into toilet mode, per
// spec.md §4.2's enable_toilet_if_pull: invoked when this element
// receives a push_mode_announcement from the peer of a pull input pad.
func (t *Table) EnableToiletIfPull(ref Ref) error {
	p, ok := t.pads[ref]
	if !ok {
		return &LinkError{Ref: ref, Err: ErrUnknownPad}
	}
	if p.Direction != Input || p.Mode != Pull {
		return &LinkError{Ref: ref, Err: ErrWrongKind}
	}
	warn, fail := p.decl.ToiletWarn, p.decl.ToiletFail
	if warn == 0 && fail == 0 {
		warn, fail = defaultToiletWarn, defaultToiletFail
	}
	if p.Buffer == nil {
		return &LinkError{Ref: ref, Err: ErrNotLinked}
	}
	p.Buffer.EnableToilet(warn, fail)
	return nil
}
