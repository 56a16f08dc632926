package element

import (
	"github.com/flowmesh/core/buffer"
	"github.com/flowmesh/core/pad"
)

// control/data channel capacities. Control messages are rare and
// latency-sensitive (state changes, link handshakes); data messages are
// the common case and benefit from more slack against a momentarily
// busy element loop.
const (
	controlBuffer = 16
	dataBuffer    = 64
)

// Handle is the address of a running element: the only thing another
// element, a parent, or a test holds a reference to. It is safe to
// share across goroutines; every method just enqueues a message onto
// one of the element's two channels, per spec.md §4.1's one-goroutine
// actor model.
type Handle struct {
	name    string
	control chan ctrlMsg
	data    chan dataMsg
	closed  chan struct{}

	exitReason error // set once, before closed is closed
}

func newHandle(name string) *Handle {
	return &Handle{
		name:    name,
		control: make(chan ctrlMsg, controlBuffer),
		data:    make(chan dataMsg, dataBuffer),
		closed:  make(chan struct{}),
	}
}

// Name returns the element's name, for logging.
func (h *Handle) Name() string { return h.name }

// Dead reports whether the element's loop has exited.
func (h *Handle) Dead() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func (h *Handle) sendControl(m ctrlMsg) { h.control <- m }
func (h *Handle) sendData(m dataMsg)    { h.data <- m }

// ChangePlaybackState requests a transition toward to, per spec.md §4.1.
func (h *Handle) ChangePlaybackState(to PlaybackState) {
	h.sendControl(msgChangePlaybackState{to: to})
}

// RequestLink drives the link handshake's local half against this
// element and blocks for the result, per spec.md §4.2.
func (h *Handle) RequestLink(localRef pad.Ref, peerEndpoint any, peerRef pad.Ref, peerInfo pad.LinkInfo) (pad.LinkResult, error) {
	reply := make(chan linkReply, 1)
	h.sendControl(msgHandleLink{localRef: localRef, peerEndpoint: peerEndpoint, peerRef: peerRef, peerInfo: peerInfo, reply: reply})
	r := <-reply
	return r.result, r.err
}

// Unlink requests the link/unlink half-handshake for ref.
func (h *Handle) Unlink(ref pad.Ref) {
	h.sendControl(msgHandleUnlink{ref: ref})
}

// LinkingFinished signals that a batch of RequestLink calls is complete,
// so pending on-request pad additions can be reported.
func (h *Handle) LinkingFinished() {
	h.sendControl(msgLinkingFinished{})
}

// AnnouncePushMode tells the element that ref's peer turned out to be
// push-mode, per spec.md §4.2.
func (h *Handle) AnnouncePushMode(ref pad.Ref) {
	h.sendControl(msgPushModeAnnouncement{ref: ref})
}

// SetControllingPid/SetStreamSync wire in the parent supervisor and the
// shared sync barrier, per spec.md §4.1's entry point list.
func (h *Handle) SetControllingPid(pid any) { h.sendControl(msgSetControllingPid{pid: pid}) }
func (h *Handle) SetStreamSync(sync any)    { h.sendControl(msgSetStreamSync{sync: sync}) }

// ClockRatioUpdate notifies the element that clockID's ratio changed,
// per spec.md §4.1's entry point list.
func (h *Handle) ClockRatioUpdate(clockID string, ratio float64) {
	h.sendControl(msgClockRatioUpdate{clockID: clockID, ratio: ratio})
}

// Notify and Other deliver an out-of-band message, routed to
// Behavior.HandleOther.
func (h *Handle) Notify(msg any) { h.sendControl(msgNotification{payload: msg}) }
func (h *Handle) Other(msg any)  { h.sendControl(msgOther{payload: msg}) }

// SendBuffer, SendCaps, and SendEvent deliver data-path traffic to ref,
// per spec.md §4.1.
func (h *Handle) SendBuffer(ref pad.Ref, b buffer.Batch) { h.sendData(msgBuffer{ref: ref, batch: b}) }
func (h *Handle) SendCaps(ref pad.Ref, c any)            { h.sendData(msgCaps{ref: ref, caps: c}) }
func (h *Handle) SendEvent(ref pad.Ref, e any, sync bool) {
	h.sendData(msgEvent{ref: ref, event: e, sync: sync})
}

// SendDemand implements pullbuffer.Upstream: ref is always a pad.Ref
// produced by this package, smuggled through as any to keep pullbuffer
// free of a dependency on pad.
func (h *Handle) SendDemand(ref any, size int64) {
	padRef, _ := ref.(pad.Ref)
	h.sendData(msgDemand{ref: padRef, size: size})
}

// Monitor starts watching target: if target's loop exits before h's
// does, h receives a msgDown control message, per spec.md §4.1's
// parent-crash propagation. Intended for a parent to monitor its
// children, or vice versa.
func (h *Handle) Monitor(target *Handle) {
	go func() {
		<-target.closed
		h.sendControl(msgDown{from: target, reason: target.exitReason})
	}()
}
