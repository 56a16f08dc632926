package element

import (
	"github.com/flowmesh/core/buffer"
	"github.com/flowmesh/core/pad"
)

// ctrlMsg is implemented by every message handled immediately
// regardless of playback state, per spec.md §4.1's dispatch policy.
type ctrlMsg interface{ isCtrl() }

// dataMsg is implemented by every message that only runs in Playing,
// and is otherwise enqueued into the PlaybackBuffer.
type dataMsg interface{ isData() }

type msgChangePlaybackState struct{ to PlaybackState }

func (msgChangePlaybackState) isCtrl() {}

type msgHandleLink struct {
	localRef     pad.Ref
	peerEndpoint any
	peerRef      pad.Ref
	peerInfo     pad.LinkInfo
	reply        chan linkReply
}

func (msgHandleLink) isCtrl() {}

type linkReply struct {
	result pad.LinkResult
	err    error
}

type msgHandleUnlink struct{ ref pad.Ref }

func (msgHandleUnlink) isCtrl() {}

type msgLinkingFinished struct{}

func (msgLinkingFinished) isCtrl() {}

type msgPushModeAnnouncement struct{ ref pad.Ref }

func (msgPushModeAnnouncement) isCtrl() {}

type msgTimerTick struct{ id string }

func (msgTimerTick) isCtrl() {}

type msgClockRatioUpdate struct {
	clockID string
	ratio   float64
}

func (msgClockRatioUpdate) isCtrl() {}

type msgSetControllingPid struct{ pid any }

func (msgSetControllingPid) isCtrl() {}

type msgSetStreamSync struct{ sync any }

func (msgSetStreamSync) isCtrl() {}

type msgNotification struct{ payload any }

func (msgNotification) isCtrl() {}

type msgDown struct {
	from   *Handle
	reason error
}

func (msgDown) isCtrl() {}

type msgShutdown struct{ reply chan struct{} }

func (msgShutdown) isCtrl() {}

type msgOther struct{ payload any }

func (msgOther) isCtrl() {}

// Data-path messages, per spec.md §4.1.

type msgBuffer struct {
	ref   pad.Ref
	batch buffer.Batch
}

func (msgBuffer) isData() {}

type msgCaps struct {
	ref  pad.Ref
	caps any
}

func (msgCaps) isData() {}

type msgEvent struct {
	ref   pad.Ref
	event any
	sync  bool
}

func (msgEvent) isData() {}

type msgDemand struct {
	ref  pad.Ref
	size int64
}

func (msgDemand) isData() {}
