package element

import "github.com/flowmesh/core/pad"

// StartOfStream and EndOfStream are the two special events of
// spec.md §4.5: core-recognized event payloads, validated by the
// runtime itself rather than by user callbacks.
type StartOfStream struct{}

type EndOfStream struct{}

// updateStreamFlags applies the monotone start_of_stream?/end_of_stream?
// invariants of spec.md §3 to p, returning a StreamProtocolError for any
// violation. Non-special events pass through untouched.
func updateStreamFlags(p *pad.Pad, event any) error {
	switch event.(type) {
	case StartOfStream:
		if p.StartOfStream {
			return &StreamProtocolError{Kind: "start_of_stream_duplicate"}
		}
		p.StartOfStream = true
	case EndOfStream:
		if !p.StartOfStream {
			return &StreamProtocolError{Kind: "sos_not_received"}
		}
		if p.EndOfStream {
			return &StreamProtocolError{Kind: "already_received"}
		}
		p.EndOfStream = true
	}
	return nil
}
