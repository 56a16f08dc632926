package element

import "fmt"

// PlaybackState is the coarse lifecycle phase of spec.md §3.
type PlaybackState int

const (
	Stopped PlaybackState = iota
	Prepared
	Playing
)

func (s PlaybackState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Prepared:
		return "prepared"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// transition identifies one adjacent playback transition and the
// Behavior callback that performs it, per spec.md §4.1's table.
type transition struct {
	from, to PlaybackState
}

// nextTransition returns the single adjacent transition from current
// toward target, or ok=false if current already equals target.
// Transitions are adjacent only (stopped<->prepared<->playing); the
// runtime walks one hop at a time until current reaches target.
func nextTransition(current, target PlaybackState) (transition, bool) {
	if current == target {
		return transition{}, false
	}
	if target > current {
		return transition{from: current, to: current + 1}, true
	}
	return transition{from: current, to: current - 1}, true
}

// String renders the transition as "from->to", for logging.
func (t transition) String() string {
	return fmt.Sprintf("%s->%s", t.from, t.to)
}
