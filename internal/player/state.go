// SPDX-License-Identifier: MIT

package player

// State is the orchestrator's public playback state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateBuffering
	StateError
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateError:
		return "error"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// StateChange is one observed transition on the state stream.
type StateChange struct {
	From State
	To   State
}
